package assembly

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"podcast-assembler/internal/episode"
	"podcast-assembler/internal/logging"
	"podcast-assembler/internal/models"
	"podcast-assembler/pkg/tasks"
)

// Service ties a run to the episode lifecycle.
type Service struct {
	machine *episode.Machine
	orch    *Orchestrator
	log     *slog.Logger
}

func NewService(machine *episode.Machine, orch *Orchestrator, logger *slog.Logger) *Service {
	return &Service{machine: machine, orch: orch, log: logging.OrDiscard(logger).With("component", "assembly")}
}

// ProcessChunk renders one chunk of a run. See Orchestrator.ProcessChunk.
func (s *Service) ProcessChunk(ctx context.Context, p tasks.JobPayload, at Attempt) error {
	return s.orch.ProcessChunk(ctx, p, at)
}

// Assemble moves a pending episode through processing and records the
// outcome. A failed run leaves the episode in error with its source intact.
func (s *Service) Assemble(ctx context.Context, id string) (models.Episode, error) {
	runID := uuid.NewString()
	ep, err := s.machine.Begin(ctx, id, runID)
	if err != nil {
		return models.Episode{}, err
	}
	job := Job{
		EpisodeID:  ep.ID,
		RunID:      runID,
		SourceName: ep.SourceName(),
		TemplateID: ep.Template(),
		OwnerID:    ep.OwnerID,
	}

	res, runErr := s.orch.Run(ctx, job)
	// Record the outcome even if ctx has expired.
	bg := context.WithoutCancel(ctx)
	if runErr != nil {
		if _, err := s.machine.Fail(bg, id, runID, runErr); err != nil {
			if errors.Is(err, episode.ErrStaleRun) {
				s.log.Warn("run superseded, failure discarded", "episode_id", id, "run_id", runID, "run_error", runErr)
			} else {
				s.log.Error("record failure", "episode_id", id, "run_id", runID, "run_error", runErr, "error", err)
			}
			return models.Episode{}, errors.Join(runErr, err)
		}
		return models.Episode{}, runErr
	}

	done, err := s.machine.Complete(bg, id, runID, episode.Artifact{
		Location:  res.Location,
		Ephemeral: res.Ephemeral,
		ByteSize:  res.ByteSize,
		Duration:  res.Duration,
	})
	if err != nil {
		if errors.Is(err, episode.ErrInvalidTransition) {
			s.log.Warn("episode changed during assembly, output discarded", "episode_id", id, "run_id", runID, "location", res.Location)
		}
		return models.Episode{}, err
	}
	return done, nil
}
