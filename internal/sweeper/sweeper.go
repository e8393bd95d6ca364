// Package sweeper removes uploaded recordings that are no longer needed.
//
// A source is removed only when it is older than the minimum age and no
// episode that may still need it for a retry references it. Anything the
// sweeper cannot classify with certainty is treated as in use.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"podcast-assembler/internal/logging"
	"podcast-assembler/internal/metrics"
	"podcast-assembler/internal/models"
)

// DefaultMinAge is the youngest a source can be and still be removed.
const DefaultMinAge = 24 * time.Hour

// Store lists sources and the episodes referencing them. *db.Store implements it.
type Store interface {
	ListSources(ctx context.Context) ([]models.UploadedSource, error)
	EpisodeStatusesBySource(ctx context.Context, name string) ([]models.Status, error)
	DeleteSource(ctx context.Context, id string) error
}

// Blobs deletes source objects. *storage.Resolver implements it.
type Blobs interface {
	DeleteSource(ctx context.Context, name string) error
}

// Stats summarises one sweep.
type Stats struct {
	Checked         int `json:"checked"`
	Removed         int `json:"removed"`
	SkippedInUse    int `json:"skipped_in_use"`
	SkippedTooYoung int `json:"skipped_too_young"`
	Failed          int `json:"failed"`
}

type Sweeper struct {
	store    Store
	blobs    Blobs
	minAge   time.Duration
	now      func() time.Time
	log      *slog.Logger
	outcomes *prometheus.CounterVec
}

// New returns a Sweeper. A minAge below DefaultMinAge is raised to it.
func New(store Store, blobs Blobs, minAge time.Duration, logger *slog.Logger, reg prometheus.Registerer) *Sweeper {
	if minAge < DefaultMinAge {
		minAge = DefaultMinAge
	}
	return &Sweeper{
		store:  store,
		blobs:  blobs,
		minAge: minAge,
		now:    time.Now,
		log:    logging.OrDiscard(logger).With("component", "sweeper"),
		outcomes: metrics.CounterVec(reg, prometheus.CounterOpts{
			Subsystem: "sweeper",
			Name:      "sources_total",
			Help:      "Uploaded sources examined by the retention sweeper, by outcome.",
		}, "outcome"),
	}
}

// Sweep runs one pass over every uploaded source. Running it again right
// away is harmless.
func (s *Sweeper) Sweep(ctx context.Context) (Stats, error) {
	sources, err := s.store.ListSources(ctx)
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	now := s.now()
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			s.report(st)
			return st, err
		}
		st.Checked++
		log := s.log.With("source_id", src.ID, "name", src.Name)

		if now.Sub(src.CreatedAt) < s.minAge {
			st.SkippedTooYoung++
			s.outcomes.WithLabelValues("skipped_too_young").Inc()
			continue
		}
		if inUse, reason := s.inUse(ctx, src); inUse {
			log.Debug("source kept", "reason", reason)
			st.SkippedInUse++
			s.outcomes.WithLabelValues("skipped_in_use").Inc()
			continue
		}

		if err := s.remove(ctx, src); err != nil {
			log.Error("remove source", "error", err)
			st.Failed++
			s.outcomes.WithLabelValues("failed").Inc()
			continue
		}
		log.Info("source removed", "age", now.Sub(src.CreatedAt).Round(time.Minute))
		st.Removed++
		s.outcomes.WithLabelValues("removed").Inc()
	}
	s.report(st)
	return st, nil
}

func (s *Sweeper) inUse(ctx context.Context, src models.UploadedSource) (bool, string) {
	// Only primary recordings are tied to episode lifecycles. Other uploads
	// back templates and are kept.
	if src.Category != models.CategoryPrimaryRecording {
		return true, "category " + src.Category
	}
	statuses, err := s.store.EpisodeStatusesBySource(ctx, src.Name)
	if err != nil {
		return true, fmt.Sprintf("status lookup failed: %v", err)
	}
	for _, st := range statuses {
		switch st {
		case models.StatusPending, models.StatusProcessing, models.StatusError:
			return true, "referenced by " + string(st) + " episode"
		case models.StatusProcessed, models.StatusPublished:
		default:
			return true, "unknown status " + string(st)
		}
	}
	return false, ""
}

// remove deletes the blob, then the row.
func (s *Sweeper) remove(ctx context.Context, src models.UploadedSource) error {
	if err := s.blobs.DeleteSource(ctx, src.Name); err != nil {
		return err
	}
	return s.store.DeleteSource(ctx, src.ID)
}

func (s *Sweeper) report(st Stats) {
	s.log.Info("sweep finished",
		"checked", st.Checked,
		"removed", st.Removed,
		"skipped_in_use", st.SkippedInUse,
		"skipped_too_young", st.SkippedTooYoung,
		"failed", st.Failed)
}
