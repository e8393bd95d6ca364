// Package assembly turns an uploaded recording into a finished episode.
//
// Short recordings are processed inline. Long recordings are split into
// chunks that are dispatched to chunk workers through the task queue; the run
// then polls per-chunk completion markers in the durable store, reassembles
// the outputs in index order and verifies the result before the shared finish
// step (edit, mix, store) runs.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"podcast-assembler/internal/audio"
	"podcast-assembler/internal/logging"
	"podcast-assembler/internal/models"
	"podcast-assembler/internal/storage"
	"podcast-assembler/pkg/tasks"
)

// Processor is the audio toolkit. *audio.FFmpeg implements it.
type Processor interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
	Extract(ctx context.Context, src, dst string, start, length time.Duration) error
	Concat(ctx context.Context, parts []string, dst string) error
	Edit(ctx context.Context, src, dst string, cuts []audio.Cut) error
	Mix(ctx context.Context, dst string, plan audio.MixPlan) error
}

// Storage is the durable store. *storage.Resolver implements it.
type Storage interface {
	FetchSource(ctx context.Context, name, dst string) error
	Download(ctx context.Context, key, dst string) error
	Upload(ctx context.Context, key, path string) error
	WriteMarker(ctx context.Context, key string, v any) error
	ReadMarker(ctx context.Context, key string, v any) (bool, error)
	StoreArtifact(ctx context.Context, staged, key string) (storage.Stored, error)
}

// Dispatcher hands callbacks to the task queue. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Enqueue(ctx context.Context, targetPath string, payload any) (string, error)
}

// TemplateSource looks up mix templates. *db.Store implements it.
type TemplateSource interface {
	GetTemplate(ctx context.Context, id string) (models.Template, error)
}

// MarkerSource supplies the spans removed from an episode body, such as
// filler words and voice commands found by transcription.
type MarkerSource interface {
	Cuts(ctx context.Context, episodeID string) ([]audio.Cut, error)
}

// Config tunes the orchestrator.
type Config struct {
	ChunkThreshold    time.Duration
	ChunkLength       time.Duration
	ChunkTimeout      time.Duration
	TotalTimeout      time.Duration
	PollInterval      time.Duration
	DurationTolerance time.Duration
	WorkDir           string
	InlineFallback    bool
}

func (c *Config) setDefaults() {
	if c.ChunkThreshold <= 0 {
		c.ChunkThreshold = 30 * time.Minute
	}
	if c.ChunkLength <= 0 {
		c.ChunkLength = 10 * time.Minute
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = 20 * time.Minute
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = 90 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.DurationTolerance <= 0 {
		c.DurationTolerance = 250 * time.Millisecond
	}
}

// Job is the plain input of a run, copied out of the episode row.
type Job struct {
	EpisodeID  string
	RunID      string
	SourceName string
	TemplateID string
	OwnerID    string
}

// Result describes a finished artifact.
type Result struct {
	Location  string
	Ephemeral bool
	ByteSize  int64
	Duration  time.Duration
	Chunked   bool
	Chunks    int
}

// Orchestrator runs assemblies and chunk tasks.
type Orchestrator struct {
	cfg       Config
	proc      Processor
	store     Storage
	dispatch  Dispatcher
	templates TemplateSource
	markers   MarkerSource
	now       func() time.Time
	log       *slog.Logger
}

// New returns an Orchestrator. templates and markers may be nil.
func New(cfg Config, proc Processor, store Storage, dispatch Dispatcher, templates TemplateSource, markers MarkerSource, logger *slog.Logger) *Orchestrator {
	cfg.setDefaults()
	return &Orchestrator{
		cfg:       cfg,
		proc:      proc,
		store:     store,
		dispatch:  dispatch,
		templates: templates,
		markers:   markers,
		now:       time.Now,
		log:       logging.OrDiscard(logger).With("component", "assembly"),
	}
}

// Run assembles job end to end and returns the stored artifact.
func (o *Orchestrator) Run(ctx context.Context, job Job) (Result, error) {
	if job.RunID == "" {
		job.RunID = uuid.NewString()
	}
	log := o.log.With("episode_id", job.EpisodeID, "run_id", job.RunID)

	dir, err := os.MkdirTemp(o.cfg.WorkDir, "assembly-")
	if err != nil {
		return Result{}, fmt.Errorf("work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "source"+filepath.Ext(job.SourceName))
	if err := o.store.FetchSource(ctx, job.SourceName, src); err != nil {
		return Result{}, fmt.Errorf("fetch source %s: %w", job.SourceName, err)
	}
	total, err := o.proc.Duration(ctx, src)
	if err != nil {
		return Result{}, fmt.Errorf("measure source: %w", err)
	}

	body, chunks := src, 0
	if total > o.cfg.ChunkThreshold {
		log.Info("assembling in chunks", "duration", total, "chunk_length", o.cfg.ChunkLength)
		joined, n, err := o.runChunked(ctx, job, dir, total)
		var derr *DispatchError
		switch {
		case errors.As(err, &derr) && o.cfg.InlineFallback:
			log.Warn("chunk dispatch failed, falling back to inline processing", "chunk", derr.Index, "error", derr.Err)
		case err != nil:
			return Result{}, err
		default:
			body, chunks = joined, n
		}
	} else {
		log.Info("assembling inline", "duration", total)
	}

	res, err := o.finish(ctx, job, dir, body)
	if err != nil {
		return Result{}, err
	}
	res.Chunked, res.Chunks = chunks > 0, chunks
	log.Info("assembly finished", "location", res.Location, "duration", res.Duration, "bytes", res.ByteSize, "chunks", chunks)
	return res, nil
}

func (o *Orchestrator) runChunked(ctx context.Context, job Job, dir string, total time.Duration) (string, int, error) {
	plan := PlanChunks(total, o.cfg.ChunkLength)
	deadlines := make([]time.Time, len(plan))
	for _, c := range plan {
		idx := c.Index
		payload := tasks.JobPayload{
			EpisodeID:       job.EpisodeID,
			RunID:           job.RunID,
			ChunkIndex:      &idx,
			StartMS:         c.Start.Milliseconds(),
			LengthMS:        c.Length.Milliseconds(),
			SourceReference: job.SourceName,
			TemplateID:      job.TemplateID,
			OwnerID:         job.OwnerID,
		}
		if _, err := o.dispatch.Enqueue(ctx, tasks.PathProcessChunk, payload); err != nil {
			return "", 0, &DispatchError{Index: c.Index, Err: err}
		}
		deadlines[c.Index] = o.now().Add(o.cfg.ChunkTimeout)
	}

	markers, err := o.await(ctx, job, deadlines)
	if err != nil {
		return "", 0, err
	}

	parts := make([]string, len(markers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, m := range markers {
		i, m := i, m
		parts[i] = filepath.Join(dir, fmt.Sprintf("chunk-%04d.mp3", i))
		g.Go(func() error {
			return o.store.Download(gctx, m.OutputKey, parts[i])
		})
	}
	if err := g.Wait(); err != nil {
		return "", 0, fmt.Errorf("download chunks: %w", err)
	}

	var sum time.Duration
	for _, m := range markers {
		sum += time.Duration(m.DurationMS) * time.Millisecond
	}
	if err := o.verify(total, sum); err != nil {
		return "", 0, err
	}

	joined := filepath.Join(dir, "joined.mp3")
	if err := o.proc.Concat(ctx, parts, joined); err != nil {
		return "", 0, fmt.Errorf("concat chunks: %w", err)
	}
	got, err := o.proc.Duration(ctx, joined)
	if err != nil {
		return "", 0, fmt.Errorf("measure reassembled audio: %w", err)
	}
	if err := o.verify(total, got); err != nil {
		return "", 0, err
	}
	return joined, len(markers), nil
}

func (o *Orchestrator) verify(expected, actual time.Duration) error {
	diff := expected - actual
	if diff < 0 {
		diff = -diff
	}
	if diff > o.cfg.DurationTolerance {
		return &IntegrityError{Expected: expected, Actual: actual, Tolerance: o.cfg.DurationTolerance}
	}
	return nil
}

// await polls chunk markers until all are done, one has failed, a chunk
// passes its deadline or the total wait is exhausted.
func (o *Orchestrator) await(ctx context.Context, job Job, deadlines []time.Time) ([]ChunkMarker, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.TotalTimeout)
	defer cancel()

	markers := make([]ChunkMarker, len(deadlines))
	done := make([]bool, len(deadlines))
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var overdue []int
		remaining := 0
		for i := range deadlines {
			if done[i] {
				continue
			}
			var m ChunkMarker
			found, err := o.store.ReadMarker(ctx, MarkerKey(job.EpisodeID, job.RunID, i), &m)
			if err != nil && ctx.Err() == nil {
				o.log.Warn("read chunk marker", "episode_id", job.EpisodeID, "chunk", i, "error", err)
			}
			if found {
				if m.Status == ChunkFailed {
					return nil, &ChunkFailedError{Index: i, Reason: m.Error}
				}
				done[i], markers[i] = true, m
				continue
			}
			remaining++
			if o.now().After(deadlines[i]) {
				overdue = append(overdue, i)
			}
		}
		if remaining == 0 {
			return markers, nil
		}
		if len(overdue) > 0 {
			return nil, timeoutError(done, nil)
		}

		select {
		case <-ctx.Done():
			return nil, timeoutError(done, ctx.Err())
		case <-ticker.C:
		}
	}
}

func timeoutError(done []bool, err error) *ChunkTimeoutError {
	e := &ChunkTimeoutError{Err: err}
	for i, ok := range done {
		if ok {
			e.Completed = append(e.Completed, i)
		} else {
			e.Pending = append(e.Pending, i)
		}
	}
	return e
}

// finish edits, mixes and stores body. Inline and chunked runs share it, so
// both produce the same structure.
func (o *Orchestrator) finish(ctx context.Context, job Job, dir, body string) (Result, error) {
	var cuts []audio.Cut
	if o.markers != nil {
		var err error
		cuts, err = o.markers.Cuts(ctx, job.EpisodeID)
		if err != nil {
			return Result{}, fmt.Errorf("load edit markers: %w", err)
		}
		sort.Slice(cuts, func(i, j int) bool { return cuts[i].Start < cuts[j].Start })
	}
	edited := filepath.Join(dir, "edited.mp3")
	if err := o.proc.Edit(ctx, body, edited, cuts); err != nil {
		return Result{}, fmt.Errorf("apply edits: %w", err)
	}

	plan, err := o.mixPlan(ctx, job, dir)
	if err != nil {
		return Result{}, err
	}
	plan.Body = edited
	final := filepath.Join(dir, "final.mp3")
	if err := o.proc.Mix(ctx, final, plan); err != nil {
		return Result{}, fmt.Errorf("mix: %w", err)
	}
	dur, err := o.proc.Duration(ctx, final)
	if err != nil {
		return Result{}, fmt.Errorf("measure final audio: %w", err)
	}

	stored, err := o.store.StoreArtifact(ctx, final, ArtifactKey(job.EpisodeID, job.RunID))
	if err != nil {
		return Result{}, err
	}
	return Result{Location: stored.Location, Ephemeral: stored.Ephemeral, ByteSize: stored.Size, Duration: dur}, nil
}

func (o *Orchestrator) mixPlan(ctx context.Context, job Job, dir string) (audio.MixPlan, error) {
	var plan audio.MixPlan
	if job.TemplateID == "" || o.templates == nil {
		return plan, nil
	}
	tmpl, err := o.templates.GetTemplate(ctx, job.TemplateID)
	if err != nil {
		return plan, fmt.Errorf("load template %s: %w", job.TemplateID, err)
	}

	n := 0
	fetch := func(key string) (string, error) {
		dst := filepath.Join(dir, fmt.Sprintf("asset-%02d%s", n, filepath.Ext(key)))
		n++
		if err := o.store.Download(ctx, key, dst); err != nil {
			return "", fmt.Errorf("fetch template asset %s: %w", key, err)
		}
		return dst, nil
	}
	if tmpl.IntroKey != nil {
		if plan.Intro, err = fetch(*tmpl.IntroKey); err != nil {
			return plan, err
		}
	}
	for _, key := range tmpl.TTSKeys {
		p, err := fetch(key)
		if err != nil {
			return plan, err
		}
		plan.TTS = append(plan.TTS, p)
	}
	if tmpl.OutroKey != nil {
		if plan.Outro, err = fetch(*tmpl.OutroKey); err != nil {
			return plan, err
		}
	}
	if tmpl.MusicKey != nil {
		if plan.Music, err = fetch(*tmpl.MusicKey); err != nil {
			return plan, err
		}
		plan.MusicVolume = tmpl.MusicVolume
	}
	return plan, nil
}
