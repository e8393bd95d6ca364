package assembly

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"podcast-assembler/pkg/tasks"
)

// Chunk marker states.
const (
	ChunkDone   = "done"
	ChunkFailed = "failed"
)

// Chunk is one planned slice of the source.
type Chunk struct {
	Index  int
	Start  time.Duration
	Length time.Duration
}

// PlanChunks splits total into consecutive chunks of length. The last chunk
// carries the remainder.
func PlanChunks(total, length time.Duration) []Chunk {
	if total <= 0 || length <= 0 {
		return nil
	}
	var chunks []Chunk
	for start := time.Duration(0); start < total; start += length {
		n := length
		if start+n > total {
			n = total - start
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Start: start, Length: n})
	}
	return chunks
}

// ChunkMarker is the completion record a chunk worker leaves in the durable
// store. Writing the same marker twice yields the same object.
type ChunkMarker struct {
	Index       int       `json:"index"`
	Status      string    `json:"status"`
	OutputKey   string    `json:"output_key,omitempty"`
	DurationMS  int64     `json:"duration_ms,omitempty"`
	ByteSize    int64     `json:"byte_size,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

func runPrefix(episodeID, runID string) string {
	return fmt.Sprintf("episodes/%s/runs/%s/", episodeID, runID)
}

// MarkerKey is the durable key of a chunk's completion marker.
func MarkerKey(episodeID, runID string, index int) string {
	return fmt.Sprintf("%schunks/%04d.json", runPrefix(episodeID, runID), index)
}

// ChunkOutputKey is the durable key of a chunk's processed audio.
func ChunkOutputKey(episodeID, runID string, index int) string {
	return fmt.Sprintf("%schunks/%04d.mp3", runPrefix(episodeID, runID), index)
}

// ArtifactKey is the durable key of a run's finished episode.
func ArtifactKey(episodeID, runID string) string {
	return fmt.Sprintf("episodes/%s/final-%s.mp3", episodeID, runID)
}

// Attempt describes the delivery attempt of a chunk task.
type Attempt struct {
	Retry    int
	MaxRetry int
}

// Final reports whether no further redelivery will happen.
func (a Attempt) Final() bool {
	return a.Retry >= a.MaxRetry
}

// ProcessChunk renders one chunk and records its marker. A chunk that already
// has a done marker is left alone, so redelivery is harmless. When the last
// attempt fails a failed marker is written so the waiting run stops early.
func (o *Orchestrator) ProcessChunk(ctx context.Context, p tasks.JobPayload, at Attempt) error {
	if p.ChunkIndex == nil || p.RunID == "" || p.EpisodeID == "" || p.LengthMS <= 0 {
		return errors.New("chunk payload: episode_id, run_id, chunk_index and length_ms are required")
	}
	index := *p.ChunkIndex
	key := MarkerKey(p.EpisodeID, p.RunID, index)
	log := o.log.With("episode_id", p.EpisodeID, "run_id", p.RunID, "chunk", index, "retry", at.Retry)

	var existing ChunkMarker
	found, err := o.store.ReadMarker(ctx, key, &existing)
	if err != nil {
		return err
	}
	if found && existing.Status == ChunkDone {
		log.Info("chunk already done")
		return nil
	}

	marker, err := o.renderChunk(ctx, p, index)
	if err != nil {
		log.Error("chunk failed", "error", err, "final", at.Final())
		if at.Final() {
			failed := ChunkMarker{Index: index, Status: ChunkFailed, Error: err.Error(), CompletedAt: o.now().UTC()}
			if werr := o.store.WriteMarker(context.WithoutCancel(ctx), key, failed); werr != nil {
				return errors.Join(err, werr)
			}
		}
		return err
	}

	if err := o.store.WriteMarker(ctx, key, marker); err != nil {
		return err
	}
	log.Info("chunk done", "duration_ms", marker.DurationMS, "bytes", marker.ByteSize)
	return nil
}

func (o *Orchestrator) renderChunk(ctx context.Context, p tasks.JobPayload, index int) (ChunkMarker, error) {
	dir, err := os.MkdirTemp(o.cfg.WorkDir, "chunk-")
	if err != nil {
		return ChunkMarker{}, err
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "source"+filepath.Ext(p.SourceReference))
	if err := o.store.FetchSource(ctx, p.SourceReference, src); err != nil {
		return ChunkMarker{}, fmt.Errorf("fetch source: %w", err)
	}
	out := filepath.Join(dir, fmt.Sprintf("%04d.mp3", index))
	start := time.Duration(p.StartMS) * time.Millisecond
	length := time.Duration(p.LengthMS) * time.Millisecond
	if err := o.proc.Extract(ctx, src, out, start, length); err != nil {
		return ChunkMarker{}, fmt.Errorf("extract: %w", err)
	}
	dur, err := o.proc.Duration(ctx, out)
	if err != nil {
		return ChunkMarker{}, err
	}
	info, err := os.Stat(out)
	if err != nil {
		return ChunkMarker{}, err
	}

	outKey := ChunkOutputKey(p.EpisodeID, p.RunID, index)
	if err := o.store.Upload(ctx, outKey, out); err != nil {
		return ChunkMarker{}, fmt.Errorf("upload chunk: %w", err)
	}
	return ChunkMarker{
		Index:       index,
		Status:      ChunkDone,
		OutputKey:   outKey,
		DurationMS:  dur.Milliseconds(),
		ByteSize:    info.Size(),
		CompletedAt: o.now().UTC(),
	}, nil
}
