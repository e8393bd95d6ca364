package assembly

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcast-assembler/pkg/tasks"
)

func TestPlanChunks(t *testing.T) {
	chunks := PlanChunks(90*time.Minute, 10*time.Minute)
	require.Len(t, chunks, 9)
	assert.Equal(t, Chunk{Index: 8, Start: 80 * time.Minute, Length: 10 * time.Minute}, chunks[8])

	chunks = PlanChunks(25*time.Minute, 10*time.Minute)
	require.Len(t, chunks, 3)
	assert.Equal(t, 5*time.Minute, chunks[2].Length)

	assert.Nil(t, PlanChunks(0, time.Minute))
	assert.Nil(t, PlanChunks(time.Minute, 0))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "episodes/ep-1/runs/run-1/chunks/0007.json", MarkerKey("ep-1", "run-1", 7))
	assert.Equal(t, "episodes/ep-1/runs/run-1/chunks/0007.mp3", ChunkOutputKey("ep-1", "run-1", 7))
	assert.Equal(t, "episodes/ep-1/final-run-1.mp3", ArtifactKey("ep-1", "run-1"))
}

func TestAttemptFinal(t *testing.T) {
	assert.True(t, Attempt{}.Final())
	assert.False(t, Attempt{Retry: 1, MaxRetry: 3}.Final())
	assert.True(t, Attempt{Retry: 3, MaxRetry: 3}.Final())
}

func chunkPayload(index int) tasks.JobPayload {
	return tasks.JobPayload{
		EpisodeID:       "ep-1",
		RunID:           "run-1",
		ChunkIndex:      &index,
		StartMS:         int64(index) * 600000,
		LengthMS:        600000,
		SourceReference: "rec.wav",
	}
}

func TestProcessChunkIsIdempotent(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	f.putSource(t, "rec.wav", 35*time.Minute)
	ctx := context.Background()

	require.NoError(t, f.orch.ProcessChunk(ctx, chunkPayload(3), Attempt{}))
	require.NoError(t, f.orch.ProcessChunk(ctx, chunkPayload(3), Attempt{}))

	assert.Equal(t, 1, f.proc.extractCount())
	var m ChunkMarker
	found, err := f.resolver.ReadMarker(ctx, MarkerKey("ep-1", "run-1", 3), &m)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ChunkDone, m.Status)
	// The last chunk is clamped to the end of the source.
	assert.Equal(t, int64(5*60*1000), m.DurationMS)
	assert.Equal(t, ChunkOutputKey("ep-1", "run-1", 3), m.OutputKey)
}

func TestProcessChunkWritesFailedMarkerOnFinalAttempt(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	f.putSource(t, "rec.wav", 35*time.Minute)
	f.proc.failAt = map[int64]bool{600000: true}
	ctx := context.Background()
	key := MarkerKey("ep-1", "run-1", 1)

	err := f.orch.ProcessChunk(ctx, chunkPayload(1), Attempt{Retry: 0, MaxRetry: 2})
	require.Error(t, err)
	var m ChunkMarker
	found, err := f.resolver.ReadMarker(ctx, key, &m)
	require.NoError(t, err)
	assert.False(t, found, "retries remain, no marker yet")

	err = f.orch.ProcessChunk(ctx, chunkPayload(1), Attempt{Retry: 2, MaxRetry: 2})
	require.Error(t, err)
	found, err = f.resolver.ReadMarker(ctx, key, &m)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ChunkFailed, m.Status)
	assert.Contains(t, m.Error, "decoder error")
}

func TestProcessChunkRejectsIncompletePayload(t *testing.T) {
	f := newFixture(t, testConfig(), nil, nil)
	p := chunkPayload(0)
	p.ChunkIndex = nil
	assert.Error(t, f.orch.ProcessChunk(context.Background(), p, Attempt{}))
}

func withRun(p tasks.JobPayload, episodeID, runID string) tasks.JobPayload {
	p.EpisodeID, p.RunID = episodeID, runID
	return p
}
