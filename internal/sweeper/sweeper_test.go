package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcast-assembler/internal/models"
	"podcast-assembler/internal/test"
)

var now = time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)

type blobRecorder struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (b *blobRecorder) DeleteSource(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.deleted = append(b.deleted, name)
	return nil
}

func newSweeper(store *test.MemoryStore, blobs Blobs, reg prometheus.Registerer) *Sweeper {
	s := New(store, blobs, 0, nil, reg)
	s.now = func() time.Time { return now }
	return s
}

func source(id string, age time.Duration) models.UploadedSource {
	return models.UploadedSource{ID: id, OwnerID: "owner-1", Name: id + ".wav", Category: models.CategoryPrimaryRecording, CreatedAt: now.Add(-age)}
}

func referencing(id, sourceName string, status models.Status) models.Episode {
	return models.Episode{ID: id, Status: status, WorkingAudioName: &sourceName}
}

func TestSweepNeverRemovesYoungSources(t *testing.T) {
	store := test.NewMemoryStore()
	for i, status := range []models.Status{models.StatusProcessed, models.StatusPublished, ""} {
		src := source(fmt.Sprintf("young-%d", i), 23*time.Hour+59*time.Minute)
		store.PutSource(src)
		if status != "" {
			store.PutEpisode(referencing(fmt.Sprintf("ep-%d", i), src.Name, status))
		}
	}
	blobs := &blobRecorder{}

	st, err := newSweeper(store, blobs, nil).Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Stats{Checked: 3, SkippedTooYoung: 3}, st)
	assert.Empty(t, blobs.deleted)
}

func TestSweepProtectsSourcesNeededForRetry(t *testing.T) {
	store := test.NewMemoryStore()
	for _, status := range []models.Status{models.StatusPending, models.StatusProcessing, models.StatusError} {
		src := source("src-"+string(status), 30*24*time.Hour)
		store.PutSource(src)
		store.PutEpisode(referencing("ep-"+string(status), src.Name, models.StatusPublished))
		store.PutEpisode(referencing("ep2-"+string(status), src.Name, status))
	}
	blobs := &blobRecorder{}

	st, err := newSweeper(store, blobs, nil).Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Stats{Checked: 3, SkippedInUse: 3}, st)
	assert.Empty(t, blobs.deleted)
}

func TestSweepRemovesFinishedSources(t *testing.T) {
	store := test.NewMemoryStore()
	done := source("done", 48*time.Hour)
	orphan := source("orphan", 48*time.Hour)
	store.PutSource(done)
	store.PutSource(orphan)
	store.PutEpisode(referencing("ep-1", done.Name, models.StatusProcessed))
	store.PutEpisode(referencing("ep-2", done.Name, models.StatusPublished))
	blobs := &blobRecorder{}
	reg := prometheus.NewRegistry()
	s := newSweeper(store, blobs, reg)

	st, err := s.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Stats{Checked: 2, Removed: 2}, st)
	assert.ElementsMatch(t, []string{"done.wav", "orphan.wav"}, blobs.deleted)
	assert.False(t, store.HasSource("done"))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.outcomes.WithLabelValues("removed")))

	// A second pass finds nothing left to do.
	st, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)
}

func TestSweepTreatsUncertaintyAsInUse(t *testing.T) {
	store := test.NewMemoryStore()
	odd := source("odd", 48*time.Hour)
	store.PutSource(odd)
	store.PutEpisode(referencing("ep-1", odd.Name, models.Status("archived")))
	music := source("music", 48*time.Hour)
	music.Category = models.CategoryMusic
	store.PutSource(music)
	blobs := &blobRecorder{}

	st, err := newSweeper(store, blobs, nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Checked: 2, SkippedInUse: 2}, st)

	store = test.NewMemoryStore()
	store.PutSource(source("any", 48*time.Hour))
	store.StatusErr = errors.New("connection reset")

	st, err = newSweeper(store, blobs, nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Checked: 1, SkippedInUse: 1}, st)
	assert.Empty(t, blobs.deleted)
}

func TestSweepKeepsRowWhenBlobDeleteFails(t *testing.T) {
	store := test.NewMemoryStore()
	store.PutSource(source("stuck", 48*time.Hour))
	blobs := &blobRecorder{err: errors.New("permission denied")}

	st, err := newSweeper(store, blobs, nil).Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Stats{Checked: 1, Failed: 1}, st)
	assert.True(t, store.HasSource("stuck"))
}

func TestMinAgeCannotBeLowered(t *testing.T) {
	s := New(test.NewMemoryStore(), &blobRecorder{}, time.Hour, nil, nil)
	assert.Equal(t, DefaultMinAge, s.minAge)
}
