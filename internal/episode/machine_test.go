package episode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcast-assembler/internal/db"
	"podcast-assembler/internal/models"
	"podcast-assembler/internal/test"
)

type sourceSet map[string]bool

func (s sourceSet) SourceExists(ctx context.Context, name string) (bool, error) {
	return s[name], nil
}

func strptr(s string) *string { return &s }

func newMachine(t *testing.T, status models.Status) (*Machine, *test.MemoryStore) {
	t.Helper()
	store := test.NewMemoryStore()
	ep := models.Episode{ID: "ep-1", OwnerID: "owner-1", Status: status, WorkingAudioName: strptr("rec.wav")}
	if status == models.StatusProcessing {
		ep.RunID = strptr("run-1")
	}
	store.PutEpisode(ep)
	return NewMachine(store, sourceSet{"rec.wav": true}, nil), store
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(models.StatusPending, models.StatusProcessing))
	assert.True(t, CanTransition(models.StatusProcessing, models.StatusProcessed))
	assert.True(t, CanTransition(models.StatusProcessing, models.StatusError))
	assert.True(t, CanTransition(models.StatusProcessed, models.StatusPublished))
	assert.True(t, CanTransition(models.StatusError, models.StatusPending))

	assert.False(t, CanTransition(models.StatusPublished, models.StatusPending))
	assert.False(t, CanTransition(models.StatusProcessed, models.StatusPending))
	assert.False(t, CanTransition(models.StatusError, models.StatusProcessing))
	assert.False(t, CanTransition(models.StatusPending, models.StatusProcessed))
}

func TestBeginRequiresSource(t *testing.T) {
	store := test.NewMemoryStore()
	store.PutEpisode(models.Episode{ID: "ep-1", Status: models.StatusPending, WorkingAudioName: strptr("gone.wav")})
	store.PutEpisode(models.Episode{ID: "ep-2", Status: models.StatusPending})
	m := NewMachine(store, sourceSet{}, nil)

	_, err := m.Begin(context.Background(), "ep-1", "run-1")
	assert.ErrorIs(t, err, ErrSourceMissing)
	_, err = m.Begin(context.Background(), "ep-2", "run-1")
	assert.ErrorIs(t, err, ErrSourceMissing)

	// The request fails, the episode does not.
	ep, _ := store.GetEpisode(context.Background(), "ep-1")
	assert.Equal(t, models.StatusPending, ep.Status)
	assert.Zero(t, store.Transitions)
}

func TestHappyPathLifecycle(t *testing.T) {
	m, _ := newMachine(t, models.StatusPending)
	ctx := context.Background()

	ep, err := m.Begin(ctx, "ep-1", "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, ep.Status)
	assert.Equal(t, "run-1", ep.CurrentRun())

	ep, err = m.Complete(ctx, "ep-1", "run-1", Artifact{Location: "gs://media/episodes/ep-1/final.mp3", ByteSize: 4096, Duration: 2 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, ep.Status)
	require.NotNil(t, ep.DurationMS)
	assert.Equal(t, int64(120000), *ep.DurationMS)
	require.NotNil(t, ep.DurableAudioLocation)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ep, err = m.Publish(ctx, "ep-1", at, strptr("https://host.example.com/ep-1.mp3"), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, ep.Status)
	assert.Equal(t, at, *ep.PublishAt)
}

func TestCompleteRejectsInvalidArtifact(t *testing.T) {
	m, store := newMachine(t, models.StatusProcessing)

	for _, a := range []Artifact{
		{Location: "", ByteSize: 1, Duration: time.Second},
		{Location: "x", ByteSize: 0, Duration: time.Second},
		{Location: "x", ByteSize: 1, Duration: 0},
	} {
		_, err := m.Complete(context.Background(), "ep-1", "run-1", a)
		assert.ErrorIs(t, err, ErrInvalidArtifact)
	}
	assert.Zero(t, store.Transitions)
}

func TestCompleteEphemeralArtifact(t *testing.T) {
	m, _ := newMachine(t, models.StatusProcessing)

	ep, err := m.Complete(context.Background(), "ep-1", "run-1", Artifact{Location: "ep-1.mp3", Ephemeral: true, ByteSize: 10, Duration: time.Second})

	require.NoError(t, err)
	assert.Nil(t, ep.DurableAudioLocation)
	require.NotNil(t, ep.EphemeralAudioLocation)
	assert.Equal(t, "ep-1.mp3", *ep.EphemeralAudioLocation)
}

func TestFailKeepsWorkingAudioAndRetryReusesIt(t *testing.T) {
	m, _ := newMachine(t, models.StatusProcessing)
	ctx := context.Background()

	ep, err := m.Fail(ctx, "ep-1", "run-1", errors.New("chunk 3 timed out"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, ep.Status)
	assert.Equal(t, "rec.wav", ep.SourceName())
	assert.Equal(t, "chunk 3 timed out", *ep.ErrorMessage)

	ep, err = m.Retry(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, ep.Status)
	assert.Equal(t, "rec.wav", ep.SourceName())
	assert.Nil(t, ep.ErrorMessage)
}

func TestRetryOnlyFromError(t *testing.T) {
	for _, st := range []models.Status{models.StatusPending, models.StatusProcessing, models.StatusProcessed, models.StatusPublished} {
		m, _ := newMachine(t, st)
		_, err := m.Retry(context.Background(), "ep-1")
		assert.ErrorIs(t, err, ErrInvalidTransition, st)
		assert.ErrorIs(t, err, db.ErrStatusConflict, st)
	}
}

func TestCancel(t *testing.T) {
	m, _ := newMachine(t, models.StatusProcessing)
	ctx := context.Background()

	ep, err := m.Cancel(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, ep.Status)
	assert.Equal(t, CancelledMessage, *ep.ErrorMessage)

	// A chunked run finishing after the cancel cannot complete the episode.
	_, err = m.Complete(ctx, "ep-1", "run-1", Artifact{Location: "x", ByteSize: 1, Duration: time.Second})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	m, _ = newMachine(t, models.StatusPublished)
	_, err = m.Cancel(ctx, "ep-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBeginTwiceIsRejected(t *testing.T) {
	m, _ := newMachine(t, models.StatusPending)
	ctx := context.Background()

	_, err := m.Begin(ctx, "ep-1", "run-1")
	require.NoError(t, err)
	_, err = m.Begin(ctx, "ep-1", "run-2")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUnknownEpisode(t *testing.T) {
	m, _ := newMachine(t, models.StatusPending)
	_, err := m.Begin(context.Background(), "missing", "run-1")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestBeginRequiresRunID(t *testing.T) {
	m, store := newMachine(t, models.StatusPending)

	_, err := m.Begin(context.Background(), "ep-1", "")

	require.Error(t, err)
	assert.Zero(t, store.Transitions)
}

func TestSupersededRunCannotFinishEpisode(t *testing.T) {
	m, store := newMachine(t, models.StatusPending)
	ctx := context.Background()

	_, err := m.Begin(ctx, "ep-1", "run-a")
	require.NoError(t, err)
	_, err = m.Cancel(ctx, "ep-1")
	require.NoError(t, err)
	_, err = m.Retry(ctx, "ep-1")
	require.NoError(t, err)
	_, err = m.Begin(ctx, "ep-1", "run-b")
	require.NoError(t, err)

	_, err = m.Fail(ctx, "ep-1", "run-a", errors.New("chunk timeout"))
	assert.ErrorIs(t, err, ErrStaleRun)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.Complete(ctx, "ep-1", "run-a", Artifact{Location: "gs://media/stale.mp3", ByteSize: 1, Duration: time.Second})
	assert.ErrorIs(t, err, ErrStaleRun)

	ep, _ := store.GetEpisode(ctx, "ep-1")
	assert.Equal(t, models.StatusProcessing, ep.Status)
	assert.Nil(t, ep.DurableAudioLocation)

	ep, err = m.Complete(ctx, "ep-1", "run-b", Artifact{Location: "gs://media/final.mp3", ByteSize: 10, Duration: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, ep.Status)
	assert.Equal(t, "gs://media/final.mp3", *ep.DurableAudioLocation)
}
