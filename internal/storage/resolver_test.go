package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcast-assembler/internal/models"
	"podcast-assembler/internal/test"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newResolver(t *testing.T, durable bool) *Resolver {
	t.Helper()
	opts := Options{
		Scheme:           "file",
		BucketName:       "media",
		EphemeralDir:     t.TempDir(),
		EphemeralBaseURL: "https://api.example.com/ephemeral",
	}
	var r *Resolver
	if durable {
		r = New(test.NewFileBucket(t), opts, nil)
	} else {
		r = New(nil, opts, nil)
	}
	r.now = func() time.Time { return fixedNow }
	return r
}

func ptr[T any](v T) *T { return &v }

func fullEpisode(r *Resolver, t *testing.T, publishAt *time.Time) models.Episode {
	require.NoError(t, os.WriteFile(r.EphemeralPath("ep-1.mp3"), []byte("audio"), 0o644))
	return models.Episode{
		ID:                      "ep-1",
		DurableAudioLocation:    ptr("file://media/episodes/ep-1/final.mp3"),
		EphemeralAudioLocation:  ptr("ep-1.mp3"),
		ExternalStreamReference: ptr("https://host.example.com/stream/ep-1.mp3"),
		PublishAt:               publishAt,
	}
}

func TestResolvePlaybackPrefersDurableInsidePureWindow(t *testing.T) {
	r := newResolver(t, true)
	ep := fullEpisode(r, t, ptr(fixedNow.Add(-6*24*time.Hour)))

	u, err := r.ResolvePlayback(context.Background(), ep)

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, test.SignedBaseURL), u)
	assert.Contains(t, u, "episodes")
}

func TestResolvePlaybackPrefersExternalAfterPureWindow(t *testing.T) {
	r := newResolver(t, true)
	ep := fullEpisode(r, t, ptr(fixedNow.Add(-7*24*time.Hour-time.Second)))

	u, err := r.ResolvePlayback(context.Background(), ep)

	require.NoError(t, err)
	assert.Equal(t, "https://host.example.com/stream/ep-1.mp3", u)
}

func TestResolvePlaybackUnpublishedUsesDurable(t *testing.T) {
	r := newResolver(t, true)
	ep := fullEpisode(r, t, nil)

	u, err := r.ResolvePlayback(context.Background(), ep)

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, test.SignedBaseURL))
}

func TestResolvePlaybackAfterWindowWithoutExternalFallsBackToDurable(t *testing.T) {
	r := newResolver(t, true)
	ep := fullEpisode(r, t, ptr(fixedNow.Add(-30*24*time.Hour)))
	ep.ExternalStreamReference = nil

	u, err := r.ResolvePlayback(context.Background(), ep)

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, test.SignedBaseURL))
}

func TestResolvePlaybackEphemeral(t *testing.T) {
	r := newResolver(t, false)
	ep := fullEpisode(r, t, nil)
	ep.DurableAudioLocation = nil

	u, err := r.ResolvePlayback(context.Background(), ep)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/ephemeral/ep-1.mp3", u)

	// Ephemeral storage does not survive restarts; a missing file is skipped.
	require.NoError(t, os.Remove(r.EphemeralPath("ep-1.mp3")))
	u, err = r.ResolvePlayback(context.Background(), ep)
	require.NoError(t, err)
	assert.Equal(t, "https://host.example.com/stream/ep-1.mp3", u)

	ep.ExternalStreamReference = nil
	_, err = r.ResolvePlayback(context.Background(), ep)
	assert.ErrorIs(t, err, ErrNoLocation)
}

func TestResolveRejectsForeignBucket(t *testing.T) {
	r := newResolver(t, true)
	ep := models.Episode{DurableAudioLocation: ptr("gs://other/episodes/x.mp3")}

	_, err := r.ResolvePlayback(context.Background(), ep)

	assert.ErrorIs(t, err, ErrNoLocation)
	assert.Contains(t, err.Error(), "unknown bucket")
}

func TestUnsignableDurableFallsThrough(t *testing.T) {
	t.Run("foreign bucket", func(t *testing.T) {
		r := newResolver(t, true)
		ep := fullEpisode(r, t, nil)
		ep.DurableAudioLocation = ptr("gs://other/episodes/ep-1/final.mp3")

		u, err := r.ResolvePlayback(context.Background(), ep)

		require.NoError(t, err)
		assert.Equal(t, "https://api.example.com/ephemeral/ep-1.mp3", u)
	})

	t.Run("no durable bucket", func(t *testing.T) {
		r := newResolver(t, false)
		ep := models.Episode{
			DurableAudioLocation:    ptr("file://media/episodes/ep-1/final.mp3"),
			ExternalStreamReference: ptr("https://host.example.com/stream/ep-1.mp3"),
		}

		u, err := r.ResolvePlayback(context.Background(), ep)

		require.NoError(t, err)
		assert.Equal(t, "https://host.example.com/stream/ep-1.mp3", u)
	})
}

func TestResolveCover(t *testing.T) {
	r := newResolver(t, true)
	ep := models.Episode{
		DurableCoverLocation:   ptr("file://media/covers/ep-1.jpg"),
		ExternalCoverReference: ptr("https://host.example.com/cover.jpg"),
		PublishAt:              ptr(fixedNow.Add(-10 * 24 * time.Hour)),
	}

	u, err := r.ResolveCover(context.Background(), ep)

	require.NoError(t, err)
	assert.Equal(t, "https://host.example.com/cover.jpg", u)
}

func TestStoreArtifactWritesDurableAndRemovesStaging(t *testing.T) {
	r := newResolver(t, true)
	staged := filepath.Join(t.TempDir(), "final.mp3")
	require.NoError(t, os.WriteFile(staged, []byte("mixed audio"), 0o644))

	stored, err := r.StoreArtifact(context.Background(), staged, "episodes/ep-1/final.mp3")

	require.NoError(t, err)
	assert.Equal(t, "file://media/episodes/ep-1/final.mp3", stored.Location)
	assert.Equal(t, int64(len("mixed audio")), stored.Size)
	assert.False(t, stored.Ephemeral)
	_, statErr := os.Stat(staged)
	assert.True(t, os.IsNotExist(statErr))

	dst := filepath.Join(t.TempDir(), "copy.mp3")
	require.NoError(t, r.Download(context.Background(), "episodes/ep-1/final.mp3", dst))
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "mixed audio", string(b))
}

func TestStoreArtifactWithoutDurableFailsLoudly(t *testing.T) {
	r := newResolver(t, false)
	staged := filepath.Join(t.TempDir(), "final.mp3")
	require.NoError(t, os.WriteFile(staged, []byte("x"), 0o644))

	_, err := r.StoreArtifact(context.Background(), staged, "episodes/ep-1/final.mp3")

	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.ErrorIs(t, err, ErrDurableUnavailable)
}

func TestStoreArtifactEphemeralOnlyWhenAllowed(t *testing.T) {
	r := newResolver(t, false)
	r.opts.AllowEphemeralOnly = true
	staged := filepath.Join(t.TempDir(), "final.mp3")
	require.NoError(t, os.WriteFile(staged, []byte("x"), 0o644))

	stored, err := r.StoreArtifact(context.Background(), staged, "episodes/ep-1/final.mp3")

	require.NoError(t, err)
	assert.True(t, stored.Ephemeral)
	assert.Equal(t, "episodes_ep-1_final.mp3", stored.Location)
	_, statErr := os.Stat(r.EphemeralPath(stored.Location))
	assert.NoError(t, statErr)
}

func TestMarkersAreIdempotent(t *testing.T) {
	r := newResolver(t, true)
	ctx := context.Background()
	type marker struct {
		Index int `json:"index"`
	}

	var got marker
	ok, err := r.ReadMarker(ctx, "runs/r1/0000.json", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.WriteMarker(ctx, "runs/r1/0000.json", marker{Index: 3}))
	require.NoError(t, r.WriteMarker(ctx, "runs/r1/0000.json", marker{Index: 3}))

	ok, err = r.ReadMarker(ctx, "runs/r1/0000.json", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, got.Index)
}

func TestSourceLifecycle(t *testing.T) {
	r := newResolver(t, true)
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "rec.wav")
	require.NoError(t, os.WriteFile(local, []byte("raw"), 0o644))

	ok, err := r.SourceExists(ctx, "rec.wav")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Upload(ctx, SourceKey("rec.wav"), local))
	ok, err = r.SourceExists(ctx, "rec.wav")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, r.DeleteSource(ctx, "rec.wav"))
	require.NoError(t, r.DeleteSource(ctx, "rec.wav"))
	ok, err = r.SourceExists(ctx, "rec.wav")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("gs://podcast-media/episodes/ep-1/final.mp3")
	require.NoError(t, err)
	assert.Equal(t, Address{Scheme: "gs", Bucket: "podcast-media", Key: "episodes/ep-1/final.mp3"}, addr)
	assert.Equal(t, "gs://podcast-media/episodes/ep-1/final.mp3", addr.String())

	for _, bad := range []string{"", "podcast-media/key", "gs://bucket", "gs:///key"} {
		_, err := ParseAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestEphemeralOnlyModeServesSourcesAndMarkersLocally(t *testing.T) {
	r := New(nil, Options{
		EphemeralDir:       t.TempDir(),
		EphemeralBaseURL:   "https://api.example.com/ephemeral",
		AllowEphemeralOnly: true,
		LocalBucketDir:     filepath.Join(t.TempDir(), "bucket"),
	}, nil)
	t.Cleanup(func() { r.Close() })
	ctx := context.Background()

	upload := filepath.Join(t.TempDir(), "rec.wav")
	require.NoError(t, os.WriteFile(upload, []byte("recording"), 0o644))
	require.NoError(t, r.Upload(ctx, SourceKey("rec.wav"), upload))

	ok, err := r.SourceExists(ctx, "rec.wav")
	require.NoError(t, err)
	assert.True(t, ok)

	dst := filepath.Join(t.TempDir(), "fetched.wav")
	require.NoError(t, r.FetchSource(ctx, "rec.wav", dst))
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "recording", string(b))

	require.NoError(t, r.WriteMarker(ctx, "episodes/ep-1/runs/r/chunks/0000.json", map[string]int{"index": 0}))
	var m map[string]int
	found, err := r.ReadMarker(ctx, "episodes/ep-1/runs/r/chunks/0000.json", &m)
	require.NoError(t, err)
	assert.True(t, found)

	staged := filepath.Join(t.TempDir(), "final.mp3")
	require.NoError(t, os.WriteFile(staged, []byte("mix"), 0o644))
	stored, err := r.StoreArtifact(ctx, staged, "episodes/ep-1/final.mp3")
	require.NoError(t, err)
	assert.True(t, stored.Ephemeral)
	assert.False(t, r.Durable())

	require.NoError(t, r.DeleteSource(ctx, "rec.wav"))
	ok, err = r.SourceExists(ctx, "rec.wav")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithoutDurableOrOptInSourcesAreUnavailable(t *testing.T) {
	r := newResolver(t, false)

	_, err := r.SourceExists(context.Background(), "rec.wav")

	assert.ErrorIs(t, err, ErrDurableUnavailable)
}
