package assembly

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"

	"podcast-assembler/internal/audio"
	"podcast-assembler/internal/storage"
	"podcast-assembler/internal/test"
	"podcast-assembler/pkg/tasks"
)

// segment is one line of the text codec used by textAudio: a label, the
// source offset and the length in milliseconds. Negative lengths are cuts.
type segment struct {
	label  string
	start  int64
	length int64
}

func readSegments(path string) ([]segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var segs []segment
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var s segment
		if _, err := fmt.Sscanf(line, "%s %d %d", &s.label, &s.start, &s.length); err != nil {
			return nil, fmt.Errorf("bad segment %q: %w", line, err)
		}
		segs = append(segs, s)
	}
	return segs, sc.Err()
}

func writeSegments(path string, segs ...segment) error {
	var b strings.Builder
	for _, s := range segs {
		fmt.Fprintf(&b, "%s %d %d\n", s.label, s.start, s.length)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// textAudio is a deterministic Processor over the text codec.
type textAudio struct {
	mu       sync.Mutex
	extracts int
	failAt   map[int64]bool
	shortBy  time.Duration
}

func (a *textAudio) Duration(ctx context.Context, path string) (time.Duration, error) {
	segs, err := readSegments(path)
	if err != nil {
		return 0, err
	}
	var ms int64
	for _, s := range segs {
		ms += s.length
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (a *textAudio) Extract(ctx context.Context, src, dst string, start, length time.Duration) error {
	a.mu.Lock()
	a.extracts++
	fail := a.failAt[start.Milliseconds()]
	a.mu.Unlock()
	if fail {
		return errors.New("decoder error")
	}
	total, err := a.Duration(ctx, src)
	if err != nil {
		return err
	}
	if start+length > total {
		length = total - start
	}
	length -= a.shortBy
	return writeSegments(dst, segment{"src", start.Milliseconds(), length.Milliseconds()})
}

func (a *textAudio) Concat(ctx context.Context, parts []string, dst string) error {
	var all []segment
	for _, p := range parts {
		segs, err := readSegments(p)
		if err != nil {
			return err
		}
		all = append(all, segs...)
	}
	return writeSegments(dst, all...)
}

func (a *textAudio) Edit(ctx context.Context, src, dst string, cuts []audio.Cut) error {
	segs, err := readSegments(src)
	if err != nil {
		return err
	}
	for _, c := range cuts {
		segs = append(segs, segment{"cut", c.Start.Milliseconds(), -(c.End - c.Start).Milliseconds()})
	}
	return writeSegments(dst, segs...)
}

func (a *textAudio) Mix(ctx context.Context, dst string, plan audio.MixPlan) error {
	order := []string{}
	if plan.Intro != "" {
		order = append(order, plan.Intro)
	}
	order = append(order, plan.TTS...)
	order = append(order, plan.Body)
	if plan.Outro != "" {
		order = append(order, plan.Outro)
	}
	return a.Concat(ctx, order, dst)
}

func (a *textAudio) extractCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.extracts
}

// chunkRunner stands in for the queue and the chunk workers. Once it has
// received expect chunk dispatches it runs them in reverse order.
type chunkRunner struct {
	mu       sync.Mutex
	orch     *Orchestrator
	expect   int
	hold     bool
	err      error
	payloads []tasks.JobPayload
	ran      []int
	wg       sync.WaitGroup
}

func (d *chunkRunner) Enqueue(ctx context.Context, targetPath string, payload any) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	p, ok := payload.(tasks.JobPayload)
	if !ok || targetPath != tasks.PathProcessChunk {
		return "", fmt.Errorf("unexpected dispatch %s %T", targetPath, payload)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payloads = append(d.payloads, p)
	if len(d.payloads) == d.expect && !d.hold {
		batch := append([]tasks.JobPayload(nil), d.payloads...)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for i := len(batch) - 1; i >= 0; i-- {
				_ = d.orch.ProcessChunk(context.Background(), batch[i], Attempt{})
				d.mu.Lock()
				d.ran = append(d.ran, *batch[i].ChunkIndex)
				d.mu.Unlock()
			}
		}()
	}
	return fmt.Sprintf("task-%d", len(d.payloads)), nil
}

func (d *chunkRunner) dispatched() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.payloads)
}

type fixture struct {
	bucket   *blob.Bucket
	resolver *storage.Resolver
	proc     *textAudio
	runner   *chunkRunner
	orch     *Orchestrator
}

func testConfig() Config {
	return Config{
		ChunkThreshold:    30 * time.Minute,
		ChunkLength:       10 * time.Minute,
		ChunkTimeout:      5 * time.Second,
		TotalTimeout:      10 * time.Second,
		PollInterval:      5 * time.Millisecond,
		DurationTolerance: 250 * time.Millisecond,
	}
}

func newFixture(t *testing.T, cfg Config, templates TemplateSource, markers MarkerSource) *fixture {
	t.Helper()
	bucket := test.NewFileBucket(t)
	resolver := storage.New(bucket, storage.Options{
		Scheme:           "file",
		BucketName:       "media",
		EphemeralDir:     t.TempDir(),
		EphemeralBaseURL: "https://api.example.com/ephemeral",
	}, nil)
	cfg.WorkDir = t.TempDir()
	f := &fixture{bucket: bucket, resolver: resolver, proc: &textAudio{}, runner: &chunkRunner{}}
	f.orch = New(cfg, f.proc, resolver, f.runner, templates, markers, nil)
	f.runner.orch = f.orch
	t.Cleanup(f.runner.wg.Wait)
	return f
}

func (f *fixture) putSource(t *testing.T, name string, d time.Duration) {
	t.Helper()
	body := fmt.Sprintf("source 0 %d\n", d.Milliseconds())
	require.NoError(t, f.bucket.WriteAll(context.Background(), storage.SourceKey(name), []byte(body), nil))
}

func (f *fixture) putAsset(t *testing.T, key string, d time.Duration) {
	t.Helper()
	body := fmt.Sprintf("%s 0 %d\n", "asset", d.Milliseconds())
	require.NoError(t, f.bucket.WriteAll(context.Background(), key, []byte(body), nil))
}

// artifact returns the segments of the stored artifact at location.
func (f *fixture) artifact(t *testing.T, location string) []segment {
	t.Helper()
	addr, err := storage.ParseAddress(location)
	require.NoError(t, err)
	data, err := f.bucket.ReadAll(context.Background(), addr.Key)
	require.NoError(t, err)
	path := t.TempDir() + "/artifact.txt"
	require.NoError(t, os.WriteFile(path, data, 0o644))
	segs, err := readSegments(path)
	require.NoError(t, err)
	return segs
}
