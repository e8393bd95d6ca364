// Package audio wraps the ffmpeg and ffprobe binaries used to cut, join, edit
// and mix episode audio. Every method writes to a destination path and leaves
// its inputs in place.
package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var execCommandContext = exec.CommandContext

// Cut is a span removed from the body before mixing.
type Cut struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// MixPlan lists the segments of a finished episode in playback order:
// intro, TTS clips, body, outro. Music is looped underneath at MusicVolume.
type MixPlan struct {
	Body        string
	Intro       string
	TTS         []string
	Outro       string
	Music       string
	MusicVolume float64
}

// FFmpeg runs the external binaries. Empty paths fall back to $PATH lookups.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

type formatOutput struct {
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

// Duration returns the container duration of path.
func (f *FFmpeg) Duration(ctx context.Context, path string) (time.Duration, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return 0, errors.New("ffprobe: empty path")
	}
	cmd := execCommandContext(ctx, binary(f.FFprobePath, "ffprobe"), "-v", "error", "-hide_banner", "-show_format", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", filepath.Base(path), err)
	}

	var result formatOutput
	if err := json.Unmarshal(output, &result); err != nil {
		return 0, fmt.Errorf("ffprobe parse: %w", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(result.Format.Duration), 64)
	if err != nil || math.IsNaN(seconds) || seconds < 0 {
		return 0, fmt.Errorf("ffprobe %s: unusable duration %q", filepath.Base(path), result.Format.Duration)
	}
	return time.Duration(math.Round(seconds * float64(time.Second))), nil
}

// Extract writes the [start, start+length) range of src to dst.
func (f *FFmpeg) Extract(ctx context.Context, src, dst string, start, length time.Duration) error {
	return f.run(ctx, "-ss", seconds(start), "-t", seconds(length), "-i", src, "-vn", "-c:a", "libmp3lame", "-q:a", "2", dst)
}

// Concat joins parts in the given order.
func (f *FFmpeg) Concat(ctx context.Context, parts []string, dst string) error {
	if len(parts) == 0 {
		return errors.New("ffmpeg concat: no parts")
	}
	list := dst + ".txt"
	var b strings.Builder
	for _, p := range parts {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(list, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("ffmpeg concat list: %w", err)
	}
	defer os.Remove(list)

	return f.run(ctx, "-f", "concat", "-safe", "0", "-i", list, "-c", "copy", dst)
}

// Edit removes cuts from src. With no cuts it re-encodes src unchanged.
func (f *FFmpeg) Edit(ctx context.Context, src, dst string, cuts []Cut) error {
	args := []string{"-i", src, "-vn"}
	if filter := cutFilter(cuts); filter != "" {
		args = append(args, "-af", filter)
	}
	args = append(args, "-c:a", "libmp3lame", "-q:a", "2", dst)
	return f.run(ctx, args...)
}

// Mix renders plan into dst.
func (f *FFmpeg) Mix(ctx context.Context, dst string, plan MixPlan) error {
	if plan.Body == "" {
		return errors.New("ffmpeg mix: no body")
	}
	var (
		args   []string
		labels []string
	)
	add := func(path string) {
		labels = append(labels, fmt.Sprintf("[%d:a]", len(labels)))
		args = append(args, "-i", path)
	}
	if plan.Intro != "" {
		add(plan.Intro)
	}
	for _, clip := range plan.TTS {
		add(clip)
	}
	add(plan.Body)
	if plan.Outro != "" {
		add(plan.Outro)
	}

	filter := fmt.Sprintf("%sconcat=n=%d:v=0:a=1[seq]", strings.Join(labels, ""), len(labels))
	out := "[seq]"
	if plan.Music != "" {
		args = append(args, "-stream_loop", "-1", "-i", plan.Music)
		filter += fmt.Sprintf(";[%d:a]volume=%s[bed];[seq][bed]amix=inputs=2:duration=first:normalize=0[out]",
			len(labels), strconv.FormatFloat(clampVolume(plan.MusicVolume), 'f', 2, 64))
		out = "[out]"
	}
	args = append(args, "-filter_complex", filter, "-map", out, "-c:a", "libmp3lame", "-q:a", "2", dst)
	return f.run(ctx, args...)
}

func (f *FFmpeg) run(ctx context.Context, args ...string) error {
	full := append([]string{"-hide_banner", "-nostdin", "-y", "-loglevel", "error"}, args...)
	cmd := execCommandContext(ctx, binary(f.FFmpegPath, "ffmpeg"), full...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

func cutFilter(cuts []Cut) string {
	var spans []string
	for _, c := range cuts {
		if c.End <= c.Start {
			continue
		}
		spans = append(spans, fmt.Sprintf("between(t,%s,%s)", seconds(c.Start), seconds(c.End)))
	}
	if len(spans) == 0 {
		return ""
	}
	return fmt.Sprintf("aselect='not(%s)',asetpts=N/SR/TB", strings.Join(spans, "+"))
}

func clampVolume(v float64) float64 {
	switch {
	case v <= 0:
		return 0.15
	case v > 1:
		return 1
	}
	return v
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func binary(path, fallback string) string {
	if p := strings.TrimSpace(path); p != "" {
		return p
	}
	return fallback
}
