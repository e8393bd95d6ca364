package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/gcsblob"  // gs:// buckets
	_ "gocloud.dev/blob/s3blob"   // s3:// buckets
	"gocloud.dev/gcerrors"
)

const sourcePrefix = "uploads/"

// OpenBucket opens the durable bucket described by a gocloud URL and returns
// it with the scheme used for addresses.
func OpenBucket(ctx context.Context, bucketURL string) (*blob.Bucket, string, error) {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, "", fmt.Errorf("durable bucket url: %w", err)
	}
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, "", fmt.Errorf("open durable bucket: %w", err)
	}
	return b, u.Scheme, nil
}

// SourceKey is the key of an uploaded source.
func SourceKey(name string) string {
	return sourcePrefix + name
}

// SourceExists reports whether the uploaded source blob is present.
func (r *Resolver) SourceExists(ctx context.Context, name string) (bool, error) {
	if r.work == nil {
		return false, ErrDurableUnavailable
	}
	if name == "" {
		return false, nil
	}
	ok, err := r.work.Exists(ctx, SourceKey(name))
	if err != nil {
		return false, fmt.Errorf("check source %s: %w", name, err)
	}
	return ok, nil
}

// FetchSource copies an uploaded source to dst.
func (r *Resolver) FetchSource(ctx context.Context, name, dst string) error {
	return r.Download(ctx, SourceKey(name), dst)
}

// DeleteSource removes an uploaded source blob. A missing blob is not an error.
func (r *Resolver) DeleteSource(ctx context.Context, name string) error {
	if r.work == nil {
		return ErrDurableUnavailable
	}
	err := r.work.Delete(ctx, SourceKey(name))
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("delete source %s: %w", name, err)
	}
	return nil
}

// Download copies the object at key to the local file dst.
func (r *Resolver) Download(ctx context.Context, key, dst string) error {
	if r.work == nil {
		return ErrDurableUnavailable
	}
	rd, err := r.work.NewReader(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("open %s: %w", key, err)
	}
	defer rd.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rd); err != nil {
		f.Close()
		return fmt.Errorf("download %s: %w", key, err)
	}
	return f.Close()
}

// Upload copies the local file at path to key.
func (r *Resolver) Upload(ctx context.Context, key, path string) error {
	if r.work == nil {
		return ErrDurableUnavailable
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := r.work.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("open writer %s: %w", key, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

// WriteMarker stores v as JSON at key, replacing any previous value.
func (r *Resolver) WriteMarker(ctx context.Context, key string, v any) error {
	if r.work == nil {
		return ErrDurableUnavailable
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode marker %s: %w", key, err)
	}
	if err := r.work.WriteAll(ctx, key, b, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("write marker %s: %w", key, err)
	}
	return nil
}

// ReadMarker decodes the JSON at key into v. It reports false when the
// marker does not exist yet.
func (r *Resolver) ReadMarker(ctx context.Context, key string, v any) (bool, error) {
	if r.work == nil {
		return false, ErrDurableUnavailable
	}
	b, err := r.work.ReadAll(ctx, key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read marker %s: %w", key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode marker %s: %w", key, err)
	}
	return true, nil
}

// Stored describes where a finished artifact was written.
type Stored struct {
	Location  string
	Ephemeral bool
	Size      int64
}

// StoreArtifact moves a staged file into durable storage under key and
// removes the staged copy. Without a durable bucket the file is kept in the
// ephemeral directory only when that was explicitly allowed.
func (r *Resolver) StoreArtifact(ctx context.Context, staged, key string) (Stored, error) {
	info, err := os.Stat(staged)
	if err != nil {
		return Stored{}, fmt.Errorf("stat staged artifact: %w", err)
	}

	if r.durable == nil {
		if !r.opts.AllowEphemeralOnly {
			return Stored{}, &WriteError{Key: key, Err: ErrDurableUnavailable}
		}
		name := strings.ReplaceAll(key, "/", "_")
		if err := moveFile(staged, r.EphemeralPath(name)); err != nil {
			return Stored{}, fmt.Errorf("keep ephemeral artifact: %w", err)
		}
		r.log.Warn("durable store not configured, artifact kept in ephemeral storage only", "key", key, "name", name)
		return Stored{Location: name, Ephemeral: true, Size: info.Size()}, nil
	}

	if err := r.Upload(ctx, key, staged); err != nil {
		r.log.Error("durable write failed", "key", key, "error", err)
		return Stored{}, &WriteError{Key: key, Err: err}
	}
	if err := os.Remove(staged); err != nil {
		r.log.Warn("remove staged artifact", "path", staged, "error", err)
	}
	return Stored{Location: r.DurableAddress(key), Size: info.Size()}, nil
}

func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
