// Package storage resolves where episode audio and covers can be fetched
// from, and owns the durable write path.
//
// Reads walk three tiers: a signed URL for the durable copy, a local
// ephemeral file, and an external (hosting service) reference. While an
// episode is inside its pure audio window the unmodified durable/ephemeral
// copy wins; after the window the external reference wins.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"

	"podcast-assembler/internal/logging"
	"podcast-assembler/internal/models"
)

// Options configures a Resolver.
type Options struct {
	// Scheme and BucketName form the address prefix of the durable bucket.
	Scheme             string
	BucketName         string
	EphemeralDir       string
	EphemeralBaseURL   string
	SignedURLTTL       time.Duration
	PureAudioWindow    time.Duration
	AllowEphemeralOnly bool
	// LocalBucketDir holds uploads, chunk markers and chunk outputs when
	// there is no durable bucket and AllowEphemeralOnly is set.
	LocalBucketDir     string
	CacheSize          int
}

// Resolver implements both the read and the write path.
type Resolver struct {
	durable *blob.Bucket
	// work holds sources, markers and chunk outputs. It is the durable
	// bucket, or a local bucket in ephemeral-only mode.
	work    *blob.Bucket
	opts    Options
	cache   *expirable.LRU[string, string]
	now     func() time.Time
	log     *slog.Logger
}

// New returns a Resolver. durable may be nil in development setups.
func New(durable *blob.Bucket, opts Options, logger *slog.Logger) *Resolver {
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = time.Hour
	}
	if opts.PureAudioWindow <= 0 {
		opts.PureAudioWindow = 7 * 24 * time.Hour
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	r := &Resolver{
		durable: durable,
		work:    durable,
		opts:    opts,
		cache:   expirable.NewLRU[string, string](opts.CacheSize, nil, opts.SignedURLTTL/2),
		now:     time.Now,
		log:     logging.OrDiscard(logger).With("component", "storage"),
	}
	if durable == nil && opts.AllowEphemeralOnly {
		work, err := openLocalBucket(opts.LocalBucketDir)
		if err != nil {
			r.log.Error("open local bucket", "dir", opts.LocalBucketDir, "error", err)
		} else {
			r.log.Warn("durable store not configured, using local bucket", "dir", opts.LocalBucketDir)
			r.work = work
		}
	}
	return r
}

func openLocalBucket(dir string) (*blob.Bucket, error) {
	if dir == "" {
		return nil, errors.New("no local bucket dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return fileblob.OpenBucket(dir, nil)
}

// Close releases a local bucket opened by New. The durable bucket belongs to
// the caller.
func (r *Resolver) Close() error {
	if r.work != nil && r.work != r.durable {
		return r.work.Close()
	}
	return nil
}

// Durable reports whether a durable bucket is configured.
func (r *Resolver) Durable() bool {
	return r.durable != nil
}

// InPureWindow reports whether an item published at publishAt is still within
// the window where the unmodified copy is preferred. Unpublished items always are.
func (r *Resolver) InPureWindow(publishAt *time.Time) bool {
	if publishAt == nil {
		return true
	}
	return r.now().Before(publishAt.Add(r.opts.PureAudioWindow))
}

type tier int

const (
	tierDurable tier = iota
	tierEphemeral
	tierExternal
)

type candidates struct {
	durable   *string
	ephemeral *string
	external  *string
}

// ResolvePlayback returns the URL an episode's audio should be fetched from.
func (r *Resolver) ResolvePlayback(ctx context.Context, ep models.Episode) (string, error) {
	return r.resolve(ctx, ep.PublishAt, candidates{
		durable:   ep.DurableAudioLocation,
		ephemeral: ep.EphemeralAudioLocation,
		external:  ep.ExternalStreamReference,
	})
}

// ResolveCover returns the URL an episode's cover art should be fetched from.
func (r *Resolver) ResolveCover(ctx context.Context, ep models.Episode) (string, error) {
	return r.resolve(ctx, ep.PublishAt, candidates{
		durable:   ep.DurableCoverLocation,
		ephemeral: ep.EphemeralCoverLocation,
		external:  ep.ExternalCoverReference,
	})
}

func (r *Resolver) resolve(ctx context.Context, publishAt *time.Time, c candidates) (string, error) {
	order := []tier{tierDurable, tierEphemeral, tierExternal}
	if !r.InPureWindow(publishAt) {
		order = []tier{tierExternal, tierDurable, tierEphemeral}
	}

	var signErr error
	for _, t := range order {
		switch t {
		case tierDurable:
			if empty(c.durable) {
				continue
			}
			u, err := r.signedURL(ctx, *c.durable)
			if err != nil {
				r.log.Warn("durable copy not signable", "location", *c.durable, "error", err)
				signErr = err
				continue
			}
			return u, nil
		case tierEphemeral:
			if empty(c.ephemeral) {
				continue
			}
			u, ok := r.ephemeralURL(*c.ephemeral)
			if !ok {
				r.log.Debug("ephemeral copy missing", "location", *c.ephemeral)
				continue
			}
			return u, nil
		case tierExternal:
			if empty(c.external) {
				continue
			}
			return *c.external, nil
		}
	}
	if signErr != nil {
		return "", fmt.Errorf("%w: %w", ErrNoLocation, signErr)
	}
	return "", ErrNoLocation
}

func (r *Resolver) signedURL(ctx context.Context, location string) (string, error) {
	if u, ok := r.cache.Get(location); ok {
		return u, nil
	}
	addr, err := r.ownAddress(location)
	if err != nil {
		return "", err
	}
	u, err := r.durable.SignedURL(ctx, addr.Key, &blob.SignedURLOptions{Expiry: r.opts.SignedURLTTL})
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", location, err)
	}
	r.cache.Add(location, u)
	return u, nil
}

func (r *Resolver) ownAddress(location string) (Address, error) {
	addr, err := ParseAddress(location)
	if err != nil {
		return Address{}, err
	}
	if r.durable == nil {
		return Address{}, ErrDurableUnavailable
	}
	if addr.Scheme != r.opts.Scheme || addr.Bucket != r.opts.BucketName {
		return Address{}, fmt.Errorf("storage address %s: unknown bucket %s://%s", location, addr.Scheme, addr.Bucket)
	}
	return addr, nil
}

func (r *Resolver) ephemeralURL(name string) (string, bool) {
	name = filepath.Base(name)
	if _, err := os.Stat(filepath.Join(r.opts.EphemeralDir, name)); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.log.Warn("stat ephemeral copy", "name", name, "error", err)
		}
		return "", false
	}
	base, err := url.Parse(r.opts.EphemeralBaseURL)
	if err != nil {
		r.log.Warn("invalid ephemeral base url", "url", r.opts.EphemeralBaseURL, "error", err)
		return "", false
	}
	return base.JoinPath(name).String(), true
}

// EphemeralPath returns the local path of an ephemeral file name.
func (r *Resolver) EphemeralPath(name string) string {
	return filepath.Join(r.opts.EphemeralDir, filepath.Base(name))
}

// DurableAddress returns the address string for key in the durable bucket.
func (r *Resolver) DurableAddress(key string) string {
	return Address{Scheme: r.opts.Scheme, Bucket: r.opts.BucketName, Key: key}.String()
}

func empty(s *string) bool {
	return s == nil || *s == ""
}
