// Package dispatch enqueues HTTP callbacks on the managed task queue.
//
// Every failure is returned to the caller as an *Error with a Kind. The
// dispatcher never falls back to another execution mechanism; callers that
// want to run work inline on failure must decide so themselves and log it.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"podcast-assembler/internal/logging"
	"podcast-assembler/internal/metrics"
	"podcast-assembler/pkg/tasks"
)

// DryRunPrefix starts every synthetic task id returned in dry-run mode.
const DryRunPrefix = "dry-run-"

// Config holds the queue settings the dispatcher needs.
type Config struct {
	QueueName       string
	// ChunkQueueName receives chunk callbacks. Empty means QueueName.
	ChunkQueueName  string
	CallbackBaseURL string
	AuthToken       string
	DryRun          bool
	MaxRetry        int
	Timeout         time.Duration
}

func (c Config) missing() []string {
	var missing []string
	if strings.TrimSpace(c.QueueName) == "" {
		missing = append(missing, "queue name")
	}
	if strings.TrimSpace(c.CallbackBaseURL) == "" {
		missing = append(missing, "callback base url")
	}
	if strings.TrimSpace(c.AuthToken) == "" {
		missing = append(missing, "auth token")
	}
	return missing
}

// Dispatcher enqueues callback tasks through an injected queue client.
type Dispatcher struct {
	cfg      Config
	client   tasks.TaskEnqueuer
	log      *slog.Logger
	now      func() time.Time
	outcomes *prometheus.CounterVec
}

// New returns a Dispatcher. client may be nil when construction failed; every
// Enqueue then reports a KindClient error.
func New(cfg Config, client tasks.TaskEnqueuer, logger *slog.Logger, reg prometheus.Registerer) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		client: client,
		log:    logging.OrDiscard(logger).With("component", "dispatcher"),
		now:    time.Now,
		outcomes: metrics.CounterVec(reg, prometheus.CounterOpts{
			Name: "dispatch_total",
			Help: "Dispatch attempts by outcome.",
		}, "outcome"),
	}
}

// NewClient builds an asynq client from a redis:// URI.
func NewClient(redisURL string) (*asynq.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, &Error{Kind: KindConfig, Missing: []string{"redis url"}}
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, &Error{Kind: KindClient, Err: fmt.Errorf("parse redis uri: %w", err)}
	}
	return asynq.NewClient(opt), nil
}

// DryRun reports whether the dispatcher simulates enqueues.
func (d *Dispatcher) DryRun() bool {
	return d.cfg.DryRun
}

// Enqueue schedules a POST of payload to targetPath on the callback base URL
// and returns the queue's task id.
func (d *Dispatcher) Enqueue(ctx context.Context, targetPath string, payload any) (string, error) {
	log := d.log.With("target", targetPath)
	log.Info("dispatch attempt", "dry_run", d.cfg.DryRun)

	if !d.cfg.DryRun {
		if missing := d.cfg.missing(); len(missing) > 0 {
			return "", d.fail(log, &Error{Kind: KindConfig, Target: targetPath, Missing: missing})
		}
		if d.client == nil {
			return "", d.fail(log, &Error{Kind: KindClient, Target: targetPath, Err: errors.New("queue client not configured")})
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", d.fail(log, &Error{Kind: KindRequest, Target: targetPath, Err: fmt.Errorf("encode payload: %w", err)})
	}
	if err := validatePath(targetPath); err != nil {
		return "", d.fail(log, &Error{Kind: KindRequest, Target: targetPath, Err: err})
	}

	if d.cfg.DryRun {
		id := fmt.Sprintf("%s%d", DryRunPrefix, d.now().UnixNano())
		log.Info("dispatch dry run", "task_id", id, "payload_bytes", len(body))
		d.outcomes.WithLabelValues("dry_run").Inc()
		return id, nil
	}

	target, err := joinURL(d.cfg.CallbackBaseURL, targetPath)
	if err != nil {
		return "", d.fail(log, &Error{Kind: KindConfig, Target: targetPath, Err: err})
	}

	opts := []asynq.Option{asynq.Queue(d.queueFor(targetPath)), asynq.MaxRetry(d.cfg.MaxRetry)}
	if d.cfg.Timeout > 0 {
		opts = append(opts, asynq.Timeout(d.cfg.Timeout))
	}
	task, err := tasks.NewCallbackTask(tasks.CallbackPayload{
		TargetURL:  target,
		Body:       body,
		Headers:    map[string]string{tasks.HeaderAuthToken: d.cfg.AuthToken},
		EnqueuedAt: d.now().UTC(),
	}, opts...)
	if err != nil {
		return "", d.fail(log, &Error{Kind: KindRequest, Target: targetPath, Err: err})
	}

	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", d.fail(log, &Error{Kind: KindEnqueue, Target: targetPath, Err: err})
	}

	log.Info("dispatch enqueued", "task_id", info.ID, "queue", info.Queue)
	d.outcomes.WithLabelValues("enqueued").Inc()
	return info.ID, nil
}

// queueFor keeps chunk callbacks off the queue that finalize callbacks wait on,
// so a worker full of finalize tasks can still run the chunks they poll for.
func (d *Dispatcher) queueFor(targetPath string) string {
	if targetPath == tasks.PathProcessChunk && d.cfg.ChunkQueueName != "" {
		return d.cfg.ChunkQueueName
	}
	return d.cfg.QueueName
}

func (d *Dispatcher) fail(log *slog.Logger, err *Error) error {
	log.Error("dispatch failed", "kind", string(err.Kind), "error", err)
	d.outcomes.WithLabelValues(string(err.Kind)).Inc()
	return err
}

func validatePath(p string) error {
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("target path %q must start with /", p)
	}
	u, err := url.Parse(p)
	if err != nil {
		return fmt.Errorf("target path %q: %w", p, err)
	}
	if u.Scheme != "" || u.Host != "" {
		return fmt.Errorf("target path %q must be relative", p)
	}
	return nil
}

func joinURL(base, p string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("callback base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("callback base url %q must be absolute", base)
	}
	return u.JoinPath(p).String(), nil
}
