package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"podcast-assembler/internal/logging"
	"podcast-assembler/internal/sweeper"
	"podcast-assembler/pkg/tasks"
)

// Sweeper runs one retention pass.
type Sweeper interface {
	Sweep(ctx context.Context) (sweeper.Stats, error)
}

type TaskHandler struct {
	httpClient *http.Client
	sweeper    Sweeper
	log        *slog.Logger
}

// NewTaskHandler returns a handler. sw may be nil when the worker does not
// run sweeps.
func NewTaskHandler(client *http.Client, sw Sweeper, logger *slog.Logger) *TaskHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	return &TaskHandler{
		httpClient: client,
		sweeper:    sw,
		log:        logging.OrDiscard(logger).With("component", "worker"),
	}
}

// HandleCallbackTask delivers a dispatched callback as an HTTP POST. Client
// errors other than 408 and 429 are not retried; everything else is.
func (h *TaskHandler) HandleCallbackTask(ctx context.Context, t *asynq.Task) error {
	var p tasks.CallbackPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TargetURL, bytes.NewReader(p.Body))
	if err != nil {
		return fmt.Errorf("build callback request: %v: %w", err, asynq.SkipRetry)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	if id, ok := asynq.GetTaskID(ctx); ok {
		req.Header.Set(tasks.HeaderTaskID, id)
	}
	retry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	req.Header.Set(tasks.HeaderRetryCount, strconv.Itoa(retry))
	req.Header.Set(tasks.HeaderMaxRetry, strconv.Itoa(maxRetry))

	log := h.log.With("target", p.TargetURL, "retry", retry, "max_retry", maxRetry)
	start := time.Now()
	resp, err := h.httpClient.Do(req)
	if err != nil {
		log.Warn("callback delivery failed", "error", err)
		return fmt.Errorf("deliver callback: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode < 300:
		log.Info("callback delivered", "status", resp.StatusCode, "elapsed", time.Since(start).Round(time.Millisecond))
		return nil
	case resp.StatusCode < 500 && resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		log.Error("callback rejected", "status", resp.StatusCode, "body", string(body))
		return fmt.Errorf("callback %s returned %d: %s: %w", p.TargetURL, resp.StatusCode, bytes.TrimSpace(body), asynq.SkipRetry)
	default:
		log.Warn("callback failed", "status", resp.StatusCode, "body", string(body))
		return fmt.Errorf("callback %s returned %d: %s", p.TargetURL, resp.StatusCode, bytes.TrimSpace(body))
	}
}

// HandleSweepTask runs the retention sweeper.
func (h *TaskHandler) HandleSweepTask(ctx context.Context, t *asynq.Task) error {
	if h.sweeper == nil {
		return fmt.Errorf("sweeper not configured: %w", asynq.SkipRetry)
	}
	st, err := h.sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep sources: %w", err)
	}
	h.log.Info("sweep task done", "removed", st.Removed, "failed", st.Failed)
	return nil
}
