package tasks

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeHTTPCallback = "callback:http"
	TypeSweepSources = "sources:sweep"
)

// Callback endpoints served by the API process.
const (
	PathProcessChunk = "/process-chunk"
	PathFinalize     = "/finalize"
)

// Headers carried by callback requests.
const (
	HeaderAuthToken  = "X-Callback-Token"
	HeaderTaskID     = "X-Task-Id"
	HeaderRetryCount = "X-Task-Retry-Count"
	HeaderMaxRetry   = "X-Task-Max-Retry"
)

// CallbackPayload is an HTTP request the worker delivers on behalf of the
// dispatcher.
type CallbackPayload struct {
	TargetURL  string            `json:"target_url"`
	Body       json.RawMessage   `json:"body"`
	Headers    map[string]string `json:"headers,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

func NewCallbackTask(p CallbackPayload, opts ...asynq.Option) (*asynq.Task, error) {
	if p.TargetURL == "" {
		return nil, errors.New("callback task: empty target url")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeHTTPCallback, payload, opts...), nil
}

func NewSweepTask() (*asynq.Task, error) {
	return asynq.NewTask(TypeSweepSources, nil), nil
}

// JobPayload is the body of /finalize and /process-chunk callbacks.
type JobPayload struct {
	EpisodeID       string `json:"episode_id"`
	RunID           string `json:"run_id,omitempty"`
	ChunkIndex      *int   `json:"chunk_index,omitempty"`
	StartMS         int64  `json:"start_ms,omitempty"`
	LengthMS        int64  `json:"length_ms,omitempty"`
	SourceReference string `json:"source_reference"`
	TemplateID      string `json:"template_id"`
	OwnerID         string `json:"owner_id"`
}
