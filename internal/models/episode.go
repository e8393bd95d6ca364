package models

import "time"

// Status is the lifecycle state of an episode.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusError      Status = "error"
	StatusPublished  Status = "published"
)

// Known reports whether s is one of the defined statuses.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusProcessed, StatusError, StatusPublished:
		return true
	}
	return false
}

// Episode is a plain snapshot of an episodes row. Values are copied out of the
// database layer so they stay valid after the query that produced them.
type Episode struct {
	ID                      string     `db:"id" json:"id"`
	OwnerID                 string     `db:"owner_id" json:"owner_id"`
	TemplateID              *string    `db:"template_id" json:"template_id,omitempty"`
	Title                   string     `db:"title" json:"title"`
	Description             *string    `db:"description" json:"description,omitempty"`
	Status                  Status     `db:"status" json:"status"`
	WorkingAudioName        *string    `db:"working_audio_name" json:"working_audio_name,omitempty"`
	DurableAudioLocation    *string    `db:"durable_audio_location" json:"durable_audio_location,omitempty"`
	EphemeralAudioLocation  *string    `db:"ephemeral_audio_location" json:"ephemeral_audio_location,omitempty"`
	ExternalStreamReference *string    `db:"external_stream_reference" json:"external_stream_reference,omitempty"`
	DurableCoverLocation    *string    `db:"durable_cover_location" json:"durable_cover_location,omitempty"`
	EphemeralCoverLocation  *string    `db:"ephemeral_cover_location" json:"ephemeral_cover_location,omitempty"`
	ExternalCoverReference  *string    `db:"external_cover_reference" json:"external_cover_reference,omitempty"`
	PublishAt               *time.Time `db:"publish_at" json:"publish_at,omitempty"`
	DurationMS              *int64     `db:"duration_ms" json:"duration_ms,omitempty"`
	AudioByteSize           *int64     `db:"audio_byte_size" json:"audio_byte_size,omitempty"`
	ErrorMessage            *string    `db:"error_message" json:"error_message,omitempty"`
	RunID                   *string    `db:"run_id" json:"run_id,omitempty"`
	CreatedAt               time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time  `db:"updated_at" json:"updated_at"`
}

// SourceName returns the working audio name or "" when unset.
func (e Episode) SourceName() string {
	if e.WorkingAudioName == nil {
		return ""
	}
	return *e.WorkingAudioName
}

// CurrentRun returns the id of the run that last began processing, or "".
func (e Episode) CurrentRun() string {
	if e.RunID == nil {
		return ""
	}
	return *e.RunID
}

// Template returns the template id or "" when unset.
func (e Episode) Template() string {
	if e.TemplateID == nil {
		return ""
	}
	return *e.TemplateID
}
