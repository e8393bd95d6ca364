package models

import "time"

// Upload categories.
const (
	CategoryPrimaryRecording = "primary_recording"
	CategoryIntro            = "intro"
	CategoryOutro            = "outro"
	CategoryMusic            = "music"
	CategoryCover            = "cover"
	CategoryTTS              = "tts"
)

// UploadedSource is a file uploaded by a user. Its blob lives in the durable
// store under uploads/<Name>.
type UploadedSource struct {
	ID        string    `db:"id" json:"id"`
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	Name      string    `db:"name" json:"name"`
	Category  string    `db:"category" json:"category"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
