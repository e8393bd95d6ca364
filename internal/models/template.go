package models

import "github.com/lib/pq"

// Template describes the segments mixed around an episode body.
// Keys reference objects in the durable store.
type Template struct {
	ID          string         `db:"id"`
	OwnerID     string         `db:"owner_id"`
	IntroKey    *string        `db:"intro_key"`
	OutroKey    *string        `db:"outro_key"`
	MusicKey    *string        `db:"music_key"`
	MusicVolume float64        `db:"music_volume"`
	TTSKeys     pq.StringArray `db:"tts_keys"`
}
