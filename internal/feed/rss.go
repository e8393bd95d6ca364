package feed

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eduncan911/podcast"

	"podcast-assembler/internal/models"
)

// Entry is a published episode with its resolved playback URL.
type Entry struct {
	Episode  models.Episode
	AudioURL string
	CoverURL string
}

// GenerateRSS renders an owner's feed. Enclosures point at whatever the
// storage resolver returned for each episode.
func GenerateRSS(ownerID, baseURL string, entries []Entry) (string, error) {
	if ownerID == "" {
		return "", errors.New("feed: empty owner")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	var latest time.Time
	for _, e := range entries {
		if e.Episode.PublishAt != nil && e.Episode.PublishAt.After(latest) {
			latest = *e.Episode.PublishAt
		}
	}

	p := podcast.New(
		fmt.Sprintf("Podcast %s", ownerID),
		fmt.Sprintf("%s/feeds/%s", baseURL, ownerID),
		"Episodes assembled and published by podcast-assembler.",
		&latest, &latest,
	)

	for _, e := range entries {
		ep := e.Episode
		desc := ep.Title
		if ep.Description != nil && *ep.Description != "" {
			desc = *ep.Description
		}
		item := podcast.Item{
			Title:       ep.Title,
			Description: desc,
			GUID:        ep.ID,
		}
		if ep.PublishAt != nil {
			item.AddPubDate(ep.PublishAt)
		}
		var size int64
		if ep.AudioByteSize != nil {
			size = *ep.AudioByteSize
		}
		item.AddEnclosure(e.AudioURL, podcast.MP3, size)
		if ep.DurationMS != nil {
			item.AddDuration(*ep.DurationMS / 1000)
		}
		if e.CoverURL != "" {
			item.AddImage(e.CoverURL)
		}
		if _, err := p.AddItem(item); err != nil {
			return "", fmt.Errorf("feed item %s: %w", ep.ID, err)
		}
	}

	return p.String(), nil
}
