package types

import (
	"strings"
	"time"
)

// UnavailableDescription is written into every tombstone record.
const UnavailableDescription = "Video unavailable. It has probably been removed by the user."

// RetrievedAtLayout matches the destination schema's timestamp literal (millisecond precision).
const RetrievedAtLayout = "2006-01-02 15:04:05.000"

// Origins - Which upstream datasets referenced a video
type Origins struct {
	Stream  bool `json:"twitter_stream"`
	Related bool `json:"youtube_related_video"`
	Search  bool `json:"twitter_search"`
}

// PendingIdentifier - A video id that has not been fetched yet
type PendingIdentifier struct {
	VideoID string
	Origins Origins
}

// Thumbnail - A single thumbnail rendition
type Thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Thumbnails - Thumbnail renditions keyed by size
type Thumbnails struct {
	Default  *Thumbnail `json:"default,omitempty"`
	Medium   *Thumbnail `json:"medium,omitempty"`
	High     *Thumbnail `json:"high,omitempty"`
	Standard *Thumbnail `json:"standard,omitempty"`
	Maxres   *Thumbnail `json:"maxres,omitempty"`
}

// Localized - Localized title and description
type Localized struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Snippet - Descriptive metadata block of a video, as returned by the Data API
type Snippet struct {
	PublishedAt          string     `json:"publishedAt"`
	ChannelID            string     `json:"channelId"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Thumbnails           Thumbnails `json:"thumbnails"`
	ChannelTitle         string     `json:"channelTitle"`
	Tags                 []string   `json:"tags,omitempty"`
	CategoryID           string     `json:"categoryId"`
	LiveBroadcastContent string     `json:"liveBroadcastContent"`
	DefaultLanguage      string     `json:"defaultLanguage,omitempty"`
	Localized            *Localized `json:"localized,omitempty"`
	DefaultAudioLanguage string     `json:"defaultAudioLanguage,omitempty"`
}

// Video - A single item of a videos.list response
type Video struct {
	Kind    string   `json:"kind"`
	Etag    string   `json:"etag"`
	ID      string   `json:"id"`
	Snippet *Snippet `json:"snippet,omitempty"`
}

// VideoListResponse - Response body of videos.list
type VideoListResponse struct {
	Kind  string  `json:"kind"`
	Etag  string  `json:"etag"`
	Items []Video `json:"items"`
}

// SnippetRecord - Output record for a video the API returned
type SnippetRecord struct {
	Kind        string   `json:"kind"`
	Etag        string   `json:"etag"`
	ID          string   `json:"id"`
	RetrievedAt string   `json:"retrieved_at"`
	Source      *Origins `json:"source,omitempty"`
	Snippet     *Snippet `json:"snippet,omitempty"`
}

// Tombstone - Output record for a video the API no longer returns
type Tombstone struct {
	Kind        string   `json:"kind,omitempty"`
	Etag        string   `json:"etag,omitempty"`
	ID          string   `json:"id"`
	RetrievedAt string   `json:"retrieved_at"`
	Source      *Origins `json:"source,omitempty"`
	Description string   `json:"description"`
}

// FetchResult - Outcome of fetching one PendingIdentifier.
// Exactly one of Snippets and Tombstone is set.
type FetchResult struct {
	VideoID   string
	Snippets  []SnippetRecord
	Tombstone *Tombstone
}

// Records returns the output rows of the result in emission order.
func (r *FetchResult) Records() []interface{} {
	if r.Tombstone != nil {
		return []interface{}{r.Tombstone}
	}
	records := make([]interface{}, 0, len(r.Snippets))
	for i := range r.Snippets {
		records = append(records, &r.Snippets[i])
	}
	return records
}

// IsTombstone reports whether the API returned no items for the video.
func (r *FetchResult) IsTombstone() bool {
	return r.Tombstone != nil
}

// NormalizePublishedAt rewrites an RFC 3339 UTC timestamp into the
// "YYYY-MM-DD HH:MM:SS" literal the catalog schema expects.
func NormalizePublishedAt(s string) string {
	return strings.Replace(strings.TrimRight(s, "Z"), "T", " ", 1)
}

// FormatRetrievedAt formats t as a UTC retrieved_at stamp.
func FormatRetrievedAt(t time.Time) string {
	return t.UTC().Format(RetrievedAtLayout)
}
