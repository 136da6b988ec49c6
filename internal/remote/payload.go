// Package remote defines the read surface of the media-cataloging server
// and the payload shapes it returns. Backends (HTTP, offline bundle)
// register themselves with the backend registry and are selected by target.
package remote

import (
	"fmt"
	"sort"
	"time"
)

// EntityKind identifies an entity collection on the remote server.
type EntityKind string

const (
	KindScene     EntityKind = "scene"
	KindPerformer EntityKind = "performer"
	KindTag       EntityKind = "tag"
	KindStudio    EntityKind = "studio"
)

// ReferenceKinds returns the reference entity kinds in sync order.
// Reference entities are synchronized before scenes so that scene rows
// can resolve studio/performer/tag links on first insert.
func ReferenceKinds() []EntityKind {
	return []EntityKind{KindPerformer, KindTag, KindStudio}
}

// timestampLayouts are the wire formats the server emits, richest first.
// RFC 3339 covers the trailing zone designator; the bare forms cover
// servers configured without one.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses a server timestamp string. It accepts date-only,
// date-time, and date-time-with-designator forms. Returns nil for empty
// or unparseable input rather than an error: payload timestamps are
// advisory and a malformed one must not fail a sync.
func ParseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// FilePayload describes one media file attached to a scene.
type FilePayload struct {
	Duration   float64 `json:"duration,omitempty"`
	Size       int64   `json:"size,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	FrameRate  float64 `json:"frame_rate,omitempty"`
	BitRate    int64   `json:"bit_rate,omitempty"`
	VideoCodec string  `json:"video_codec,omitempty"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	Primary    bool    `json:"primary,omitempty"`
}

// EntityPayload is a reference entity (performer, tag, or studio) as
// returned by the server, either standalone or nested in a scene.
type EntityPayload struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
	URL     string   `json:"url,omitempty"`

	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// UpdatedTime returns the parsed modification timestamp, or nil.
func (e *EntityPayload) UpdatedTime() *time.Time {
	return ParseTimestamp(e.UpdatedAt)
}

// Validate checks the payload fields required for persistence.
func (e *EntityPayload) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

// ScenePayload is one scene as returned by the server. Optional fields
// stay at their zero value when the server omits them; timestamps are
// kept as raw strings because the wire format varies (see ParseTimestamp).
type ScenePayload struct {
	// ===== Identity =====
	ID string `json:"id"`

	// ===== Content =====
	Title     string `json:"title,omitempty"`
	Details   string `json:"details,omitempty"`
	URL       string `json:"url,omitempty"`
	Date      string `json:"date,omitempty"`
	Rating100 *int   `json:"rating100,omitempty"` // 0-100 scale, null when unrated
	Organized bool   `json:"organized"`

	// ===== Files =====
	Files []FilePayload `json:"files,omitempty"`

	// ===== Relationships =====
	Studio     *EntityPayload  `json:"studio,omitempty"`
	Performers []EntityPayload `json:"performers,omitempty"`
	Tags       []EntityPayload `json:"tags,omitempty"`

	// ===== Timestamps =====
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Validate checks the payload fields required for persistence.
func (p *ScenePayload) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

// CreatedTime returns the parsed creation timestamp, or nil.
func (p *ScenePayload) CreatedTime() *time.Time {
	return ParseTimestamp(p.CreatedAt)
}

// UpdatedTime returns the parsed modification timestamp, or nil.
func (p *ScenePayload) UpdatedTime() *time.Time {
	return ParseTimestamp(p.UpdatedAt)
}

// PrimaryFile returns the file flagged primary, falling back to the first
// file when none is flagged. Returns nil for a scene with no files.
func (p *ScenePayload) PrimaryFile() *FilePayload {
	for i := range p.Files {
		if p.Files[i].Primary {
			return &p.Files[i]
		}
	}
	if len(p.Files) > 0 {
		return &p.Files[0]
	}
	return nil
}

// PerformerIDs returns the performer id set, sorted.
func (p *ScenePayload) PerformerIDs() []string {
	return entityIDs(p.Performers)
}

// TagIDs returns the tag id set, sorted.
func (p *ScenePayload) TagIDs() []string {
	return entityIDs(p.Tags)
}

// StudioID returns the nested studio id, or "" when the scene has none.
func (p *ScenePayload) StudioID() string {
	if p.Studio == nil {
		return ""
	}
	return p.Studio.ID
}

func entityIDs(entities []EntityPayload) []string {
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		if e.ID != "" {
			ids = append(ids, e.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Stats summarizes the remote catalog. Version is empty for backends
// that have no server version (offline bundles).
type Stats struct {
	SceneCount     int    `json:"scene_count"`
	PerformerCount int    `json:"performer_count"`
	TagCount       int    `json:"tag_count"`
	StudioCount    int    `json:"studio_count"`
	Version        string `json:"version,omitempty"`
}
