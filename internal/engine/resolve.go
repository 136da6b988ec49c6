package engine

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mwheeler/reelsync/internal/store"
)

// Resolution picks which side a pending manual conflict resolves to.
type Resolution string

const (
	// TakeLocal keeps every local value and marks the row manually
	// edited, so MERGE-policy runs keep preserving it.
	TakeLocal Resolution = "local"
	// TakeRemote applies the stored remote values and returns the row
	// to plain strategy handling.
	TakeRemote Resolution = "remote"
)

// ParseResolution maps a user-supplied side name to its constant.
func ParseResolution(name string) (Resolution, error) {
	switch r := Resolution(strings.ToLower(strings.TrimSpace(name))); r {
	case TakeLocal, TakeRemote:
		return r, nil
	default:
		return "", fmt.Errorf("unknown resolution %q (use local or remote)", name)
	}
}

// ResolveStored resolves a pending manual conflict in place using the
// change map the MANUAL policy stored on the row. The caller persists
// the row afterwards. A scene without a pending conflict is an error.
func ResolveStored(sc *store.Scene, take Resolution) error {
	var changes map[string]Change
	pending, err := sc.DecodeConflictData(&changes)
	if err != nil {
		return err
	}
	if !pending {
		return fmt.Errorf("scene %s has no pending conflict", sc.ID)
	}

	switch take {
	case TakeLocal:
		sc.ManualEdit = true
	case TakeRemote:
		applyStoredChanges(sc, changes)
		sc.ManualEdit = false
	default:
		return fmt.Errorf("unknown resolution %q", take)
	}
	sc.SyncConflict = false
	sc.ConflictData = ""
	return nil
}

// applyStoredChanges writes the remote side of a decoded change map onto
// the row. Values arrive as the loose types JSON decoding produces.
func applyStoredChanges(sc *store.Scene, changes map[string]Change) {
	for field, ch := range changes {
		if fileDerived[field] {
			applyStoredFileChange(sc, field, ch.Remote)
			continue
		}
		switch field {
		case "title":
			sc.Title = asString(ch.Remote)
		case "details":
			sc.Details = asString(ch.Remote)
		case "url":
			sc.URL = asString(ch.Remote)
		case "date":
			sc.Date = asDate(ch.Remote)
		case "rating":
			sc.Rating = asIntPtr(ch.Remote)
		case "organized":
			sc.Organized = asBool(ch.Remote)
		case "studio":
			sc.StudioID = asString(ch.Remote)
		case "performers":
			sc.PerformerIDs = asStringSlice(ch.Remote)
		case "tags":
			sc.TagIDs = asStringSlice(ch.Remote)
		}
	}
}

// applyStoredFileChange mutates the primary file, creating one for a
// scene that had no file rows when the conflict was stored.
func applyStoredFileChange(sc *store.Scene, field string, v interface{}) {
	if len(sc.Files) == 0 {
		sc.Files = []store.SceneFile{{Primary: true}}
	}
	f := sc.PrimaryFile()
	switch field {
	case "duration":
		f.Duration = asFloat(v)
	case "size":
		f.Size = int64(asFloat(v))
	case "width":
		f.Width = int(asFloat(v))
	case "height":
		f.Height = int(asFloat(v))
	case "frame_rate":
		f.FrameRate = asFloat(v)
	case "bit_rate":
		f.BitRate = int64(asFloat(v))
	case "video_codec":
		f.VideoCodec = asString(v)
	case "audio_codec":
		f.AudioCodec = asString(v)
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func asIntPtr(v interface{}) *int {
	switch n := v.(type) {
	case float64:
		i := int(n)
		return &i
	case int:
		i := n
		return &i
	case *int:
		return copyIntPtr(n)
	}
	return nil
}

func asDate(v interface{}) *time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func asStringSlice(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return slices.Clone(vals)
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
