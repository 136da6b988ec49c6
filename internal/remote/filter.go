package remote

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SceneFilter narrows a scene listing. Nil pointer fields mean
// "no constraint"; a nil *SceneFilter matches everything.
type SceneFilter struct {
	// Query matches free text against title and details.
	Query string `json:"q,omitempty"`

	// Relationship constraints, all by remote id.
	StudioID    string `json:"studio_id,omitempty"`
	PerformerID string `json:"performer_id,omitempty"`
	TagID       string `json:"tag_id,omitempty"`

	// Organized constrains the organized flag when set.
	Organized *bool `json:"organized,omitempty"`

	// MinRating constrains the local 0-5 rating scale; a scene matches
	// when floor(rating100/20) >= MinRating.
	MinRating *int `json:"min_rating,omitempty"`

	// UpdatedSince keeps scenes modified after the given instant.
	// Scenes with no modification timestamp are kept (over-reporting
	// is safe; the sync strategy re-checks each one).
	UpdatedSince *time.Time `json:"updated_since,omitempty"`
}

// ParseQuery parses a command-line filter expression into a SceneFilter.
//
// The expression is a space-separated list of terms:
//
//	studio:<id>        scenes from a studio
//	performer:<id>     scenes featuring a performer
//	tag:<id>           scenes carrying a tag
//	organized:<bool>   organized flag
//	rating>=<n>        minimum 0-5 rating
//	<word>             free-text query (words are joined)
//
// An empty expression yields a filter that matches everything.
func ParseQuery(expr string) (*SceneFilter, error) {
	filter := &SceneFilter{}
	var words []string

	for _, term := range strings.Fields(expr) {
		switch {
		case strings.HasPrefix(term, "studio:"):
			filter.StudioID = strings.TrimPrefix(term, "studio:")
		case strings.HasPrefix(term, "performer:"):
			filter.PerformerID = strings.TrimPrefix(term, "performer:")
		case strings.HasPrefix(term, "tag:"):
			filter.TagID = strings.TrimPrefix(term, "tag:")
		case strings.HasPrefix(term, "organized:"):
			b, err := strconv.ParseBool(strings.TrimPrefix(term, "organized:"))
			if err != nil {
				return nil, fmt.Errorf("invalid organized term %q: %w", term, err)
			}
			filter.Organized = &b
		case strings.HasPrefix(term, "rating>="):
			n, err := strconv.Atoi(strings.TrimPrefix(term, "rating>="))
			if err != nil {
				return nil, fmt.Errorf("invalid rating term %q: %w", term, err)
			}
			if n < 0 || n > 5 {
				return nil, fmt.Errorf("rating term %q out of range 0-5", term)
			}
			filter.MinRating = &n
		default:
			words = append(words, term)
		}
	}

	filter.Query = strings.Join(words, " ")
	return filter, nil
}

// Matches reports whether a payload satisfies the filter. Backends that
// hold the catalog in memory (bundles) use this; the HTTP backend sends
// the filter to the server instead.
func (f *SceneFilter) Matches(p *ScenePayload) bool {
	if f == nil {
		return true
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(p.Title), q) &&
			!strings.Contains(strings.ToLower(p.Details), q) {
			return false
		}
	}
	if f.StudioID != "" && p.StudioID() != f.StudioID {
		return false
	}
	if f.PerformerID != "" && !containsID(p.Performers, f.PerformerID) {
		return false
	}
	if f.TagID != "" && !containsID(p.Tags, f.TagID) {
		return false
	}
	if f.Organized != nil && p.Organized != *f.Organized {
		return false
	}
	if f.MinRating != nil {
		if p.Rating100 == nil || *p.Rating100/20 < *f.MinRating {
			return false
		}
	}
	if f.UpdatedSince != nil {
		if t := p.UpdatedTime(); t != nil && !t.After(*f.UpdatedSince) {
			return false
		}
	}
	return true
}

func containsID(entities []EntityPayload, id string) bool {
	for _, e := range entities {
		if e.ID == id {
			return true
		}
	}
	return false
}
