package engine

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mwheeler/reelsync/internal/remote"
	"github.com/mwheeler/reelsync/internal/store"
)

// ChangeType classifies one detected difference.
type ChangeType string

const (
	// ChangeField marks a scalar or file-derived field difference.
	ChangeField ChangeType = "FIELD_MISMATCH"
	// ChangeRelationship marks a difference in a many-to-many id set.
	ChangeRelationship ChangeType = "RELATIONSHIP_MISMATCH"
)

// Change captures one differing field between a local row and a remote
// payload. Relationship changes additionally list which ids the remote
// added and removed, both sorted.
type Change struct {
	Type   ChangeType  `json:"type"`
	Local  interface{} `json:"local"`
	Remote interface{} `json:"remote"`

	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// ConflictPolicy picks what happens to a scene whose local row diverged
// from the remote.
type ConflictPolicy string

const (
	// PolicyRemoteWins overwrites every changed field with the remote
	// value, file-derived fields included.
	PolicyRemoteWins ConflictPolicy = "remote_wins"
	// PolicyLocalWins keeps every local value; the conflict is still
	// recorded in the audit log.
	PolicyLocalWins ConflictPolicy = "local_wins"
	// PolicyMerge takes remote values for file-derived fields always,
	// and for other fields only when the row is not manually edited.
	PolicyMerge ConflictPolicy = "merge"
	// PolicyManual mutates nothing and flags the row for interactive
	// resolution, storing the full change map on it.
	PolicyManual ConflictPolicy = "manual"
)

// ParseConflictPolicy maps a user-supplied policy name to its constant.
// Hyphens and spaces normalize to underscores, so "remote-wins" works.
func ParseConflictPolicy(name string) (ConflictPolicy, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer("-", "_", " ", "_").Replace(n)
	switch p := ConflictPolicy(n); p {
	case PolicyRemoteWins, PolicyLocalWins, PolicyMerge, PolicyManual:
		return p, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q", name)
	}
}

// ConflictEntry is one audit log record: what diverged on which entity
// and how the policy handled it.
type ConflictEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Kind      remote.EntityKind `json:"entity_type"`
	EntityID  string            `json:"entity_id"`
	Policy    ConflictPolicy    `json:"strategy"`
	Resolved  bool              `json:"resolved"`
	Changes   map[string]Change `json:"changes"`
}

// ConflictSummary aggregates everything the resolver has seen.
type ConflictSummary struct {
	Total    int                       `json:"total_conflicts"`
	ByKind   map[remote.EntityKind]int `json:"by_type"`
	ByPolicy map[ConflictPolicy]int    `json:"by_strategy"`
	Recent   []ConflictEntry           `json:"recent_conflicts"`
}

// recentConflicts bounds the rolling window Summary reports.
const recentConflicts = 25

// Resolver applies a conflict policy to diverged scenes and keeps an
// in-memory audit log of what it decided. One resolver lives for the
// duration of an engine; its log spans runs within the process.
type Resolver struct {
	logger *log.Logger

	mu       sync.Mutex
	total    int
	byKind   map[remote.EntityKind]int
	byPolicy map[ConflictPolicy]int
	recent   []ConflictEntry

	onConflict func(ConflictEntry)
}

// NewResolver creates a resolver. A nil logger defaults to stderr.
func NewResolver(logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Resolver{
		logger:   logger,
		byKind:   make(map[remote.EntityKind]int),
		byPolicy: make(map[ConflictPolicy]int),
	}
}

// OnConflict registers a callback invoked once per recorded conflict,
// outside the resolver's lock.
func (r *Resolver) OnConflict(fn func(ConflictEntry)) {
	r.mu.Lock()
	r.onConflict = fn
	r.mu.Unlock()
}

// DetectChanges compares a local scene row against a remote payload and
// returns one entry per differing field. An empty map means no conflict;
// callers skip logging entirely for it.
//
// Ratings compare on the remote 0-100 scale; resolution writes the same
// scale back, so an already-resolved row stops flagging.
func DetectChanges(local *store.Scene, p *remote.ScenePayload) map[string]Change {
	changes := make(map[string]Change)

	if local.Title != p.Title {
		changes["title"] = Change{Type: ChangeField, Local: local.Title, Remote: p.Title}
	}
	if local.Details != p.Details {
		changes["details"] = Change{Type: ChangeField, Local: local.Details, Remote: p.Details}
	}
	if local.URL != p.URL {
		changes["url"] = Change{Type: ChangeField, Local: local.URL, Remote: p.URL}
	}
	if rd := sceneDate(p); !timePtrEqual(local.Date, rd) {
		changes["date"] = Change{Type: ChangeField, Local: fmtDatePtr(local.Date), Remote: fmtDatePtr(rd)}
	}
	if !intPtrEqual(local.Rating, p.Rating100) {
		changes["rating"] = Change{Type: ChangeField, Local: local.Rating, Remote: p.Rating100}
	}
	if local.Organized != p.Organized {
		changes["organized"] = Change{Type: ChangeField, Local: local.Organized, Remote: p.Organized}
	}

	detectFileChanges(local, p, changes)

	if sid := p.StudioID(); local.StudioID != sid {
		changes["studio"] = Change{Type: ChangeField, Local: local.StudioID, Remote: sid}
	}
	remotePerformers := p.PerformerIDs()
	if added, removed := diffIDSets(local.PerformerIDs, remotePerformers); len(added)+len(removed) > 0 {
		changes["performers"] = Change{
			Type:    ChangeRelationship,
			Local:   local.PerformerIDs,
			Remote:  remotePerformers,
			Added:   added,
			Removed: removed,
		}
	}
	remoteTags := p.TagIDs()
	if added, removed := diffIDSets(local.TagIDs, remoteTags); len(added)+len(removed) > 0 {
		changes["tags"] = Change{
			Type:    ChangeRelationship,
			Local:   local.TagIDs,
			Remote:  remoteTags,
			Added:   added,
			Removed: removed,
		}
	}
	return changes
}

// detectFileChanges compares the primary files field by field. A side
// with no files compares as a zero-valued file.
func detectFileChanges(local *store.Scene, p *remote.ScenePayload, changes map[string]Change) {
	var lf store.SceneFile
	if f := local.PrimaryFile(); f != nil {
		lf = *f
	}
	var rf store.SceneFile
	if f := p.PrimaryFile(); f != nil {
		rf = fileRow(*f)
	}

	if lf.Duration != rf.Duration {
		changes["duration"] = Change{Type: ChangeField, Local: lf.Duration, Remote: rf.Duration}
	}
	if lf.Size != rf.Size {
		changes["size"] = Change{Type: ChangeField, Local: lf.Size, Remote: rf.Size}
	}
	if lf.Width != rf.Width {
		changes["width"] = Change{Type: ChangeField, Local: lf.Width, Remote: rf.Width}
	}
	if lf.Height != rf.Height {
		changes["height"] = Change{Type: ChangeField, Local: lf.Height, Remote: rf.Height}
	}
	if lf.FrameRate != rf.FrameRate {
		changes["frame_rate"] = Change{Type: ChangeField, Local: lf.FrameRate, Remote: rf.FrameRate}
	}
	if lf.BitRate != rf.BitRate {
		changes["bit_rate"] = Change{Type: ChangeField, Local: lf.BitRate, Remote: rf.BitRate}
	}
	if lf.VideoCodec != rf.VideoCodec {
		changes["video_codec"] = Change{Type: ChangeField, Local: lf.VideoCodec, Remote: rf.VideoCodec}
	}
	if lf.AudioCodec != rf.AudioCodec {
		changes["audio_codec"] = Change{Type: ChangeField, Local: lf.AudioCodec, Remote: rf.AudioCodec}
	}
}

// fileDerived names the change keys that come from file metadata rather
// than catalog fields. MERGE takes these from the remote even on
// manually edited rows.
var fileDerived = map[string]bool{
	"duration":    true,
	"size":        true,
	"width":       true,
	"height":      true,
	"frame_rate":  true,
	"bit_rate":    true,
	"video_codec": true,
	"audio_codec": true,
}

// ResolveSceneConflict detects divergence between the local row and the
// payload and applies the policy in place. It returns the change map,
// empty meaning the rows agree and nothing was logged.
func (r *Resolver) ResolveSceneConflict(local *store.Scene, p *remote.ScenePayload, policy ConflictPolicy) (map[string]Change, error) {
	changes := DetectChanges(local, p)
	if len(changes) == 0 {
		return nil, nil
	}

	resolved := true
	switch policy {
	case PolicyRemoteWins:
		r.applyRemoteChanges(local, p, changes, false)
		if err := r.stampResolved(local, p); err != nil {
			return nil, err
		}
	case PolicyLocalWins:
		// Local values stand. The divergence is still recorded below.
	case PolicyMerge:
		r.applyRemoteChanges(local, p, changes, true)
		if err := r.stampResolved(local, p); err != nil {
			return nil, err
		}
	case PolicyManual:
		resolved = false
		raw, err := json.Marshal(changes)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize conflict data: %w", err)
		}
		local.SyncConflict = true
		local.ConflictData = string(raw)
	default:
		return nil, fmt.Errorf("unknown conflict policy %q", policy)
	}

	r.record(ConflictEntry{
		Timestamp: time.Now().UTC(),
		Kind:      remote.KindScene,
		EntityID:  local.ID,
		Policy:    policy,
		Resolved:  resolved,
		Changes:   changes,
	})
	r.logger.Printf("conflict on scene %s: %d change(s), policy %s", local.ID, len(changes), policy)
	return changes, nil
}

// applyRemoteChanges overwrites the locally diverged fields with remote
// values. File-derived changes replace the file rows wholesale. With
// preserveManual set, non-file fields on a manually edited row keep
// their local values.
func (r *Resolver) applyRemoteChanges(sc *store.Scene, p *remote.ScenePayload, changes map[string]Change, preserveManual bool) {
	filesReplaced := false
	for field := range changes {
		if fileDerived[field] {
			if !filesReplaced {
				sc.Files = fileRows(p)
				filesReplaced = true
			}
			continue
		}
		if preserveManual && sc.ManualEdit {
			continue
		}
		switch field {
		case "title":
			sc.Title = p.Title
		case "details":
			sc.Details = p.Details
		case "url":
			sc.URL = p.URL
		case "date":
			sc.Date = sceneDate(p)
		case "rating":
			sc.Rating = copyIntPtr(p.Rating100)
		case "organized":
			sc.Organized = p.Organized
		case "studio":
			sc.StudioID = p.StudioID()
		case "performers":
			sc.PerformerIDs = p.PerformerIDs()
		case "tags":
			sc.TagIDs = p.TagIDs()
		}
	}
}

// stampResolved refreshes the checksum and clears any pending manual
// flag after a policy applied remote data.
func (r *Resolver) stampResolved(local *store.Scene, p *remote.ScenePayload) error {
	sum, err := PayloadChecksum(p)
	if err != nil {
		return err
	}
	local.ContentChecksum = sum
	local.SyncConflict = false
	local.ConflictData = ""
	return nil
}

func (r *Resolver) record(entry ConflictEntry) {
	r.mu.Lock()
	r.total++
	r.byKind[entry.Kind]++
	r.byPolicy[entry.Policy]++
	r.recent = append(r.recent, entry)
	if len(r.recent) > recentConflicts {
		r.recent = r.recent[len(r.recent)-recentConflicts:]
	}
	fn := r.onConflict
	r.mu.Unlock()

	if fn != nil {
		fn(entry)
	}
}

// Summary snapshots the audit counters and the bounded recent window.
func (r *Resolver) Summary() ConflictSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := ConflictSummary{
		Total:    r.total,
		ByKind:   make(map[remote.EntityKind]int, len(r.byKind)),
		ByPolicy: make(map[ConflictPolicy]int, len(r.byPolicy)),
		Recent:   slices.Clone(r.recent),
	}
	for k, v := range r.byKind {
		s.ByKind[k] = v
	}
	for k, v := range r.byPolicy {
		s.ByPolicy[k] = v
	}
	return s
}

// diffIDSets returns the ids present only in remote (added) and only in
// local (removed), each sorted ascending.
func diffIDSets(local, remoteIDs []string) (added, removed []string) {
	localSet := make(map[string]bool, len(local))
	for _, id := range local {
		localSet[id] = true
	}
	remoteSet := make(map[string]bool, len(remoteIDs))
	for _, id := range remoteIDs {
		remoteSet[id] = true
		if !localSet[id] {
			added = append(added, id)
		}
	}
	for _, id := range local {
		if !remoteSet[id] {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func fmtDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func copyIntPtr(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
