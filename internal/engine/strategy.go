package engine

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mwheeler/reelsync/internal/remote"
	"github.com/mwheeler/reelsync/internal/store"
)

// Payload is the remote side of a strategy decision. Both scene and
// reference-entity payloads satisfy it.
type Payload interface {
	// UpdatedTime reports the remote modification time, nil when the
	// payload carries none.
	UpdatedTime() *time.Time
}

// Target is the local side of a strategy decision. Both scene and
// reference-entity rows satisfy it.
type Target interface {
	// RemoteUpdated reports the remote modification time recorded at
	// the last sync, nil when none was recorded.
	RemoteUpdated() *time.Time
}

// Strategy decides per item whether remote state is pulled and how it
// merges into the local row. One strategy is selected per run, never per
// item.
type Strategy interface {
	// Name identifies the strategy in logs, history, and summaries.
	Name() string

	// ShouldSync reports whether the payload warrants a sync against
	// the local target. A nil target means no local row exists yet.
	ShouldSync(p Payload, target Target) (bool, error)

	// MergeData merges the payload into the target in place. The
	// target must be non-nil and of the kind matching the payload.
	MergeData(p Payload, target Target) error
}

// ParseStrategy maps a user-supplied strategy name to its implementation.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "full":
		return Full{}, nil
	case "incremental":
		return Incremental{}, nil
	case "smart":
		return Smart{}, nil
	default:
		return nil, fmt.Errorf("unknown sync strategy %q", name)
	}
}

// ===== Full =====

// Full syncs every item and overwrites every mapped field.
type Full struct{}

// Name implements Strategy.
func (Full) Name() string { return "full" }

// ShouldSync implements Strategy. Always true.
func (Full) ShouldSync(Payload, Target) (bool, error) { return true, nil }

// MergeData implements Strategy.
func (Full) MergeData(p Payload, target Target) error {
	return mergeFull(p, target)
}

// ===== Incremental =====

// Incremental syncs an item only when the remote copy is strictly newer
// than what the last sync recorded. Items with no local row, no recorded
// local timestamp, or no remote timestamp always sync.
type Incremental struct{}

// Name implements Strategy.
func (Incremental) Name() string { return "incremental" }

// ShouldSync implements Strategy. Equal timestamps mean skip.
func (Incremental) ShouldSync(p Payload, target Target) (bool, error) {
	if target == nil {
		return true, nil
	}
	local := target.RemoteUpdated()
	rt := p.UpdatedTime()
	if local == nil || rt == nil {
		return true, nil
	}
	return rt.After(*local), nil
}

// MergeData implements Strategy. Delegates to the full merge.
func (Incremental) MergeData(p Payload, target Target) error {
	return mergeFull(p, target)
}

// ===== Smart =====

// Smart layers a content checksum on the incremental check, catching
// scene edits that did not move the remote timestamp. Entity kinds
// without a checksum keep the incremental decision.
type Smart struct{}

// Name implements Strategy.
func (Smart) Name() string { return "smart" }

// ShouldSync implements Strategy.
func (Smart) ShouldSync(p Payload, target Target) (bool, error) {
	sync, err := Incremental{}.ShouldSync(p, target)
	if err != nil || sync {
		return sync, err
	}
	pl, ok := p.(*remote.ScenePayload)
	if !ok {
		return false, nil
	}
	sc, ok := target.(*store.Scene)
	if !ok {
		return false, nil
	}
	if sc.ContentChecksum == "" {
		return true, nil
	}
	sum, err := PayloadChecksum(pl)
	if err != nil {
		return false, err
	}
	return sum != sc.ContentChecksum, nil
}

// MergeData implements Strategy. Scenes merge per field, touching only
// fields that differ; other kinds take the full merge.
func (Smart) MergeData(p Payload, target Target) error {
	pl, ok := p.(*remote.ScenePayload)
	if !ok {
		return mergeFull(p, target)
	}
	sc, ok := target.(*store.Scene)
	if !ok {
		return fmt.Errorf("scene payload requires a scene target, got %T", target)
	}
	return mergeSceneSmart(pl, sc)
}

// ===== Merge helpers =====

func mergeFull(p Payload, target Target) error {
	switch pl := p.(type) {
	case *remote.ScenePayload:
		sc, ok := target.(*store.Scene)
		if !ok {
			return fmt.Errorf("scene payload requires a scene target, got %T", target)
		}
		return mergeSceneFull(pl, sc)
	case *remote.EntityPayload:
		ent, ok := target.(*store.Entity)
		if !ok {
			return fmt.Errorf("entity payload requires an entity target, got %T", target)
		}
		mergeEntityFull(pl, ent)
		return nil
	default:
		return fmt.Errorf("unsupported payload type %T", p)
	}
}

func mergeSceneFull(p *remote.ScenePayload, sc *store.Scene) error {
	sc.Title = p.Title
	sc.Details = p.Details
	sc.URL = p.URL
	sc.Date = sceneDate(p)
	sc.Rating = RatingFromRemote(p.Rating100)
	sc.Organized = p.Organized
	sc.Files = fileRows(p)
	sc.StudioID = p.StudioID()
	sc.PerformerIDs = p.PerformerIDs()
	sc.TagIDs = p.TagIDs()
	return stampSceneSync(p, sc)
}

func mergeSceneSmart(p *remote.ScenePayload, sc *store.Scene) error {
	if p.Title != sc.Title {
		sc.Title = p.Title
	}
	if p.Details != sc.Details {
		sc.Details = p.Details
	}
	if p.URL != sc.URL {
		sc.URL = p.URL
	}
	if d := sceneDate(p); !timePtrEqual(d, sc.Date) {
		sc.Date = d
	}
	if r := RatingFromRemote(p.Rating100); !intPtrEqual(r, sc.Rating) {
		sc.Rating = r
	}
	if p.Organized != sc.Organized {
		sc.Organized = p.Organized
	}
	if files := fileRows(p); !slices.Equal(files, sc.Files) {
		sc.Files = files
	}
	if sid := p.StudioID(); sid != sc.StudioID {
		sc.StudioID = sid
	}
	if ids := p.PerformerIDs(); !slices.Equal(ids, sc.PerformerIDs) {
		sc.PerformerIDs = ids
	}
	if ids := p.TagIDs(); !slices.Equal(ids, sc.TagIDs) {
		sc.TagIDs = ids
	}
	return stampSceneSync(p, sc)
}

func mergeEntityFull(p *remote.EntityPayload, ent *store.Entity) {
	ent.Name = p.Name
	ent.Aliases = slices.Clone(p.Aliases)
	ent.URL = p.URL
	ent.RemoteUpdatedAt = p.UpdatedTime()
}

// stampSceneSync rewrites the bookkeeping fields every scene merge
// refreshes regardless of what changed: the content checksum and the
// remote timestamps the next incremental check compares against.
func stampSceneSync(p *remote.ScenePayload, sc *store.Scene) error {
	sum, err := PayloadChecksum(p)
	if err != nil {
		return err
	}
	sc.ContentChecksum = sum
	sc.RemoteCreatedAt = p.CreatedTime()
	sc.RemoteUpdatedAt = p.UpdatedTime()
	return nil
}

// RatingFromRemote converts the remote 0-100 rating scale to the local
// 0-5 scale by integer division. Nil stays nil.
func RatingFromRemote(rating100 *int) *int {
	if rating100 == nil {
		return nil
	}
	r := *rating100 / 20
	if r > 5 {
		r = 5
	}
	if r < 0 {
		r = 0
	}
	return &r
}

// sceneDate normalizes the payload date to UTC midnight of the date the
// remote expressed. A payload without a usable date falls back to the
// created_at date; both absent yields nil.
func sceneDate(p *remote.ScenePayload) *time.Time {
	t := remote.ParseTimestamp(p.Date)
	if t == nil {
		t = remote.ParseTimestamp(p.CreatedAt)
	}
	if t == nil {
		return nil
	}
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &day
}

func fileRow(f remote.FilePayload) store.SceneFile {
	return store.SceneFile{
		Duration:   f.Duration,
		Size:       f.Size,
		Width:      f.Width,
		Height:     f.Height,
		FrameRate:  f.FrameRate,
		BitRate:    f.BitRate,
		VideoCodec: f.VideoCodec,
		AudioCodec: f.AudioCodec,
		Primary:    f.Primary,
	}
}

func fileRows(p *remote.ScenePayload) []store.SceneFile {
	if len(p.Files) == 0 {
		return nil
	}
	files := make([]store.SceneFile, 0, len(p.Files))
	for _, f := range p.Files {
		files = append(files, fileRow(f))
	}
	return files
}

// sceneTarget wraps a possibly nil scene row for the strategy interface
// without producing a typed-nil Target.
func sceneTarget(s *store.Scene) Target {
	if s == nil {
		return nil
	}
	return s
}

// entityTarget is sceneTarget for reference entities.
func entityTarget(e *store.Entity) Target {
	if e == nil {
		return nil
	}
	return e
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
