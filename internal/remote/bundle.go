package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

func init() {
	Register("bundle", newBundleClient)
}

// Bundle file names recognized inside a bundle directory. Any of them
// may be absent; an absent file is an empty collection.
const (
	bundleScenesFile     = "scenes.jsonl"
	bundlePerformersFile = "performers.jsonl"
	bundleTagsFile       = "tags.jsonl"
	bundleStudiosFile    = "studios.jsonl"
)

// bundleClient serves a catalog from an offline JSONL export directory.
// It backs air-gapped imports, spool ingestion, and tests. The files are
// read once on first use and held in memory.
type bundleClient struct {
	dir    string
	logger *log.Logger

	mu         sync.Mutex
	loaded     bool
	scenes     []*ScenePayload
	sceneIndex map[string]*ScenePayload
	entities   map[EntityKind][]*EntityPayload
}

func newBundleClient(target string, opts Options) (Client, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("bundle directory %s: %w", target, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("bundle target %s is not a directory", target)
	}

	return &bundleClient{
		dir:    target,
		logger: opts.logger(),
	}, nil
}

func (b *bundleClient) Name() string { return "bundle" }

// load reads every recognized bundle file. Invalid entries are skipped
// with a warning; a bundle with a few bad lines still imports the rest.
func (b *bundleClient) load() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		return nil
	}

	scenes, err := readBundleScenes(filepath.Join(b.dir, bundleScenesFile), b.logger)
	if err != nil {
		return err
	}
	b.scenes = scenes
	b.sceneIndex = make(map[string]*ScenePayload, len(scenes))
	for _, s := range scenes {
		b.sceneIndex[s.ID] = s
	}

	b.entities = make(map[EntityKind][]*EntityPayload)
	for kind, name := range map[EntityKind]string{
		KindPerformer: bundlePerformersFile,
		KindTag:       bundleTagsFile,
		KindStudio:    bundleStudiosFile,
	} {
		entities, err := readBundleEntities(filepath.Join(b.dir, name), b.logger)
		if err != nil {
			return err
		}
		b.entities[kind] = entities
	}

	b.loaded = true
	return nil
}

func (b *bundleClient) Stats(ctx context.Context) (*Stats, error) {
	if err := b.load(); err != nil {
		return nil, err
	}
	return &Stats{
		SceneCount:     len(b.scenes),
		PerformerCount: len(b.entities[KindPerformer]),
		TagCount:       len(b.entities[KindTag]),
		StudioCount:    len(b.entities[KindStudio]),
		// Bundles carry no server version; the version gate skips them.
	}, nil
}

func (b *bundleClient) Scenes(ctx context.Context, filter *SceneFilter, page, perPage int) ([]*ScenePayload, int, error) {
	if err := b.load(); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = len(b.scenes)
	}

	matched := make([]*ScenePayload, 0, len(b.scenes))
	for _, s := range b.scenes {
		if filter.Matches(s) {
			matched = append(matched, s)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	start := (page - 1) * perPage
	if start >= len(matched) {
		return nil, len(matched), nil
	}
	end := start + perPage
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func (b *bundleClient) Scene(ctx context.Context, id string) (*ScenePayload, error) {
	if err := b.load(); err != nil {
		return nil, err
	}
	scene, ok := b.sceneIndex[id]
	if !ok {
		return nil, fmt.Errorf("%w: scene %s", ErrNotFound, id)
	}
	return scene, nil
}

func (b *bundleClient) Entities(ctx context.Context, kind EntityKind) ([]*EntityPayload, error) {
	if err := b.load(); err != nil {
		return nil, err
	}
	entities, ok := b.entities[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported entity kind %q", kind)
	}
	return entities, nil
}

func (b *bundleClient) EntitiesSince(ctx context.Context, kind EntityKind, since time.Time) ([]*EntityPayload, error) {
	all, err := b.Entities(ctx, kind)
	if err != nil {
		return nil, err
	}
	matched := make([]*EntityPayload, 0, len(all))
	for _, e := range all {
		// Entities without a modification time are over-reported so a
		// stale export never hides changes.
		if t := e.UpdatedTime(); t == nil || t.After(since) {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

func readBundleScenes(path string, logger *log.Logger) ([]*ScenePayload, error) {
	var scenes []*ScenePayload
	err := readJSONL(path, func(raw json.RawMessage, entry int) {
		var scene ScenePayload
		if err := json.Unmarshal(raw, &scene); err != nil {
			logger.Printf("WARNING: %s entry %d: %v (skipped)", filepath.Base(path), entry, err)
			return
		}
		scenes = append(scenes, &scene)
	})
	return scenes, err
}

func readBundleEntities(path string, logger *log.Logger) ([]*EntityPayload, error) {
	var entities []*EntityPayload
	err := readJSONL(path, func(raw json.RawMessage, entry int) {
		var entity EntityPayload
		if err := json.Unmarshal(raw, &entity); err != nil {
			logger.Printf("WARNING: %s entry %d: %v (skipped)", filepath.Base(path), entry, err)
			return
		}
		entities = append(entities, &entity)
	})
	return entities, err
}

// readJSONL streams one JSONL file, invoking fn per entry. A missing
// file is an empty collection; a malformed entry is handed to fn as raw
// bytes it can reject individually.
func readJSONL(path string, fn func(raw json.RawMessage, entry int)) error {
	file, err := os.Open(path) // #nosec G304 - controlled bundle path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	entry := 0
	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("invalid JSON in %s at entry %d: %w", path, entry+1, err)
		}
		entry++
		fn(raw, entry)
	}
	return nil
}

// IsBundleDir reports whether dir contains at least one recognized
// bundle file. Spool ingestion uses it to tell bundle drops from stray
// directories.
func IsBundleDir(dir string) bool {
	for _, name := range []string{bundleScenesFile, bundlePerformersFile, bundleTagsFile, bundleStudiosFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// WriteBundle writes a catalog snapshot as a bundle directory. Each file
// is written to a temp path and renamed so a watcher never reads a
// half-written file. Used by tests and the benchmark harness.
func WriteBundle(dir string, scenes []*ScenePayload, entities map[EntityKind][]*EntityPayload) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create bundle directory: %w", err)
	}

	if err := writeJSONL(filepath.Join(dir, bundleScenesFile), len(scenes), func(i int) interface{} {
		return scenes[i]
	}); err != nil {
		return err
	}

	for kind, name := range map[EntityKind]string{
		KindPerformer: bundlePerformersFile,
		KindTag:       bundleTagsFile,
		KindStudio:    bundleStudiosFile,
	} {
		list := entities[kind]
		if err := writeJSONL(filepath.Join(dir, name), len(list), func(i int) interface{} {
			return list[i]
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeJSONL(path string, n int, item func(i int) interface{}) error {
	tmpPath := path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmpPath, err)
	}

	encoder := json.NewEncoder(file)
	for i := 0; i < n; i++ {
		if err := encoder.Encode(item(i)); err != nil {
			file.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("failed to encode entry %d of %s: %w", i+1, path, err)
		}
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
