package bench

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/mwheeler/reelsync/internal/remote"
)

// catalogEpoch anchors generated timestamps. A fixed instant keeps the
// catalog byte-identical across runs with the same seed.
var catalogEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Catalog is a synthetic remote catalog ready to serve as a bundle.
type Catalog struct {
	Scenes   []*remote.ScenePayload
	Entities map[remote.EntityKind][]*remote.EntityPayload
}

// GenerateCatalog builds a deterministic synthetic catalog from the
// config's seed and counts. Scenes reference the generated performer,
// tag and studio pools with realistic sparsity: most scenes carry a
// studio and a file, some are unrated, a few have no relationships at
// all.
func GenerateCatalog(cfg *Config) *Catalog {
	rng := rand.New(rand.NewSource(cfg.Seed))

	performers := generateEntities(rng, "p", "Performer", cfg.Performers)
	tags := generateEntities(rng, "t", "Tag", cfg.Tags)
	studios := generateEntities(rng, "st", "Studio", cfg.Studios)

	scenes := make([]*remote.ScenePayload, cfg.Scenes)
	for i := 0; i < cfg.Scenes; i++ {
		created := catalogEpoch.Add(time.Duration(i) * time.Minute)
		scene := &remote.ScenePayload{
			ID:        fmt.Sprintf("s-%06d", i),
			Title:     fmt.Sprintf("Scene %d", i),
			Organized: rng.Float64() < 0.4,
			CreatedAt: created.Format(time.RFC3339),
			UpdatedAt: created.Add(30 * time.Second).Format(time.RFC3339),
		}
		if rng.Float64() < 0.7 {
			scene.Details = fmt.Sprintf("Synthetic benchmark scene %d", i)
		}
		if rng.Float64() < 0.9 {
			scene.Date = catalogEpoch.AddDate(0, 0, -rng.Intn(3650)).Format("2006-01-02")
		}
		if rng.Float64() < 0.6 {
			rating := (rng.Intn(20) + 1) * 5
			scene.Rating100 = &rating
		}
		if len(studios) > 0 && rng.Float64() < 0.8 {
			s := studios[rng.Intn(len(studios))]
			scene.Studio = &remote.EntityPayload{ID: s.ID, Name: s.Name}
		}
		scene.Performers = pickEntities(rng, performers, 3)
		scene.Tags = pickEntities(rng, tags, 5)
		scene.Files = []remote.FilePayload{generateFile(rng)}
		scenes[i] = scene
	}

	return &Catalog{
		Scenes: scenes,
		Entities: map[remote.EntityKind][]*remote.EntityPayload{
			remote.KindPerformer: performers,
			remote.KindTag:       tags,
			remote.KindStudio:    studios,
		},
	}
}

func generateEntities(rng *rand.Rand, prefix, label string, count int) []*remote.EntityPayload {
	entities := make([]*remote.EntityPayload, count)
	for i := 0; i < count; i++ {
		created := catalogEpoch.Add(time.Duration(i) * time.Hour)
		e := &remote.EntityPayload{
			ID:        fmt.Sprintf("%s-%04d", prefix, i),
			Name:      fmt.Sprintf("%s %d", label, i),
			CreatedAt: created.Format(time.RFC3339),
			UpdatedAt: created.Format(time.RFC3339),
		}
		if rng.Float64() < 0.2 {
			e.Aliases = []string{fmt.Sprintf("%s %d (alias)", label, i)}
		}
		entities[i] = e
	}
	return entities
}

// pickEntities draws up to max distinct entities from the pool.
func pickEntities(rng *rand.Rand, pool []*remote.EntityPayload, max int) []remote.EntityPayload {
	if len(pool) == 0 || max <= 0 {
		return nil
	}
	n := rng.Intn(max + 1)
	if n == 0 {
		return nil
	}
	seen := make(map[int]bool, n)
	picked := make([]remote.EntityPayload, 0, n)
	for len(picked) < n && len(seen) < len(pool) {
		idx := rng.Intn(len(pool))
		if seen[idx] {
			continue
		}
		seen[idx] = true
		picked = append(picked, *pool[idx])
	}
	return picked
}

var (
	resolutions = [][2]int{{1280, 720}, {1920, 1080}, {3840, 2160}}
	videoCodecs = []string{"h264", "hevc", "av1"}
	frameRates  = []float64{23.976, 29.97, 30, 60}
)

func generateFile(rng *rand.Rand) remote.FilePayload {
	res := resolutions[rng.Intn(len(resolutions))]
	duration := math.Round((300+rng.Float64()*3300)*100) / 100
	bitRate := int64(2_000_000 + rng.Intn(6_000_000))
	return remote.FilePayload{
		Duration:   duration,
		Size:       int64(duration * float64(bitRate) / 8),
		Width:      res[0],
		Height:     res[1],
		FrameRate:  frameRates[rng.Intn(len(frameRates))],
		BitRate:    bitRate,
		VideoCodec: videoCodecs[rng.Intn(len(videoCodecs))],
		AudioCodec: "aac",
		Primary:    true,
	}
}
