package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mwheeler/reelsync/internal/remote"
)

// PayloadChecksum computes the content checksum for a scene payload: a
// SHA-256 digest over a canonical JSON serialization of the sync-relevant
// scalar fields. Map keys are serialized in sorted order, so payloads with
// equal content always hash equal regardless of field arrival order.
func PayloadChecksum(p *remote.ScenePayload) (string, error) {
	subset := map[string]interface{}{
		"title":     p.Title,
		"details":   p.Details,
		"url":       p.URL,
		"date":      checksumDate(p),
		"organized": p.Organized,
		"rating100": p.Rating100,
	}
	raw, err := json.Marshal(subset)
	if err != nil {
		return "", fmt.Errorf("failed to serialize checksum fields: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// checksumDate normalizes the payload date to a bare YYYY-MM-DD string,
// empty when the payload has no usable date. Uses the same created_at
// fallback as the merge path so the checksum tracks what a sync would
// store.
func checksumDate(p *remote.ScenePayload) string {
	if d := sceneDate(p); d != nil {
		return d.Format("2006-01-02")
	}
	return ""
}
