package remote

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// CheckVersion verifies the server version reported by Stats() against a
// minimum. Backends that report no version (bundles) pass the check, as
// does an empty minimum. The comparison follows semantic versioning;
// trailing build metadata on the server side is tolerated.
func CheckVersion(ctx context.Context, c Client, minVersion string) error {
	if minVersion == "" {
		return nil
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		return fmt.Errorf("fetching server stats: %w", err)
	}
	if stats.Version == "" {
		return nil
	}

	got := canonicalVersion(stats.Version)
	want := canonicalVersion(minVersion)
	if !semver.IsValid(got) {
		return fmt.Errorf("server reported unparseable version %q", stats.Version)
	}
	if !semver.IsValid(want) {
		return fmt.Errorf("configured minimum version %q is not valid", minVersion)
	}

	if semver.Compare(got, want) < 0 {
		return fmt.Errorf("%w: server %s, minimum %s", ErrVersionTooOld, stats.Version, minVersion)
	}
	return nil
}

// canonicalVersion normalizes "0.28.1" and "v0.28.1" to the "v"-prefixed
// form the semver package requires.
func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return v
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
