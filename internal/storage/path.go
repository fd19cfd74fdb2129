package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

const (
	SnapshotPrefix = "snapshots"
	CurrentKey     = SnapshotPrefix + "/CURRENT"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildSnapshotKey names a file inside one build's directory,
// snapshots/<build-id>/<file>.
func BuildSnapshotKey(buildID, file string) (string, error) {
	if err := validatePathComponent(buildID, "build id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(file, "snapshot file"); err != nil {
		return "", err
	}
	if buildID == "CURRENT" {
		return "", fmt.Errorf("invalid build id: %q", buildID)
	}
	return path.Join(SnapshotPrefix, buildID, file), nil
}

// SnapshotBuildID returns the build a key belongs to. CURRENT and keys
// outside the snapshot prefix belong to no build.
func SnapshotBuildID(key string) (string, bool) {
	normalized, err := NormalizeKey(key)
	if err != nil {
		return "", false
	}
	parts := strings.Split(normalized, "/")
	if len(parts) != 3 || parts[0] != SnapshotPrefix {
		return "", false
	}
	if validatePathComponent(parts[1], "build id") != nil {
		return "", false
	}
	return parts[1], true
}

// NormalizeKey cleans a store-relative key and rejects keys that escape the
// store root.
func NormalizeKey(key string) (string, error) {
	key = strings.TrimSpace(strings.TrimPrefix(key, "/"))
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.Contains(cleaned, "/../") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return cleaned, nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
