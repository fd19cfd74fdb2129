package storage

import "testing"

func TestBuildSnapshotKey(t *testing.T) {
	key, err := BuildSnapshotKey("2f1c6a4e-7d0b-4a57-9c1e-0f1d2e3c4b5a", "entries.parquet")
	if err != nil {
		t.Fatalf("BuildSnapshotKey() error = %v", err)
	}
	if key != "snapshots/2f1c6a4e-7d0b-4a57-9c1e-0f1d2e3c4b5a/entries.parquet" {
		t.Fatalf("unexpected key: %s", key)
	}

	buildID, ok := SnapshotBuildID(key)
	if !ok || buildID != "2f1c6a4e-7d0b-4a57-9c1e-0f1d2e3c4b5a" {
		t.Fatalf("SnapshotBuildID() = %q/%v", buildID, ok)
	}
}

func TestBuildSnapshotKeyRejectsBadComponents(t *testing.T) {
	for _, tc := range []struct{ build, file string }{
		{"../escape", "entries.parquet"},
		{"build/1", "entries.parquet"},
		{"", "entries.parquet"},
		{"CURRENT", "entries.parquet"},
		{"build-1", ""},
		{"build-1", "../CURRENT"},
	} {
		if _, err := BuildSnapshotKey(tc.build, tc.file); err == nil {
			t.Fatalf("expected error for %q/%q", tc.build, tc.file)
		}
	}
}

func TestSnapshotBuildIDIgnoresOtherKeys(t *testing.T) {
	for _, key := range []string{CurrentKey, "snapshots", "other/build-1/entries.parquet", "snapshots/b/c/d", "../snapshots/b/e"} {
		if id, ok := SnapshotBuildID(key); ok {
			t.Fatalf("SnapshotBuildID(%q) = %q, want no build", key, id)
		}
	}
}

func TestNormalizeKey(t *testing.T) {
	got, err := NormalizeKey(" /snapshots//b1/./entries.parquet ")
	if err != nil {
		t.Fatalf("NormalizeKey() error = %v", err)
	}
	if got != "snapshots/b1/entries.parquet" {
		t.Fatalf("NormalizeKey() = %q", got)
	}
	for _, bad := range []string{"", "/", "..", "../x", "a/../../x"} {
		if _, err := NormalizeKey(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
