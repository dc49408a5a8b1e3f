package ingest_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ig-audit/igaudit/internal/audit"
	"github.com/ig-audit/igaudit/internal/ingest"
)

const (
	followersPartOneJSON = `[
  {"string_list_data": [{"href": "https://www.instagram.com/alice", "value": "alice", "timestamp": 1700000000}]},
  {"string_list_data": [{"href": "https://www.instagram.com/bob", "value": "bob", "timestamp": 1700000100}]}
]`
	followersPartTwoJSON = `[
  {"string_list_data": [{"href": "https://www.instagram.com/carol", "value": "carol", "timestamp": 1700000200}]}
]`
	wrappedFollowingJSON = `{
  "relationships_following": [
    {"string_list_data": [{"href": "https://www.instagram.com/alice", "value": "alice", "timestamp": 1700000300}]},
    {"string_list_data": [{"value": "", "timestamp": 1700000400}]}
  ]
}`
)

func writeExportFile(t *testing.T, directory string, fileName string, contents string) string {
	t.Helper()
	filePath := filepath.Join(directory, fileName)
	if err := os.WriteFile(filePath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", filePath, err)
	}
	return filePath
}

func TestCollectExportFromDirectory(t *testing.T) {
	exportDirectory := t.TempDir()
	nestedDirectory := filepath.Join(exportDirectory, "connections", "followers_and_following")
	if err := os.MkdirAll(nestedDirectory, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", nestedDirectory, err)
	}

	writeExportFile(t, nestedDirectory, "followers_1.json", followersPartOneJSON)
	writeExportFile(t, nestedDirectory, "followers_2.json", followersPartTwoJSON)
	writeExportFile(t, nestedDirectory, "following.json", wrappedFollowingJSON)

	snapshot, err := ingest.CollectExport(exportDirectory)
	if err != nil {
		t.Fatalf("CollectExport returned error: %v", err)
	}

	if snapshot.Source != audit.SourceExport {
		t.Fatalf("snapshot source = %q, want %q", snapshot.Source, audit.SourceExport)
	}
	if snapshot.FollowerCount() != 3 {
		t.Fatalf("follower count = %d, want 3 (%v)", snapshot.FollowerCount(), snapshot.Followers)
	}
	if snapshot.FollowingCount() != 1 {
		t.Fatalf("following count = %d, want 1 (%v)", snapshot.FollowingCount(), snapshot.Following)
	}

	identity, exists := snapshot.Followers["username:alice"]
	if !exists {
		t.Fatalf("expected fabricated key username:alice in followers, got %v", snapshot.Followers)
	}
	if identity.Username != "alice" {
		t.Fatalf("identity username = %q, want alice", identity.Username)
	}

	// The skipped empty-username entry still contributes its timestamp, and
	// it is the latest one in the fixtures.
	expectedCaptureTime := time.Unix(1700000400, 0).UTC()
	if !snapshot.CapturedAt.Equal(expectedCaptureTime) {
		t.Fatalf("captured at = %v, want %v", snapshot.CapturedAt, expectedCaptureTime)
	}
}

func TestCollectExportFromSingleFile(t *testing.T) {
	exportDirectory := t.TempDir()
	followersPath := writeExportFile(t, exportDirectory, "followers.json", followersPartOneJSON)
	writeExportFile(t, exportDirectory, "following.json", wrappedFollowingJSON)

	snapshot, err := ingest.CollectExport(followersPath)
	if err != nil {
		t.Fatalf("CollectExport returned error: %v", err)
	}
	if snapshot.FollowerCount() != 2 {
		t.Fatalf("follower count = %d, want 2", snapshot.FollowerCount())
	}
	if snapshot.FollowingCount() != 1 {
		t.Fatalf("following count = %d, want 1", snapshot.FollowingCount())
	}
}

func TestCollectExportFallsBackToFileModTime(t *testing.T) {
	exportDirectory := t.TempDir()
	writeExportFile(t, exportDirectory, "followers.json", `[{"string_list_data": [{"value": "alice"}]}]`)
	writeExportFile(t, exportDirectory, "following.json", `[]`)

	snapshot, err := ingest.CollectExport(exportDirectory)
	if err != nil {
		t.Fatalf("CollectExport returned error: %v", err)
	}
	if snapshot.CapturedAt.IsZero() {
		t.Fatal("expected capture time fallback, got zero time")
	}
}

func TestCollectExportMissingFollowing(t *testing.T) {
	exportDirectory := t.TempDir()
	writeExportFile(t, exportDirectory, "followers.json", followersPartOneJSON)

	if _, err := ingest.CollectExport(exportDirectory); err == nil {
		t.Fatal("expected error when following file is absent")
	}
}

func TestCollectExportRejectsUnknownFile(t *testing.T) {
	exportDirectory := t.TempDir()
	unknownPath := writeExportFile(t, exportDirectory, "media.json", `[]`)

	if _, err := ingest.CollectExport(unknownPath); err == nil {
		t.Fatal("expected error for a file without a recognizable stem")
	}
}
