package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ig-audit/igaudit/internal/audit"
	"github.com/ig-audit/igaudit/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("storage.Open returned error: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := store.Close(); closeErr != nil {
			t.Errorf("store.Close returned error: %v", closeErr)
		}
	})
	return store
}

func buildSnapshot(capturedAt time.Time, followers []audit.AccountIdentity, following []audit.AccountIdentity) audit.Snapshot {
	snapshot := audit.NewSnapshot(capturedAt, audit.SourceExport)
	for _, identity := range followers {
		snapshot.Followers.Add(identity)
	}
	for _, identity := range following {
		snapshot.Following.Add(identity)
	}
	return snapshot
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := storage.Open("  "); err == nil {
		t.Fatal("expected error for blank storage path")
	}
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	capturedAt := time.Date(2024, time.January, 5, 9, 30, 0, 0, time.UTC)

	snapshot := buildSnapshot(capturedAt,
		[]audit.AccountIdentity{{PK: "1", Username: "alice", FullName: "Alice A"}, {PK: "2", Username: "bob"}},
		[]audit.AccountIdentity{{PK: "1", Username: "alice", FullName: "Alice A"}, {PK: "3", Username: "carol"}},
	)

	snapshotID, err := store.SaveSnapshot(ctx, snapshot)
	if err != nil {
		t.Fatalf("SaveSnapshot returned error: %v", err)
	}
	if snapshotID == 0 {
		t.Fatal("expected non-zero snapshot id")
	}

	loaded, err := store.SnapshotByID(ctx, snapshotID)
	if err != nil {
		t.Fatalf("SnapshotByID returned error: %v", err)
	}
	if !loaded.CapturedAt.Equal(capturedAt) {
		t.Fatalf("captured at = %v, want %v", loaded.CapturedAt, capturedAt)
	}
	if loaded.Source != audit.SourceExport {
		t.Fatalf("source = %q, want %q", loaded.Source, audit.SourceExport)
	}
	if loaded.FollowerCount() != 2 || loaded.FollowingCount() != 2 {
		t.Fatalf("relationship counts = %d/%d, want 2/2", loaded.FollowerCount(), loaded.FollowingCount())
	}
	if loaded.Followers["1"].FullName != "Alice A" {
		t.Fatalf("follower 1 = %v, want full name preserved", loaded.Followers["1"])
	}

	latest, err := store.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot returned error: %v", err)
	}
	if latest.ID != snapshotID {
		t.Fatalf("latest snapshot id = %d, want %d", latest.ID, snapshotID)
	}
}

func TestLatestSnapshotEmptyStore(t *testing.T) {
	store := openTestStore(t)

	_, err := store.LatestSnapshot(context.Background())
	if !errors.Is(err, storage.ErrSnapshotNotFound) {
		t.Fatalf("LatestSnapshot error = %v, want ErrSnapshotNotFound", err)
	}
}

func TestPreviousSnapshotAndListing(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	firstCapture := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	secondCapture := firstCapture.AddDate(0, 0, 7)

	firstID, err := store.SaveSnapshot(ctx, buildSnapshot(firstCapture,
		[]audit.AccountIdentity{{PK: "1", Username: "alice"}}, nil))
	if err != nil {
		t.Fatalf("save first snapshot: %v", err)
	}
	secondID, err := store.SaveSnapshot(ctx, buildSnapshot(secondCapture,
		[]audit.AccountIdentity{{PK: "1", Username: "alice"}, {PK: "2", Username: "bob"}}, nil))
	if err != nil {
		t.Fatalf("save second snapshot: %v", err)
	}

	latest, err := store.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot returned error: %v", err)
	}
	if latest.ID != secondID {
		t.Fatalf("latest id = %d, want %d", latest.ID, secondID)
	}

	previous, err := store.PreviousSnapshot(ctx, latest)
	if err != nil {
		t.Fatalf("PreviousSnapshot returned error: %v", err)
	}
	if previous.ID != firstID {
		t.Fatalf("previous id = %d, want %d", previous.ID, firstID)
	}

	if _, err := store.PreviousSnapshot(ctx, previous); !errors.Is(err, storage.ErrSnapshotNotFound) {
		t.Fatalf("PreviousSnapshot before first = %v, want ErrSnapshotNotFound", err)
	}

	summaries, err := store.ListSnapshots(ctx, 10)
	if err != nil {
		t.Fatalf("ListSnapshots returned error: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("summary count = %d, want 2", len(summaries))
	}
	if summaries[0].ID != secondID || summaries[0].FollowerCount != 2 {
		t.Fatalf("first summary = %+v, want newest snapshot first", summaries[0])
	}
}

func TestUsernameHistoryTracksRenames(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	firstCapture := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	secondCapture := firstCapture.AddDate(0, 0, 14)

	if _, err := store.SaveSnapshot(ctx, buildSnapshot(firstCapture,
		[]audit.AccountIdentity{{PK: "77", Username: "old_name"}}, nil)); err != nil {
		t.Fatalf("save first snapshot: %v", err)
	}
	if _, err := store.SaveSnapshot(ctx, buildSnapshot(secondCapture,
		[]audit.AccountIdentity{{PK: "77", Username: "new_name"}}, nil)); err != nil {
		t.Fatalf("save second snapshot: %v", err)
	}

	history, err := store.UsernameHistory(ctx, "77")
	if err != nil {
		t.Fatalf("UsernameHistory returned error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2 (%v)", len(history), history)
	}
	if history[0].Username != "old_name" || history[1].Username != "new_name" {
		t.Fatalf("history order = %v, want old_name then new_name", history)
	}
}

func TestVerificationQueueLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	capturedAt := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	if _, err := store.SaveSnapshot(ctx, buildSnapshot(capturedAt,
		[]audit.AccountIdentity{{PK: "9", Username: "ghost"}}, nil)); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	queueID, err := store.EnqueueMissing(ctx, audit.MissingAccount{
		Account:      audit.AccountIdentity{PK: "9", Username: "ghost"},
		LastSeen:     capturedAt,
		FirstMissing: capturedAt.AddDate(0, 0, 7),
		Status:       audit.StatusPending,
	})
	if err != nil {
		t.Fatalf("EnqueueMissing returned error: %v", err)
	}

	pending, err := store.PendingVerifications(ctx)
	if err != nil {
		t.Fatalf("PendingVerifications returned error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending count = %d, want 1", len(pending))
	}
	if pending[0].QueueID != queueID || pending[0].Missing.Account.Username != "ghost" {
		t.Fatalf("pending entry = %+v, want queued ghost account", pending[0])
	}

	if err := store.ResolveVerification(ctx, queueID, audit.StatusRenamed, "phantom", "spotted in search"); err != nil {
		t.Fatalf("ResolveVerification returned error: %v", err)
	}

	pending, err = store.PendingVerifications(ctx)
	if err != nil {
		t.Fatalf("PendingVerifications after resolve returned error: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending count after resolve = %d, want 0", len(pending))
	}

	if err := store.ResolveVerification(ctx, queueID, audit.StatusBlocked, "", ""); !errors.Is(err, storage.ErrVerificationNotPending) {
		t.Fatalf("second resolve error = %v, want ErrVerificationNotPending", err)
	}
	if err := store.ResolveVerification(ctx, queueID+100, audit.StatusBlocked, "", ""); !errors.Is(err, storage.ErrVerificationNotFound) {
		t.Fatalf("unknown id resolve error = %v, want ErrVerificationNotFound", err)
	}
	if err := store.ResolveVerification(ctx, queueID, audit.StatusPending, "", ""); !errors.Is(err, storage.ErrPendingStatusTransition) {
		t.Fatalf("pending transition error = %v, want ErrPendingStatusTransition", err)
	}
}
