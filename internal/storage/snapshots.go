package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ig-audit/igaudit/internal/audit"
)

// ErrSnapshotNotFound indicates that no snapshot matched the query.
var ErrSnapshotNotFound = errors.New("snapshot not found")

const (
	defaultListLimit = 10

	insertSnapshotSQL = `INSERT INTO snapshots (captured_at, source, follower_count, following_count)
VALUES (?, ?, ?, ?)`
	selectAccountSQL = `SELECT username, first_seen FROM accounts WHERE pk = ?`
	insertAccountSQL = `INSERT INTO accounts (pk, username, full_name, first_seen, last_seen)
VALUES (?, ?, ?, ?, ?)`
	updateAccountSQL = `UPDATE accounts SET username = ?, full_name = ?, last_seen = ? WHERE pk = ?`
	upsertHistorySQL = `INSERT INTO username_history (account_pk, username, first_seen, last_seen)
VALUES (?, ?, ?, ?)
ON CONFLICT(account_pk, username) DO UPDATE SET last_seen = excluded.last_seen`
	insertFollowerSQL    = `INSERT INTO snapshot_followers (snapshot_id, account_pk) VALUES (?, ?)`
	insertFollowingSQL   = `INSERT INTO snapshot_following (snapshot_id, account_pk) VALUES (?, ?)`
	selectLatestSQL      = `SELECT id, captured_at, source FROM snapshots ORDER BY captured_at DESC, id DESC LIMIT 1`
	selectSnapshotSQL    = `SELECT id, captured_at, source FROM snapshots WHERE id = ?`
	selectSnapshotsSQL   = `SELECT id, captured_at, source, follower_count, following_count FROM snapshots ORDER BY captured_at DESC, id DESC LIMIT ?`
	selectRelationsQuery = `SELECT a.pk, a.username, COALESCE(a.full_name, '')
FROM %s relation
JOIN accounts a ON relation.account_pk = a.pk
WHERE relation.snapshot_id = ?`
	selectHistorySQL = `SELECT username, first_seen, last_seen
FROM username_history
WHERE account_pk = ?
ORDER BY first_seen, username`

	followersRelationTable = "snapshot_followers"
	followingRelationTable = "snapshot_following"
)

// SnapshotSummary lists stored snapshot metadata without relationship data.
type SnapshotSummary struct {
	ID             int64                `json:"id"`
	CapturedAt     time.Time            `json:"capturedAt"`
	Source         audit.SnapshotSource `json:"source"`
	FollowerCount  int                  `json:"followerCount"`
	FollowingCount int                  `json:"followingCount"`
}

// UsernameHistoryEntry records one username an account was observed under.
type UsernameHistoryEntry struct {
	Username  string
	FirstSeen time.Time
	LastSeen  time.Time
}

// SaveSnapshot persists a snapshot with its relationship sets, upserts the
// involved accounts, and records username history rows for renames observed
// at save time. It returns the assigned snapshot identifier.
func (store *Store) SaveSnapshot(ctx context.Context, snapshot audit.Snapshot) (int64, error) {
	tx, err := store.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save snapshot: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	capturedAt := formatTimestamp(snapshot.CapturedAt)
	result, err := tx.ExecContext(ctx, insertSnapshotSQL,
		capturedAt, string(snapshot.Source), snapshot.FollowerCount(), snapshot.FollowingCount())
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	snapshotID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("snapshot id: %w", err)
	}

	allAccounts := snapshot.Followers.Clone()
	for primaryKey, identity := range snapshot.Following {
		allAccounts[primaryKey] = identity
	}
	for _, identity := range audit.SortedAccounts(allAccounts) {
		if err := upsertAccount(ctx, tx, identity, capturedAt); err != nil {
			return 0, err
		}
	}

	if err := insertRelations(ctx, tx, insertFollowerSQL, snapshotID, snapshot.Followers); err != nil {
		return 0, err
	}
	if err := insertRelations(ctx, tx, insertFollowingSQL, snapshotID, snapshot.Following); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit save snapshot: %w", err)
	}
	return snapshotID, nil
}

func upsertAccount(ctx context.Context, tx *sql.Tx, identity audit.AccountIdentity, observedAt string) error {
	var storedUsername string
	var firstSeen string
	err := tx.QueryRowContext(ctx, selectAccountSQL, identity.PK).Scan(&storedUsername, &firstSeen)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, insertAccountSQL,
			identity.PK, identity.Username, nullableString(identity.FullName), observedAt, observedAt); err != nil {
			return fmt.Errorf("insert account %s: %w", identity.PK, err)
		}
		if _, err := tx.ExecContext(ctx, upsertHistorySQL,
			identity.PK, identity.Username, observedAt, observedAt); err != nil {
			return fmt.Errorf("insert username history %s: %w", identity.PK, err)
		}
		return nil

	case err != nil:
		return fmt.Errorf("lookup account %s: %w", identity.PK, err)
	}

	if _, err := tx.ExecContext(ctx, updateAccountSQL,
		identity.Username, nullableString(identity.FullName), observedAt, identity.PK); err != nil {
		return fmt.Errorf("update account %s: %w", identity.PK, err)
	}
	if storedUsername != identity.Username {
		if _, err := tx.ExecContext(ctx, upsertHistorySQL,
			identity.PK, storedUsername, firstSeen, observedAt); err != nil {
			return fmt.Errorf("close username history %s: %w", identity.PK, err)
		}
	}
	if _, err := tx.ExecContext(ctx, upsertHistorySQL,
		identity.PK, identity.Username, observedAt, observedAt); err != nil {
		return fmt.Errorf("extend username history %s: %w", identity.PK, err)
	}
	return nil
}

func insertRelations(ctx context.Context, tx *sql.Tx, insertSQL string, snapshotID int64, set audit.AccountSet) error {
	for _, identity := range audit.SortedAccounts(set) {
		if _, err := tx.ExecContext(ctx, insertSQL, snapshotID, identity.PK); err != nil {
			return fmt.Errorf("insert relation %s: %w", identity.PK, err)
		}
	}
	return nil
}

// LatestSnapshot loads the most recent snapshot with full relationship sets.
func (store *Store) LatestSnapshot(ctx context.Context) (audit.Snapshot, error) {
	return store.loadSnapshotRow(ctx, store.sqlDB.QueryRowContext(ctx, selectLatestSQL))
}

// SnapshotByID loads a stored snapshot by identifier.
func (store *Store) SnapshotByID(ctx context.Context, snapshotID int64) (audit.Snapshot, error) {
	return store.loadSnapshotRow(ctx, store.sqlDB.QueryRowContext(ctx, selectSnapshotSQL, snapshotID))
}

// PreviousSnapshot loads the newest snapshot older than the given one.
func (store *Store) PreviousSnapshot(ctx context.Context, snapshot audit.Snapshot) (audit.Snapshot, error) {
	const selectPreviousSQL = `SELECT id, captured_at, source FROM snapshots
WHERE captured_at < ? OR (captured_at = ? AND id < ?)
ORDER BY captured_at DESC, id DESC LIMIT 1`
	capturedAt := formatTimestamp(snapshot.CapturedAt)
	row := store.sqlDB.QueryRowContext(ctx, selectPreviousSQL, capturedAt, capturedAt, snapshot.ID)
	return store.loadSnapshotRow(ctx, row)
}

// ListSnapshots returns stored snapshot summaries, newest first.
func (store *Store) ListSnapshots(ctx context.Context, limit int) ([]SnapshotSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := store.sqlDB.QueryContext(ctx, selectSnapshotsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var summaries []SnapshotSummary
	for rows.Next() {
		var summary SnapshotSummary
		var capturedAt string
		var source string
		if err := rows.Scan(&summary.ID, &capturedAt, &source, &summary.FollowerCount, &summary.FollowingCount); err != nil {
			return nil, fmt.Errorf("scan snapshot summary: %w", err)
		}
		summary.CapturedAt, err = parseTimestamp(capturedAt)
		if err != nil {
			return nil, err
		}
		summary.Source = audit.SnapshotSource(source)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot summaries: %w", err)
	}
	return summaries, nil
}

// UsernameHistory returns every username an account has been observed under.
func (store *Store) UsernameHistory(ctx context.Context, accountPK string) ([]UsernameHistoryEntry, error) {
	rows, err := store.sqlDB.QueryContext(ctx, selectHistorySQL, accountPK)
	if err != nil {
		return nil, fmt.Errorf("username history %s: %w", accountPK, err)
	}
	defer rows.Close()

	var entries []UsernameHistoryEntry
	for rows.Next() {
		var entry UsernameHistoryEntry
		var firstSeen string
		var lastSeen string
		if err := rows.Scan(&entry.Username, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan username history: %w", err)
		}
		if entry.FirstSeen, err = parseTimestamp(firstSeen); err != nil {
			return nil, err
		}
		if entry.LastSeen, err = parseTimestamp(lastSeen); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate username history: %w", err)
	}
	return entries, nil
}

func (store *Store) loadSnapshotRow(ctx context.Context, row *sql.Row) (audit.Snapshot, error) {
	var snapshotID int64
	var capturedAt string
	var source string
	err := row.Scan(&snapshotID, &capturedAt, &source)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return audit.Snapshot{}, ErrSnapshotNotFound
	case err != nil:
		return audit.Snapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}

	parsedCapturedAt, err := parseTimestamp(capturedAt)
	if err != nil {
		return audit.Snapshot{}, err
	}

	snapshot := audit.NewSnapshot(parsedCapturedAt, audit.SnapshotSource(source))
	snapshot.ID = snapshotID
	if snapshot.Followers, err = store.loadRelations(ctx, followersRelationTable, snapshotID); err != nil {
		return audit.Snapshot{}, err
	}
	if snapshot.Following, err = store.loadRelations(ctx, followingRelationTable, snapshotID); err != nil {
		return audit.Snapshot{}, err
	}
	return snapshot, nil
}

func (store *Store) loadRelations(ctx context.Context, relationTable string, snapshotID int64) (audit.AccountSet, error) {
	querySQL := fmt.Sprintf(selectRelationsQuery, relationTable)
	rows, err := store.sqlDB.QueryContext(ctx, querySQL, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", relationTable, err)
	}
	defer rows.Close()

	set := audit.AccountSet{}
	for rows.Next() {
		var identity audit.AccountIdentity
		if err := rows.Scan(&identity.PK, &identity.Username, &identity.FullName); err != nil {
			return nil, fmt.Errorf("scan %s: %w", relationTable, err)
		}
		set.Add(identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", relationTable, err)
	}
	return set, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
