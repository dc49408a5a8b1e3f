package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ig-audit/igaudit/internal/audit"
)

var (
	// ErrVerificationNotFound indicates an unknown queue identifier.
	ErrVerificationNotFound = errors.New("verification entry not found")
	// ErrVerificationNotPending indicates the entry was already resolved.
	// Resolved entries form an append-only audit trail and stay immutable.
	ErrVerificationNotPending = errors.New("verification entry is not pending")
	// ErrPendingStatusTransition indicates an attempt to resolve back to pending.
	ErrPendingStatusTransition = errors.New("cannot resolve a verification back to pending")
)

const (
	insertVerificationSQL = `INSERT INTO verification_queue
(account_pk, last_seen, first_missing, status, new_username, notes)
VALUES (?, ?, ?, ?, ?, ?)`
	resolveVerificationSQL = `UPDATE verification_queue
SET status = ?, new_username = ?, notes = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND status = ?`
	selectVerificationSQL = `SELECT COUNT(1) FROM verification_queue WHERE id = ?`
	selectPendingSQL      = `SELECT vq.id, a.pk, a.username, COALESCE(a.full_name, ''),
vq.last_seen, vq.first_missing, vq.status, COALESCE(vq.new_username, ''), COALESCE(vq.notes, '')
FROM verification_queue vq
JOIN accounts a ON vq.account_pk = a.pk
WHERE vq.status = ?
ORDER BY vq.first_missing, vq.id`
)

// PendingVerification pairs a queue identifier with its missing account.
type PendingVerification struct {
	QueueID int64
	Missing audit.MissingAccount
}

// EnqueueMissing appends a missing account to the verification queue in
// pending state and returns the queue identifier.
func (store *Store) EnqueueMissing(ctx context.Context, missing audit.MissingAccount) (int64, error) {
	status := missing.Status
	if status == "" {
		status = audit.StatusPending
	}
	result, err := store.sqlDB.ExecContext(ctx, insertVerificationSQL,
		missing.Account.PK,
		formatTimestamp(missing.LastSeen),
		formatTimestamp(missing.FirstMissing),
		string(status),
		nullableString(missing.NewUsername),
		nullableString(missing.Notes),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue missing account %s: %w", missing.Account.PK, err)
	}
	queueID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("verification queue id: %w", err)
	}
	return queueID, nil
}

// ResolveVerification transitions a pending entry to a resolved status.
// Entries that already left pending are rejected.
func (store *Store) ResolveVerification(ctx context.Context, queueID int64, status audit.VerificationStatus, newUsername string, notes string) error {
	if status == audit.StatusPending {
		return ErrPendingStatusTransition
	}
	if _, err := audit.ParseVerificationStatus(string(status)); err != nil {
		return err
	}

	result, err := store.sqlDB.ExecContext(ctx, resolveVerificationSQL,
		string(status), nullableString(newUsername), nullableString(notes),
		queueID, string(audit.StatusPending))
	if err != nil {
		return fmt.Errorf("resolve verification %d: %w", queueID, err)
	}
	affectedRows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve verification %d rows: %w", queueID, err)
	}
	if affectedRows > 0 {
		return nil
	}

	var existingCount int
	if err := store.sqlDB.QueryRowContext(ctx, selectVerificationSQL, queueID).Scan(&existingCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrVerificationNotFound
		}
		return fmt.Errorf("lookup verification %d: %w", queueID, err)
	}
	if existingCount == 0 {
		return ErrVerificationNotFound
	}
	return ErrVerificationNotPending
}

// PendingVerifications returns the pending queue ordered by first-missing
// time.
func (store *Store) PendingVerifications(ctx context.Context) ([]PendingVerification, error) {
	rows, err := store.sqlDB.QueryContext(ctx, selectPendingSQL, string(audit.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending verifications: %w", err)
	}
	defer rows.Close()

	var pending []PendingVerification
	for rows.Next() {
		var entry PendingVerification
		var lastSeen string
		var firstMissing string
		var status string
		if err := rows.Scan(
			&entry.QueueID,
			&entry.Missing.Account.PK,
			&entry.Missing.Account.Username,
			&entry.Missing.Account.FullName,
			&lastSeen,
			&firstMissing,
			&status,
			&entry.Missing.NewUsername,
			&entry.Missing.Notes,
		); err != nil {
			return nil, fmt.Errorf("scan pending verification: %w", err)
		}
		if entry.Missing.LastSeen, err = parseTimestamp(lastSeen); err != nil {
			return nil, err
		}
		if entry.Missing.FirstMissing, err = parseTimestamp(firstMissing); err != nil {
			return nil, err
		}
		entry.Missing.Status, err = audit.ParseVerificationStatus(status)
		if err != nil {
			return nil, err
		}
		pending = append(pending, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending verifications: %w", err)
	}
	return pending, nil
}
