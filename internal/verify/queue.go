// Package verify manages the triage queue for accounts that disappeared
// between snapshots.
package verify

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ig-audit/igaudit/internal/audit"
	"github.com/ig-audit/igaudit/internal/storage"
)

const (
	noPendingMessage        = "No pending verifications."
	pendingHeaderFormat     = "\n%d accounts need verification:\n\n"
	accountLineFormat       = "Account: @%s\n"
	primaryKeyLineFormat    = "  PK: %s\n"
	fullNameLineFormat      = "  Name: %s\n"
	lastSeenLineFormat      = "  Last seen: %s\n"
	firstMissingLineFormat  = "  First missing: %s\n"
	promptDateLayout        = "2006-01-02"
	choicePromptText        = "What happened to this account?\n  1) Blocked you\n  2) Deactivated/deleted account\n  3) Renamed (changed username)\n  4) You unfollowed them\n  5) Unknown\n  s) Skip for now\n\nChoice: "
	notesPromptText         = "Notes (optional): "
	newUsernamePromptText   = "New username: "
	markedFormat            = "Marked as %s.\n\n"
	markedRenamedFormat     = "Marked as renamed to @%s.\n\n"
	skippedMessage          = "Skipped.\n\n"
	skippedNoUsernameText   = "Skipped (no username provided).\n\n"
	invalidChoiceMessage    = "Invalid choice, skipping.\n\n"
	triageCompleteMessage   = "Verification complete!"
	choiceBlocked           = "1"
	choiceDeactivated       = "2"
	choiceRenamed           = "3"
	choiceUnfollowed        = "4"
	choiceUnknown           = "5"
	choiceSkip              = "s"
	resolveErrorFormat      = "resolve queue entry %d: %w"
	enqueueErrorFormat      = "enqueue account %s: %w"
	listPendingErrorFormat  = "list pending verifications: %w"
	renamedMissingUsernameE = "renamed status requires a new username"
)

// QueueStore is the persistence seam the queue operates against.
type QueueStore interface {
	EnqueueMissing(ctx context.Context, missing audit.MissingAccount) (int64, error)
	PendingVerifications(ctx context.Context) ([]storage.PendingVerification, error)
	ResolveVerification(ctx context.Context, queueID int64, status audit.VerificationStatus, newUsername string, notes string) error
}

// Queue coordinates verification of missing accounts.
type Queue struct {
	store QueueStore
}

// NewQueue constructs a Queue over the provided store.
func NewQueue(store QueueStore) *Queue {
	return &Queue{store: store}
}

// AddMissing enqueues an account for verification in pending state.
func (queue *Queue) AddMissing(ctx context.Context, account audit.AccountIdentity, lastSeen time.Time, firstMissing time.Time) (int64, error) {
	queueID, err := queue.store.EnqueueMissing(ctx, audit.MissingAccount{
		Account:      account,
		LastSeen:     lastSeen,
		FirstMissing: firstMissing,
		Status:       audit.StatusPending,
	})
	if err != nil {
		return 0, fmt.Errorf(enqueueErrorFormat, account.PK, err)
	}
	return queueID, nil
}

// Pending returns the entries awaiting triage.
func (queue *Queue) Pending(ctx context.Context) ([]storage.PendingVerification, error) {
	pending, err := queue.store.PendingVerifications(ctx)
	if err != nil {
		return nil, fmt.Errorf(listPendingErrorFormat, err)
	}
	return pending, nil
}

// MarkBlocked records that the account blocked the owner.
func (queue *Queue) MarkBlocked(ctx context.Context, queueID int64, notes string) error {
	return queue.resolve(ctx, queueID, audit.StatusBlocked, "", notes)
}

// MarkDeactivated records that the account was deactivated or deleted.
func (queue *Queue) MarkDeactivated(ctx context.Context, queueID int64, notes string) error {
	return queue.resolve(ctx, queueID, audit.StatusDeactivated, "", notes)
}

// MarkRenamed records the account's confirmed new username.
func (queue *Queue) MarkRenamed(ctx context.Context, queueID int64, newUsername string, notes string) error {
	if strings.TrimSpace(newUsername) == "" {
		return errors.New(renamedMissingUsernameE)
	}
	return queue.resolve(ctx, queueID, audit.StatusRenamed, newUsername, notes)
}

// MarkUnfollowed records a deliberate unfollow by the owner.
func (queue *Queue) MarkUnfollowed(ctx context.Context, queueID int64, notes string) error {
	return queue.resolve(ctx, queueID, audit.StatusUnfollowed, "", notes)
}

// MarkUnknown records that the disappearance stays unexplained.
func (queue *Queue) MarkUnknown(ctx context.Context, queueID int64, notes string) error {
	return queue.resolve(ctx, queueID, audit.StatusUnknown, "", notes)
}

func (queue *Queue) resolve(ctx context.Context, queueID int64, status audit.VerificationStatus, newUsername string, notes string) error {
	if err := queue.store.ResolveVerification(ctx, queueID, status, newUsername, notes); err != nil {
		return fmt.Errorf(resolveErrorFormat, queueID, err)
	}
	return nil
}

// ProcessInteractively walks the pending queue, prompting for a triage
// decision per account. Input lines come from reader; prompts and results go
// to writer. Only transitions away from pending are offered.
func (queue *Queue) ProcessInteractively(ctx context.Context, reader io.Reader, writer io.Writer) error {
	pending, err := queue.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintln(writer, noPendingMessage)
		return nil
	}

	fmt.Fprintf(writer, pendingHeaderFormat, len(pending))
	lineScanner := bufio.NewScanner(reader)

	for _, entry := range pending {
		printMissingAccount(writer, entry.Missing)

		fmt.Fprint(writer, choicePromptText)
		choice := strings.ToLower(readLine(lineScanner))

		switch choice {
		case choiceBlocked:
			notes := promptNotes(lineScanner, writer)
			if err := queue.MarkBlocked(ctx, entry.QueueID, notes); err != nil {
				return err
			}
			fmt.Fprintf(writer, markedFormat, audit.StatusBlocked)

		case choiceDeactivated:
			notes := promptNotes(lineScanner, writer)
			if err := queue.MarkDeactivated(ctx, entry.QueueID, notes); err != nil {
				return err
			}
			fmt.Fprintf(writer, markedFormat, audit.StatusDeactivated)

		case choiceRenamed:
			fmt.Fprint(writer, newUsernamePromptText)
			newUsername := readLine(lineScanner)
			if newUsername == "" {
				fmt.Fprint(writer, skippedNoUsernameText)
				continue
			}
			notes := promptNotes(lineScanner, writer)
			if err := queue.MarkRenamed(ctx, entry.QueueID, newUsername, notes); err != nil {
				return err
			}
			fmt.Fprintf(writer, markedRenamedFormat, newUsername)

		case choiceUnfollowed:
			notes := promptNotes(lineScanner, writer)
			if err := queue.MarkUnfollowed(ctx, entry.QueueID, notes); err != nil {
				return err
			}
			fmt.Fprintf(writer, markedFormat, audit.StatusUnfollowed)

		case choiceUnknown:
			notes := promptNotes(lineScanner, writer)
			if err := queue.MarkUnknown(ctx, entry.QueueID, notes); err != nil {
				return err
			}
			fmt.Fprintf(writer, markedFormat, audit.StatusUnknown)

		case choiceSkip:
			fmt.Fprint(writer, skippedMessage)

		default:
			fmt.Fprint(writer, invalidChoiceMessage)
		}
	}

	fmt.Fprintln(writer, triageCompleteMessage)
	return nil
}

func printMissingAccount(writer io.Writer, missing audit.MissingAccount) {
	fmt.Fprintf(writer, accountLineFormat, missing.Account.Username)
	fmt.Fprintf(writer, primaryKeyLineFormat, missing.Account.PK)
	if missing.Account.FullName != "" {
		fmt.Fprintf(writer, fullNameLineFormat, missing.Account.FullName)
	}
	fmt.Fprintf(writer, lastSeenLineFormat, missing.LastSeen.Format(promptDateLayout))
	fmt.Fprintf(writer, firstMissingLineFormat, missing.FirstMissing.Format(promptDateLayout))
	fmt.Fprintln(writer)
}

func promptNotes(lineScanner *bufio.Scanner, writer io.Writer) string {
	fmt.Fprint(writer, notesPromptText)
	return readLine(lineScanner)
}

func readLine(lineScanner *bufio.Scanner) string {
	if !lineScanner.Scan() {
		return ""
	}
	return strings.TrimSpace(lineScanner.Text())
}
