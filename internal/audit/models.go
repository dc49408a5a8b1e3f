// Package audit defines the snapshot data model and the pure set-algebra
// engines that derive relationship changes between snapshots.
package audit

import "time"

// AccountIdentity describes a single Instagram account.
//
// The primary key is the stable identifier; equality and set membership are
// defined solely by PK. The username is a mutable display attribute: two
// identities with the same PK and different usernames describe the same
// account before and after a rename.
type AccountIdentity struct {
	PK       string `json:"pk"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
}

// AccountSet holds account identities keyed by primary key. The map
// representation makes duplicate identities within one relationship set
// unrepresentable.
type AccountSet map[string]AccountIdentity

// Add inserts the identity under its primary key.
func (set AccountSet) Add(identity AccountIdentity) {
	set[identity.PK] = identity
}

// Clone returns an independent copy of the set.
func (set AccountSet) Clone() AccountSet {
	cloned := make(AccountSet, len(set))
	for primaryKey, identity := range set {
		cloned[primaryKey] = identity
	}
	return cloned
}

// SnapshotSource identifies the collector that produced a snapshot.
type SnapshotSource string

const (
	// SourceExport marks snapshots built from a data export archive.
	SourceExport SnapshotSource = "export"
	// SourceAPI marks snapshots built from a live API collector.
	SourceAPI SnapshotSource = "api"
)

// Snapshot is a point-in-time capture of an account's follower and following
// sets. Snapshots are immutable once constructed; new captures are appended,
// never edited.
type Snapshot struct {
	CapturedAt time.Time
	Followers  AccountSet
	Following  AccountSet
	Source     SnapshotSource

	// ID is the persisted identifier, zero until the snapshot is stored.
	ID int64
}

// NewSnapshot constructs a snapshot with initialized relationship sets.
func NewSnapshot(capturedAt time.Time, source SnapshotSource) Snapshot {
	return Snapshot{
		CapturedAt: capturedAt,
		Followers:  AccountSet{},
		Following:  AccountSet{},
		Source:     source,
	}
}

// FollowerCount reports the number of follower identities.
func (snapshot Snapshot) FollowerCount() int {
	return len(snapshot.Followers)
}

// FollowingCount reports the number of following identities.
func (snapshot Snapshot) FollowingCount() int {
	return len(snapshot.Following)
}

// UsernameChange records the observed usernames for one primary key across
// two snapshots.
type UsernameChange struct {
	OldUsername string
	NewUsername string
}

// DiffResult holds every change derived from a pair of snapshots together
// with the relationship views of the newer snapshot.
type DiffResult struct {
	OldSnapshot Snapshot
	NewSnapshot Snapshot

	NewFollowers AccountSet
	Unfollowers  AccountSet
	NewFollowing AccountSet
	Unfollowing  AccountSet

	// UsernameChanges maps primary keys to detected renames.
	UsernameChanges map[string]UsernameChange

	Views RelationshipViews
}

// RelationshipViews classifies a single snapshot's identities by relationship
// direction.
type RelationshipViews struct {
	Snapshot Snapshot

	// Mutuals follow the owner and are followed back.
	Mutuals AccountSet
	// NotFollowingBack follow the owner without being followed back.
	NotFollowingBack AccountSet
	// NotFollowedBack are followed by the owner without following back.
	NotFollowedBack AccountSet
}

// VerificationStatus captures the triage outcome for a missing account.
type VerificationStatus string

const (
	// StatusPending marks accounts awaiting triage.
	StatusPending VerificationStatus = "pending"
	// StatusBlocked marks accounts confirmed to have blocked the owner.
	StatusBlocked VerificationStatus = "blocked"
	// StatusDeactivated marks accounts confirmed deactivated or deleted.
	StatusDeactivated VerificationStatus = "deactivated"
	// StatusRenamed marks accounts confirmed renamed to a new username.
	StatusRenamed VerificationStatus = "renamed"
	// StatusUnfollowed marks relationships the owner ended deliberately.
	StatusUnfollowed VerificationStatus = "unfollowed"
	// StatusUnknown marks accounts whose disappearance stays unexplained.
	StatusUnknown VerificationStatus = "unknown"
)

const invalidVerificationStatusMessage = "invalid verification status"

// ParseVerificationStatus validates a stored status value.
func ParseVerificationStatus(value string) (VerificationStatus, error) {
	switch VerificationStatus(value) {
	case StatusPending, StatusBlocked, StatusDeactivated, StatusRenamed, StatusUnfollowed, StatusUnknown:
		return VerificationStatus(value), nil
	}
	return "", &InvalidStatusError{Value: value}
}

// InvalidStatusError reports a status value outside the closed enumeration.
type InvalidStatusError struct {
	Value string
}

func (err *InvalidStatusError) Error() string {
	return invalidVerificationStatusMessage + ": " + err.Value
}

// MissingAccount describes an identity that disappeared between snapshots
// and the state of its verification.
type MissingAccount struct {
	Account      AccountIdentity
	LastSeen     time.Time
	FirstMissing time.Time
	Status       VerificationStatus
	NewUsername  string
	Notes        string
}
