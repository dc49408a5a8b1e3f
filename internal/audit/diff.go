package audit

import (
	"sort"
	"strings"
)

// ComputeDiff derives the full change set between two snapshots.
//
// The computation is pure and deterministic: additions and removals come
// from key-set differences per relationship, renames from comparing the
// observed usernames of every primary key present in either snapshot, and
// the embedded views from the new snapshot alone. The caller is responsible
// for passing the snapshots in chronological order; a reversed pair produces
// a correspondingly relabeled result rather than an error.
//
// A primary key reused by a different account between two distant snapshots
// is indistinguishable from a rename. That ambiguity is inherent to a
// two-point comparison and is not special-cased.
func ComputeDiff(oldSnapshot Snapshot, newSnapshot Snapshot) DiffResult {
	diff := DiffResult{
		OldSnapshot:     oldSnapshot,
		NewSnapshot:     newSnapshot,
		UsernameChanges: map[string]UsernameChange{},
	}

	diff.NewFollowers, diff.Unfollowers = setChanges(oldSnapshot.Followers, newSnapshot.Followers)
	diff.NewFollowing, diff.Unfollowing = setChanges(oldSnapshot.Following, newSnapshot.Following)

	for primaryKey := range unionKeys(oldSnapshot, newSnapshot) {
		oldUsername, oldObserved := observedUsername(primaryKey, oldSnapshot)
		newUsername, newObserved := observedUsername(primaryKey, newSnapshot)
		if !oldObserved || !newObserved {
			continue
		}
		if oldUsername == "" || newUsername == "" || oldUsername == newUsername {
			continue
		}
		diff.UsernameChanges[primaryKey] = UsernameChange{
			OldUsername: oldUsername,
			NewUsername: newUsername,
		}
	}

	diff.Views = ComputeViews(newSnapshot)
	return diff
}

// ComputeViews classifies one snapshot's identities as mutuals,
// not-following-back, and not-followed-back.
func ComputeViews(snapshot Snapshot) RelationshipViews {
	views := RelationshipViews{
		Snapshot:         snapshot,
		Mutuals:          AccountSet{},
		NotFollowingBack: AccountSet{},
		NotFollowedBack:  AccountSet{},
	}

	for primaryKey, identity := range snapshot.Followers {
		if _, followed := snapshot.Following[primaryKey]; followed {
			views.Mutuals[primaryKey] = identity
		} else {
			views.NotFollowingBack[primaryKey] = identity
		}
	}
	for primaryKey, identity := range snapshot.Following {
		if _, follows := snapshot.Followers[primaryKey]; !follows {
			views.NotFollowedBack[primaryKey] = identity
		}
	}
	return views
}

// FindMissingAccounts returns the identities present in the old snapshot's
// relationships that are absent from the new snapshot entirely. The result
// seeds the verification queue; classifying why an account disappeared is
// left to triage, because absence alone cannot distinguish a block from a
// deactivation, an undetected rename, or a deliberate unfollow.
func FindMissingAccounts(oldSnapshot Snapshot, newSnapshot Snapshot) AccountSet {
	missing := AccountSet{}
	for primaryKey, identity := range oldSnapshot.Followers {
		if !presentInSnapshot(primaryKey, newSnapshot) {
			missing[primaryKey] = identity
		}
	}
	for primaryKey, identity := range oldSnapshot.Following {
		if !presentInSnapshot(primaryKey, newSnapshot) {
			missing[primaryKey] = identity
		}
	}
	return missing
}

// SortedAccounts materializes a set into a slice ordered by lowercased
// username with the primary key as tie break, for deterministic output.
func SortedAccounts(set AccountSet) []AccountIdentity {
	accounts := make([]AccountIdentity, 0, len(set))
	for _, identity := range set {
		accounts = append(accounts, identity)
	}
	sort.Slice(accounts, func(firstIndex, secondIndex int) bool {
		firstKey := strings.ToLower(accounts[firstIndex].Username)
		secondKey := strings.ToLower(accounts[secondIndex].Username)
		if firstKey != secondKey {
			return firstKey < secondKey
		}
		return accounts[firstIndex].PK < accounts[secondIndex].PK
	})
	return accounts
}

// SortedChangeKeys returns the rename map's primary keys in a stable order.
func SortedChangeKeys(changes map[string]UsernameChange) []string {
	keys := make([]string, 0, len(changes))
	for primaryKey := range changes {
		keys = append(keys, primaryKey)
	}
	sort.Strings(keys)
	return keys
}

func setChanges(oldSet AccountSet, newSet AccountSet) (added AccountSet, removed AccountSet) {
	added = AccountSet{}
	removed = AccountSet{}
	for primaryKey, identity := range newSet {
		if _, existed := oldSet[primaryKey]; !existed {
			added[primaryKey] = identity
		}
	}
	for primaryKey, identity := range oldSet {
		if _, remains := newSet[primaryKey]; !remains {
			removed[primaryKey] = identity
		}
	}
	return added, removed
}

func unionKeys(snapshots ...Snapshot) map[string]struct{} {
	keys := map[string]struct{}{}
	for _, snapshot := range snapshots {
		for primaryKey := range snapshot.Followers {
			keys[primaryKey] = struct{}{}
		}
		for primaryKey := range snapshot.Following {
			keys[primaryKey] = struct{}{}
		}
	}
	return keys
}

// observedUsername reports the username under which a primary key appears in
// a snapshot, consulting followers before following.
func observedUsername(primaryKey string, snapshot Snapshot) (string, bool) {
	if identity, exists := snapshot.Followers[primaryKey]; exists {
		return identity.Username, true
	}
	if identity, exists := snapshot.Following[primaryKey]; exists {
		return identity.Username, true
	}
	return "", false
}

func presentInSnapshot(primaryKey string, snapshot Snapshot) bool {
	if _, exists := snapshot.Followers[primaryKey]; exists {
		return true
	}
	_, exists := snapshot.Following[primaryKey]
	return exists
}
