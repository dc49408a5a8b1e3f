// Package report renders diff results and relationship views as text and
// HTML.
package report

import (
	"fmt"
	"strings"

	"github.com/ig-audit/igaudit/internal/audit"
)

const (
	reportTimestampLayout = "2006-01-02 15:04:05"
	headerRule            = "============================================================"
	sectionRule           = "------------------------------------------------------------"
	diffReportTitle       = "INSTAGRAM RELATIONSHIP AUDIT - DIFF REPORT"
	viewsReportTitle      = "INSTAGRAM RELATIONSHIP AUDIT - VIEWS REPORT"
	noneListPlaceholder   = "  (none)"
	accountHandlePrefix   = "@"
)

// FormatAccountList renders a titled, sorted account listing.
func FormatAccountList(set audit.AccountSet, title string) string {
	lines := []string{fmt.Sprintf("\n%s (%d):", title, len(set))}
	if len(set) == 0 {
		lines = append(lines, noneListPlaceholder)
		return strings.Join(lines, "\n")
	}
	for _, identity := range audit.SortedAccounts(set) {
		if identity.FullName != "" {
			lines = append(lines, fmt.Sprintf("  %s%s (%s)", accountHandlePrefix, identity.Username, identity.FullName))
		} else {
			lines = append(lines, fmt.Sprintf("  %s%s", accountHandlePrefix, identity.Username))
		}
	}
	return strings.Join(lines, "\n")
}

// FormatDiffSummary renders the counts of a diff result.
func FormatDiffSummary(diff audit.DiffResult) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Snapshot Comparison\n")
	fmt.Fprintf(&builder, "  Old: %s\n", diff.OldSnapshot.CapturedAt.Format(reportTimestampLayout))
	fmt.Fprintf(&builder, "  New: %s\n\n", diff.NewSnapshot.CapturedAt.Format(reportTimestampLayout))

	fmt.Fprintf(&builder, "Follower Changes:\n")
	fmt.Fprintf(&builder, "  New followers: %d\n", len(diff.NewFollowers))
	fmt.Fprintf(&builder, "  Unfollowers: %d\n\n", len(diff.Unfollowers))

	fmt.Fprintf(&builder, "Following Changes:\n")
	fmt.Fprintf(&builder, "  New following: %d\n", len(diff.NewFollowing))
	fmt.Fprintf(&builder, "  Unfollowing: %d\n\n", len(diff.Unfollowing))

	if len(diff.UsernameChanges) > 0 {
		fmt.Fprintf(&builder, "Username Changes: %d\n", len(diff.UsernameChanges))
		for _, primaryKey := range audit.SortedChangeKeys(diff.UsernameChanges) {
			change := diff.UsernameChanges[primaryKey]
			fmt.Fprintf(&builder, "  %s -> %s\n", change.OldUsername, change.NewUsername)
		}
		fmt.Fprintln(&builder)
	}

	fmt.Fprintf(&builder, "Current Relationships:\n")
	fmt.Fprintf(&builder, "  Mutuals: %d\n", len(diff.Views.Mutuals))
	fmt.Fprintf(&builder, "  Not following back: %d\n", len(diff.Views.NotFollowingBack))
	fmt.Fprintf(&builder, "  Not followed back: %d", len(diff.Views.NotFollowedBack))
	return builder.String()
}

// FormatDiffDetailed renders the full diff report with per-account listings.
func FormatDiffDetailed(diff audit.DiffResult) string {
	var lines []string
	lines = append(lines, headerRule, diffReportTitle, headerRule)
	lines = append(lines, fmt.Sprintf("Old snapshot: %s", diff.OldSnapshot.CapturedAt.Format(reportTimestampLayout)))
	lines = append(lines, fmt.Sprintf("New snapshot: %s", diff.NewSnapshot.CapturedAt.Format(reportTimestampLayout)), "")

	lines = append(lines, "SUMMARY", sectionRule)
	lines = append(lines, fmt.Sprintf("Followers:  %d -> %d (%s)",
		diff.OldSnapshot.FollowerCount(), diff.NewSnapshot.FollowerCount(),
		formatDelta(diff.NewSnapshot.FollowerCount()-diff.OldSnapshot.FollowerCount())))
	lines = append(lines, fmt.Sprintf("Following:  %d -> %d (%s)",
		diff.OldSnapshot.FollowingCount(), diff.NewSnapshot.FollowingCount(),
		formatDelta(diff.NewSnapshot.FollowingCount()-diff.OldSnapshot.FollowingCount())), "")

	lines = append(lines, "CHANGES", sectionRule)
	lines = append(lines, fmt.Sprintf("New followers:    %d", len(diff.NewFollowers)))
	lines = append(lines, fmt.Sprintf("Unfollowers:      %d", len(diff.Unfollowers)))
	lines = append(lines, fmt.Sprintf("New following:    %d", len(diff.NewFollowing)))
	lines = append(lines, fmt.Sprintf("Unfollowing:      %d", len(diff.Unfollowing)))
	lines = append(lines, fmt.Sprintf("Username changes: %d", len(diff.UsernameChanges)), "")

	if len(diff.NewFollowers) > 0 {
		lines = append(lines, FormatAccountList(diff.NewFollowers, "NEW FOLLOWERS"), "")
	}
	if len(diff.Unfollowers) > 0 {
		lines = append(lines, FormatAccountList(diff.Unfollowers, "UNFOLLOWERS"), "")
	}
	if len(diff.NewFollowing) > 0 {
		lines = append(lines, FormatAccountList(diff.NewFollowing, "NEW FOLLOWING"), "")
	}
	if len(diff.Unfollowing) > 0 {
		lines = append(lines, FormatAccountList(diff.Unfollowing, "UNFOLLOWING"), "")
	}
	if len(diff.UsernameChanges) > 0 {
		lines = append(lines, fmt.Sprintf("\nUSERNAME CHANGES (%d):", len(diff.UsernameChanges)))
		for _, primaryKey := range audit.SortedChangeKeys(diff.UsernameChanges) {
			change := diff.UsernameChanges[primaryKey]
			lines = append(lines, fmt.Sprintf("  %s%s -> %s%s",
				accountHandlePrefix, change.OldUsername, accountHandlePrefix, change.NewUsername))
		}
		lines = append(lines, "")
	}

	lines = append(lines, "CURRENT RELATIONSHIPS", sectionRule)
	lines = append(lines, fmt.Sprintf("Mutuals:             %d", len(diff.Views.Mutuals)))
	lines = append(lines, fmt.Sprintf("Not following back:  %d", len(diff.Views.NotFollowingBack)))
	lines = append(lines, fmt.Sprintf("Not followed back:   %d", len(diff.Views.NotFollowedBack)))
	return strings.Join(lines, "\n")
}

// FormatViewsDetailed renders the full relationship views report.
func FormatViewsDetailed(views audit.RelationshipViews) string {
	var lines []string
	lines = append(lines, headerRule, viewsReportTitle, headerRule)
	lines = append(lines, fmt.Sprintf("Snapshot: %s", views.Snapshot.CapturedAt.Format(reportTimestampLayout)), "")

	lines = append(lines, "SUMMARY", sectionRule)
	lines = append(lines, fmt.Sprintf("Followers:  %d", views.Snapshot.FollowerCount()))
	lines = append(lines, fmt.Sprintf("Following:  %d", views.Snapshot.FollowingCount()), "")

	lines = append(lines, "RELATIONSHIPS", sectionRule)
	lines = append(lines, fmt.Sprintf("Mutuals:             %d", len(views.Mutuals)))
	lines = append(lines, fmt.Sprintf("Not following back:  %d", len(views.NotFollowingBack)))
	lines = append(lines, fmt.Sprintf("Not followed back:   %d", len(views.NotFollowedBack)), "")

	lines = append(lines, FormatAccountList(views.Mutuals, "MUTUALS"), "")
	lines = append(lines, FormatAccountList(views.NotFollowingBack, "NOT FOLLOWING BACK"))
	lines = append(lines, "  (These people follow you, but you don't follow them)", "")
	lines = append(lines, FormatAccountList(views.NotFollowedBack, "NOT FOLLOWED BACK"))
	lines = append(lines, "  (You follow these people, but they don't follow you)")
	return strings.Join(lines, "\n")
}

func formatDelta(value int) string {
	if value > 0 {
		return fmt.Sprintf("+%d", value)
	}
	return fmt.Sprintf("%d", value)
}
