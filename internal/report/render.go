package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"

	"github.com/ig-audit/igaudit/internal/audit"
)

//go:embed web/static/* web/templates/*
var embeddedFS embed.FS

const (
	templateBaseName       = "base"
	templateReportFile     = "web/templates/report.tmpl"
	templateReportName     = "report.tmpl"
	embeddedReportCSSPath  = "web/static/report.css"
	instagramProfileURL    = "https://www.instagram.com/"
	diffPageTitle          = "Instagram Audit - Diff Report"
	viewsPageTitle         = "Instagram Audit - Views Report"
	diffSubtitleFormat     = "Changes between %s and %s"
	viewsSubtitleFormat    = "Snapshot captured %s"
	deltaClassPositive     = "positive"
	deltaClassNegative     = "negative"
	embedReadErrorFormat   = "embed read %s: %w"
	templateParseErrFormat = "template parse: %w"
	templateExecErrFormat  = "template execute: %w"
)

type statCardViewModel struct {
	Label      string
	Value      int
	Delta      string
	DeltaClass string
}

type accountSectionViewModel struct {
	Title    string
	Note     string
	Accounts []audit.AccountIdentity
}

type reportPageViewModel struct {
	Title    string
	Subtitle string
	CSS      template.CSS
	Stats    []statCardViewModel
	Sections []accountSectionViewModel
	Renames  []audit.UsernameChange
}

// RenderDiffPage assembles the HTML diff report from the embedded template.
func RenderDiffPage(diff audit.DiffResult) (string, error) {
	viewModel := reportPageViewModel{
		Title: diffPageTitle,
		Subtitle: fmt.Sprintf(diffSubtitleFormat,
			diff.OldSnapshot.CapturedAt.Format(reportTimestampLayout),
			diff.NewSnapshot.CapturedAt.Format(reportTimestampLayout)),
		Stats: []statCardViewModel{
			statCard("Followers", diff.NewSnapshot.FollowerCount(),
				diff.NewSnapshot.FollowerCount()-diff.OldSnapshot.FollowerCount()),
			statCard("Following", diff.NewSnapshot.FollowingCount(),
				diff.NewSnapshot.FollowingCount()-diff.OldSnapshot.FollowingCount()),
			statCard("New Followers", len(diff.NewFollowers), 0),
			statCard("Unfollowers", len(diff.Unfollowers), 0),
		},
		Sections: []accountSectionViewModel{
			{Title: "New Followers", Accounts: audit.SortedAccounts(diff.NewFollowers)},
			{Title: "Unfollowers", Accounts: audit.SortedAccounts(diff.Unfollowers)},
			{Title: "New Following", Accounts: audit.SortedAccounts(diff.NewFollowing)},
			{Title: "Unfollowing", Accounts: audit.SortedAccounts(diff.Unfollowing)},
		},
		Renames: sortedRenames(diff.UsernameChanges),
	}
	return renderReportPage(viewModel)
}

// RenderViewsPage assembles the HTML relationship views report.
func RenderViewsPage(views audit.RelationshipViews) (string, error) {
	viewModel := reportPageViewModel{
		Title:    viewsPageTitle,
		Subtitle: fmt.Sprintf(viewsSubtitleFormat, views.Snapshot.CapturedAt.Format(reportTimestampLayout)),
		Stats: []statCardViewModel{
			statCard("Followers", views.Snapshot.FollowerCount(), 0),
			statCard("Following", views.Snapshot.FollowingCount(), 0),
			statCard("Mutuals", len(views.Mutuals), 0),
		},
		Sections: []accountSectionViewModel{
			{Title: "Mutuals", Accounts: audit.SortedAccounts(views.Mutuals)},
			{
				Title:    "Not Following Back",
				Note:     "These people follow you, but you don't follow them",
				Accounts: audit.SortedAccounts(views.NotFollowingBack),
			},
			{
				Title:    "Not Followed Back",
				Note:     "You follow these people, but they don't follow you",
				Accounts: audit.SortedAccounts(views.NotFollowedBack),
			},
		},
	}
	return renderReportPage(viewModel)
}

func renderReportPage(viewModel reportPageViewModel) (string, error) {
	cssText, err := embeddedText(embeddedReportCSSPath)
	if err != nil {
		return "", err
	}
	viewModel.CSS = template.CSS(cssText)

	parsedTemplate, err := parseTemplates(embeddedFS, templateReportFile)
	if err != nil {
		return "", fmt.Errorf(templateParseErrFormat, err)
	}
	var buffer bytes.Buffer
	if err := parsedTemplate.ExecuteTemplate(&buffer, templateReportName, viewModel); err != nil {
		return "", fmt.Errorf(templateExecErrFormat, err)
	}
	return buffer.String(), nil
}

func statCard(label string, value int, delta int) statCardViewModel {
	card := statCardViewModel{Label: label, Value: value}
	switch {
	case delta > 0:
		card.Delta = fmt.Sprintf("+%d", delta)
		card.DeltaClass = deltaClassPositive
	case delta < 0:
		card.Delta = fmt.Sprintf("%d", delta)
		card.DeltaClass = deltaClassNegative
	}
	return card
}

func sortedRenames(changes map[string]audit.UsernameChange) []audit.UsernameChange {
	renames := make([]audit.UsernameChange, 0, len(changes))
	for _, primaryKey := range audit.SortedChangeKeys(changes) {
		renames = append(renames, changes[primaryKey])
	}
	return renames
}

func embeddedText(path string) (string, error) {
	content, err := fs.ReadFile(embeddedFS, path)
	if err != nil {
		return "", fmt.Errorf(embedReadErrorFormat, path, err)
	}
	return string(content), nil
}

func parseTemplates(fileSystem fs.FS, files ...string) (*template.Template, error) {
	templateWithFuncs := template.New(templateBaseName).Funcs(template.FuncMap{
		"profileURL": func(identity audit.AccountIdentity) string {
			return instagramProfileURL + identity.Username
		},
	})
	return templateWithFuncs.ParseFS(fileSystem, files...)
}
