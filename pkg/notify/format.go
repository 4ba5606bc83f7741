package notify

import (
	"fmt"
	"strings"

	"github.com/codeGROOVE-dev/review-reminder/pkg/types"
)

// FormatText renders a report as plain text, one section per non-empty list.
func FormatText(report types.Report) string {
	var b strings.Builder
	writeSection(&b, "To review", report.ToReview)
	writeSection(&b, "To complete", report.ToComplete)
	return strings.TrimRight(b.String(), "\n")
}

func writeSection(b *strings.Builder, heading string, pulls []types.PullRequest) {
	if len(pulls) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", heading)
	for _, pull := range pulls {
		draft := ""
		if pull.Draft {
			draft = " (draft)"
		}
		fmt.Fprintf(b, "  %s#%d%s %s\n    %s\n", pull.Repository, pull.Number, draft, pull.Title, pull.HTMLURL)
	}
	b.WriteString("\n")
}
