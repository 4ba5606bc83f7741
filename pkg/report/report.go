// Package report builds per-user pull request reports through a rate-limited,
// cached search path.
package report

import (
	"sort"

	"github.com/codeGROOVE-dev/review-reminder/pkg/types"
)

// sortPulls orders pulls by creation time in place according to the user's
// ordering preference. Unknown orders fall back to ascending.
func sortPulls(pulls []types.PullRequest, order string) {
	sort.SliceStable(pulls, func(i, j int) bool {
		if order == types.SortDescending {
			return pulls[i].CreatedAt.After(pulls[j].CreatedAt)
		}
		return pulls[i].CreatedAt.Before(pulls[j].CreatedAt)
	})
}
