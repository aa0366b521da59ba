package githubclt

import (
	"context"
	"fmt"

	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/logfields"
)

// MergeableStateMergeable is the mergeable state of a pull request that can
// be merged without conflicts.
const MergeableStateMergeable = string(githubv4.MergeableStateMergeable)

// PullRequestSummary contains the information about a pull request that is
// needed to decide if it can be merged.
type PullRequestSummary struct {
	Title  string `json:"title"`
	Number int    `json:"number"`
	// MergeableState is one of the GitHub MergeableState enum values
	// MERGEABLE, CONFLICTING or UNKNOWN.
	MergeableState string `json:"mergeable"`
	BaseRef        string `json:"baseRefName"`
	HeadRef        string `json:"headRefName"`
}

type openPullRequestsQuery struct {
	Repository struct {
		PullRequests struct {
			Nodes []struct {
				Title       string
				Number      int
				Mergeable   githubv4.MergeableState
				BaseRefName string
				HeadRefName string
			}
			PageInfo struct {
				EndCursor   string
				HasNextPage bool
			}
		} `graphql:"pullRequests(first: $first, after: $after, states: $states, orderBy: {field: CREATED_AT, direction: ASC})"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// OpenPullRequests returns all open pull requests of a repository, the
// oldest first.
func (clt *Client) OpenPullRequests(ctx context.Context, owner, repo string) ([]*PullRequestSummary, error) {
	var result []*PullRequestSummary
	var after *string

	for {
		var q openPullRequestsQuery

		_, err := clt.Execute(ctx, NewOpenPullRequestsQuery(owner, repo, after), &q)
		if err != nil {
			return nil, fmt.Errorf("querying open pull requests failed: %w", err)
		}

		for _, node := range q.Repository.PullRequests.Nodes {
			result = append(result, &PullRequestSummary{
				Title:          node.Title,
				Number:         node.Number,
				MergeableState: string(node.Mergeable),
				BaseRef:        node.BaseRefName,
				HeadRef:        node.HeadRefName,
			})
		}

		pageInfo := q.Repository.PullRequests.PageInfo
		if !pageInfo.HasNextPage {
			return result, nil
		}

		if pageInfo.EndCursor == "" {
			return nil, fmt.Errorf("retrieving all pull requests failed, HasNextPage is true, expected non-empty EndCursor")
		}

		cursor := pageInfo.EndCursor
		after = &cursor
	}
}

func (p *PullRequestSummary) LogFields() []zap.Field {
	return []zap.Field{
		logfields.PullRequest(p.Number),
		logfields.Branch(p.HeadRef),
	}
}
