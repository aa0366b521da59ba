package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v43/github"
	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/amerr"
	"github.com/simplesurance/automerger/internal/logfields"
)

// MergeCommand describes merging the Head branch into the Base branch.
type MergeCommand struct {
	Owner         string
	Repo          string
	Base          string
	Head          string
	CommitMessage string
}

func (m *MergeCommand) LogFields() []zap.Field {
	return []zap.Field{
		logfields.RepositoryOwner(m.Owner),
		logfields.Repository(m.Repo),
		logfields.BaseBranch(m.Base),
		logfields.Branch(m.Head),
	}
}

// Merge merges the head branch of cmd into its base branch.
// When GitHub created a merge commit, it is returned.
// When GitHub responds with any other status, e.g. because the base branch
// already contains the head branch (204) or because of a merge conflict
// (409), nil is returned for the commit and the error.
func (clt *Client) Merge(ctx context.Context, cmd *MergeCommand) (*github.RepositoryCommit, error) {
	var commit github.RepositoryCommit

	logger := clt.logger.With(cmd.LogFields()...)

	resp, err := clt.Execute(ctx, NewMergeCreateRequest(cmd), &commit)
	if err != nil {
		if amerr.AsRetryable(err) != nil {
			return nil, fmt.Errorf("creating merge failed: %w", err)
		}

		var respErr *github.ErrorResponse
		if resp != nil && errors.As(err, &respErr) {
			logger.Warn(
				"merge was not created, github rejected the request",
				logfields.Event("github_merge_rejected"),
				zap.Int("http_status", resp.StatusCode),
				zap.String("github_error_message", respErr.Message),
			)

			return nil, nil
		}

		return nil, fmt.Errorf("creating merge failed: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		logger.Warn(
			"merge was not created",
			logfields.Event("github_merge_not_created"),
			zap.Int("http_status", resp.StatusCode),
		)

		return nil, nil
	}

	logger.Debug(
		"merge created",
		logfields.Event("github_merge_created"),
		logfields.Commit(commit.GetSHA()),
	)

	return &commit, nil
}
