package merger

import (
	"context"

	"github.com/google/go-github/v43/github"
	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/githubclt"
	"github.com/simplesurance/automerger/internal/logfields"
)

// DryClient is a GithubClient that does not do any changes on github.
// Merges are only logged, read operations are forwarded to the wrapped
// GithubClient.
type DryClient struct {
	clt    GithubClient
	logger *zap.Logger
}

func NewDryClient(clt GithubClient, logger *zap.Logger) *DryClient {
	return &DryClient{
		clt:    clt,
		logger: logger.Named("dry_github_client"),
	}
}

func (c *DryClient) OpenPullRequests(ctx context.Context, owner, repo string) ([]*githubclt.PullRequestSummary, error) {
	return c.clt.OpenPullRequests(ctx, owner, repo)
}

func (c *DryClient) CombinedStatus(ctx context.Context, owner, repo, ref string) (githubclt.CombinedStatus, error) {
	return c.clt.CombinedStatus(ctx, owner, repo, ref)
}

func (c *DryClient) Merge(_ context.Context, cmd *githubclt.MergeCommand) (*github.RepositoryCommit, error) {
	c.logger.Info(
		"simulated merge, no merge created on github",
		append(
			cmd.LogFields(),
			logfields.Event("merge_simulated"),
			zap.String("commit_message", cmd.CommitMessage),
		)...,
	)

	return nil, nil
}
