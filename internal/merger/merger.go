// Package merger periodically merges the target branch into the head
// branches of open pull requests that are eligible for it.
package merger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-github/v43/github"
	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/amerr"
	"github.com/simplesurance/automerger/internal/githubclt"
	"github.com/simplesurance/automerger/internal/logfields"
	"github.com/simplesurance/automerger/internal/retry"
)

const loggerName = "merger"

// DefTargetBranch is the branch that is merged into pull request branches
// when no other is configured.
const DefTargetBranch = "master"

//go:generate mockgen -destination=mocks/mock_githubclient.go -package=mocks . GithubClient

// GithubClient is the subset of githubclt.Client methods that the Merger
// requires.
type GithubClient interface {
	OpenPullRequests(ctx context.Context, owner, repo string) ([]*githubclt.PullRequestSummary, error)
	CombinedStatus(ctx context.Context, owner, repo, ref string) (githubclt.CombinedStatus, error)
	Merge(ctx context.Context, cmd *githubclt.MergeCommand) (*github.RepositoryCommit, error)
}

// Retryer is an interface used for running GithubClient methods repeatedly if
// they fail with a temporary error.
type Retryer interface {
	Run(context.Context, func(context.Context) error, []zap.Field) error
	Stop()
}

// Config configures a Merger.
type Config struct {
	Owner        string
	Repository   string
	TargetBranch string
	Interval     time.Duration
	// FilterQuery is an optional jq query that is evaluated for every
	// pull request that fulfills the basic merge conditions. The pull
	// request is only merged when it evaluates to true.
	FilterQuery string
	// DryRun enables simulating merges instead of creating them.
	DryRun bool
}

// Merger polls the open pull requests of a repository in a fixed interval.
// Per poll, the target branch is merged into the branch of every
// pull request that is mergeable without conflicts, is based on the target
// branch and matches the optional filter query.
type Merger struct {
	clt    GithubClient
	logger *zap.Logger

	owner        string
	repository   string
	targetBranch string
	interval     time.Duration
	filter       *filter
	dryRun       bool

	retryer     Retryer
	stopRetryer bool
}

type Option func(*Merger)

// WithRetryer sets the Retryer that runs GithubClient operations.
// The Merger does not stop a Retryer that was passed to it.
func WithRetryer(r Retryer) Option {
	return func(m *Merger) {
		m.retryer = r
	}
}

// New creates a Merger.
// When cfg.DryRun is true, clt is wrapped in a DryClient.
func New(clt GithubClient, cfg *Config, opts ...Option) (*Merger, error) {
	if cfg.Owner == "" {
		return nil, errors.New("repository owner is empty")
	}

	if cfg.Repository == "" {
		return nil, errors.New("repository name is empty")
	}

	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, is: %s", cfg.Interval)
	}

	f, err := newFilter(cfg.FilterQuery)
	if err != nil {
		return nil, fmt.Errorf("parsing filter query failed: %w", err)
	}

	m := Merger{
		clt:          clt,
		logger:       zap.L().Named(loggerName),
		owner:        cfg.Owner,
		repository:   cfg.Repository,
		targetBranch: cfg.TargetBranch,
		interval:     cfg.Interval,
		filter:       f,
		dryRun:       cfg.DryRun,
	}

	if m.targetBranch == "" {
		m.targetBranch = DefTargetBranch
	}

	if m.dryRun {
		m.clt = NewDryClient(clt, m.logger)
	}

	for _, opt := range opts {
		opt(&m)
	}

	if m.retryer == nil {
		m.retryer = retry.New(retry.WithTimeout(retryTimeout(m.interval)))
		m.stopRetryer = true
	}

	m.logger = m.logger.With(m.logFields()...)

	return &m, nil
}

// retryTimeout returns the duration for that a failing operation is retried
// within a tick. It is shorter than the tick interval.
func retryTimeout(interval time.Duration) time.Duration {
	return min(retry.DefTimeout, interval/2)
}

func (m *Merger) logFields() []zap.Field {
	return []zap.Field{
		logfields.RepositoryOwner(m.owner),
		logfields.Repository(m.repository),
		logfields.BaseBranch(m.targetBranch),
	}
}

// Run runs the first tick immediately and then one every interval until ctx
// is cancelled.
// Ticks never overlap, ticks that are due while one is in progress are
// skipped.
// A failed tick is logged, the next tick runs as scheduled.
func (m *Merger) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	if m.stopRetryer {
		defer m.retryer.Stop()
	}

	m.logger.Info(
		"merger started",
		logfields.Event("merger_started"),
		zap.Duration("interval", m.interval),
		zap.Bool("dry_run", m.dryRun),
		zap.Stringer("filter_query", m.filter),
	)

	for {
		if ctx.Err() != nil {
			m.logger.Info("merger terminated", logfields.Event("merger_terminated"))
			return
		}

		m.runTick(ctx)

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

func (m *Merger) runTick(ctx context.Context) {
	stat := tickStat{StartTime: time.Now()}

	err := m.tick(ctx, &stat)
	stat.EndTime = time.Now()

	if err != nil {
		if ctx.Err() != nil {
			m.logger.Debug(
				"tick aborted, merger is terminating",
				append(stat.LogFields(), logfields.Event("merger_tick_aborted"), zap.Error(err))...,
			)
			return
		}

		metrics.tickInc(tickResultFailure)
		m.logger.Error(
			"tick failed, continuing at the next tick",
			append(
				stat.LogFields(),
				logfields.Event("merger_tick_failed"),
				zap.Bool("retries_exhausted", amerr.AsRetryable(err) != nil),
				zap.Error(err),
			)...,
		)

		return
	}

	metrics.tickInc(tickResultSuccess)
	m.logger.Debug(
		"tick finished",
		append(stat.LogFields(), logfields.Event("merger_tick_finished"))...,
	)
}

func (m *Merger) tick(ctx context.Context, stat *tickStat) error {
	prs, err := m.openPullRequests(ctx)
	if err != nil {
		return err
	}

	for _, pr := range prs {
		stat.Seen++

		logger := m.logger.With(pr.LogFields()...)

		status, err := m.combinedStatus(ctx, pr)
		if err != nil {
			return err
		}

		logger.Debug(
			"retrieved pull request status",
			logfields.Event("merger_pr_status_retrieved"),
			zap.String("github.mergeable_state", pr.MergeableState),
			zap.String("github.combined_status", string(status)),
		)

		eligible, err := m.isEligible(ctx, pr, status)
		if err != nil {
			stat.Failures++
			logger.Warn(
				"evaluating filter query failed, pull request is skipped",
				logfields.Event("merger_filter_evaluation_failed"),
				zap.Error(err),
			)

			continue
		}

		if !eligible {
			continue
		}

		stat.Eligible++

		cmd := m.mergeCommand(pr)
		commit, err := m.merge(ctx, cmd)
		if err != nil {
			metrics.mergeInc(mergeResultFailed)
			return err
		}

		switch {
		case m.dryRun:
			metrics.mergeInc(mergeResultSimulated)

		case commit == nil:
			stat.Rejected++
			metrics.mergeInc(mergeResultRejected)

		default:
			stat.Merged++
			metrics.mergeInc(mergeResultMerged)
			logger.Info(
				"merged target branch into pull request branch",
				logfields.Event("merger_branch_merged"),
				logfields.Commit(commit.GetSHA()),
			)
		}
	}

	return nil
}

// isEligible returns true when the target branch should be merged into the
// branch of pr.
func (m *Merger) isEligible(ctx context.Context, pr *githubclt.PullRequestSummary, status githubclt.CombinedStatus) (bool, error) {
	if pr.MergeableState != githubclt.MergeableStateMergeable {
		return false, nil
	}

	if pr.BaseRef != m.targetBranch {
		return false, nil
	}

	if m.filter == nil {
		return true, nil
	}

	return m.filter.Match(ctx, pr, status)
}

func (m *Merger) mergeCommand(pr *githubclt.PullRequestSummary) *githubclt.MergeCommand {
	return &githubclt.MergeCommand{
		Owner:         m.owner,
		Repo:          m.repository,
		Base:          pr.HeadRef,
		Head:          m.targetBranch,
		CommitMessage: fmt.Sprintf("Merge branch '%s' into %s", m.targetBranch, pr.HeadRef),
	}
}

func (m *Merger) openPullRequests(ctx context.Context) ([]*githubclt.PullRequestSummary, error) {
	var result []*githubclt.PullRequestSummary

	err := m.retryer.Run(ctx, func(ctx context.Context) error {
		var err error

		result, err = m.clt.OpenPullRequests(ctx, m.owner, m.repository)
		return err
	}, m.logFields())
	if err != nil {
		return nil, fmt.Errorf("retrieving open pull requests failed: %w", err)
	}

	return result, nil
}

func (m *Merger) combinedStatus(ctx context.Context, pr *githubclt.PullRequestSummary) (githubclt.CombinedStatus, error) {
	var result githubclt.CombinedStatus

	err := m.retryer.Run(ctx, func(ctx context.Context) error {
		var err error

		result, err = m.clt.CombinedStatus(ctx, m.owner, m.repository, pr.HeadRef)
		return err
	}, append(m.logFields(), pr.LogFields()...))
	if err != nil {
		return "", fmt.Errorf("retrieving combined status of pr #%d failed: %w", pr.Number, err)
	}

	return result, nil
}

func (m *Merger) merge(ctx context.Context, cmd *githubclt.MergeCommand) (*github.RepositoryCommit, error) {
	var result *github.RepositoryCommit

	err := m.retryer.Run(ctx, func(ctx context.Context) error {
		var err error

		result, err = m.clt.Merge(ctx, cmd)
		return err
	}, cmd.LogFields())
	if err != nil {
		return nil, fmt.Errorf("merging %q into %q failed: %w", cmd.Head, cmd.Base, err)
	}

	return result, nil
}
