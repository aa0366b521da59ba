package github

import (
	"strings"

	"github.com/google/go-github/v43/github"

	"github.com/simplesurance/automerger/internal/provider"
)

type pushEventRepoGetter interface {
	GetRepo() *github.PushEventRepository
}

type repoGetter interface {
	GetRepo() *github.Repository
}

type refGetter interface {
	GetRef() string
}

type pullRequestGetter interface {
	GetPullRequest() *github.PullRequest
}

// addEventInfo sets the repository, branch, commit and pull request fields
// of ev, if they are part of the webhook payload.
// Event types that are unknown to go-github are ignored.
func addEventInfo(ev *provider.Event, eventType string, payload []byte) {
	ghEvent, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return
	}

	if v, ok := ghEvent.(pushEventRepoGetter); ok {
		if repo := v.GetRepo(); repo != nil {
			ev.Repository = repo.GetName()
			ev.RepositoryOwner = repo.GetOwner().GetLogin()
		}
	} else if v, ok := ghEvent.(repoGetter); ok {
		if repo := v.GetRepo(); repo != nil {
			ev.Repository = repo.GetName()
			ev.RepositoryOwner = repo.GetOwner().GetLogin()
		}
	}

	if v, ok := ghEvent.(refGetter); ok {
		ref := v.GetRef()
		if strings.HasPrefix(ref, "refs/heads/") {
			ev.Branch = strings.TrimPrefix(ref, "refs/heads/")
		}
	}

	if v, ok := ghEvent.(pullRequestGetter); ok {
		if pr := v.GetPullRequest(); pr != nil {
			ev.PullRequestNr = pr.GetNumber()

			if head := pr.GetHead(); head != nil {
				ev.CommitID = head.GetSHA()
				// the ref of a pull request head does not
				// have the refs/heads/ prefix
				ev.Branch = head.GetRef()
			}
		}
	}
}
