package githubclt

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v43/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
)

// RequestKind identifies the API call a Request describes.
type RequestKind int

const (
	RequestKindUndefined RequestKind = iota
	RequestKindGraphQLQuery
	RequestKindStatusFetch
	RequestKindMergeCreate
)

func (k RequestKind) String() string {
	switch k {
	case RequestKindGraphQLQuery:
		return "graphql_query"
	case RequestKindStatusFetch:
		return "status_fetch"
	case RequestKindMergeCreate:
		return "merge_create"
	default:
		return fmt.Sprintf("undefined(%d)", int(k))
	}
}

// Request describes an API call, it is executed by Client.Execute.
type Request struct {
	Kind   RequestKind
	Method string
	// Path is the URL path relative to the API base URL.
	Path string
	// Body is marshalled to JSON and sent as request body of REST
	// requests, it can be nil.
	Body any
	// Variables are the variables of a GraphQL query.
	Variables map[string]any
}

// Response contains the metadata of an API response.
type Response struct {
	StatusCode int
}

func (r *Request) LogFields() []zap.Field {
	return []zap.Field{
		zap.Stringer("github_api_request_kind", r.Kind),
		zap.String("http_method", r.Method),
		zap.String("http_path", r.Path),
	}
}

// pullRequestsPageSize is the number of pull requests that are queried per
// GraphQL request, 100 is the maximum allowed by GitHub.
const pullRequestsPageSize = 100

// NewOpenPullRequestsQuery returns a request for a page of open pull requests
// of a repository. The result type is openPullRequestsQuery.
// after is the cursor of the previous page, it is nil for the first page.
func NewOpenPullRequestsQuery(owner, repo string, after *string) *Request {
	return &Request{
		Kind:   RequestKindGraphQLQuery,
		Method: http.MethodPost,
		Path:   "graphql",
		Variables: map[string]any{
			"owner":  githubv4.String(owner),
			"name":   githubv4.String(repo),
			"first":  githubv4.Int(pullRequestsPageSize),
			"after":  (*githubv4.String)(after),
			"states": []githubv4.PullRequestState{githubv4.PullRequestStateOpen},
		},
	}
}

// NewStatusFetchRequest returns a request for the combined commit status of
// ref. The result type is github.CombinedStatus.
func NewStatusFetchRequest(owner, repo, ref string) *Request {
	return &Request{
		Kind:   RequestKindStatusFetch,
		Method: http.MethodGet,
		Path: fmt.Sprintf(
			"repos/%s/%s/commits/%s/status",
			url.PathEscape(owner), url.PathEscape(repo), refURLEscape(ref),
		),
	}
}

// NewMergeCreateRequest returns a request that merges cmd.Head into cmd.Base.
// The result type is github.RepositoryCommit.
func NewMergeCreateRequest(cmd *MergeCommand) *Request {
	return &Request{
		Kind:   RequestKindMergeCreate,
		Method: http.MethodPost,
		Path:   fmt.Sprintf("repos/%s/%s/merges", url.PathEscape(cmd.Owner), url.PathEscape(cmd.Repo)),
		Body: &github.RepositoryMergeRequest{
			Base:          github.String(cmd.Base),
			Head:          github.String(cmd.Head),
			CommitMessage: github.String(cmd.CommitMessage),
		},
	}
}

// refURLEscape escapes every path segment of ref. Slashes in branch names
// are kept as path separators.
func refURLEscape(ref string) string {
	parts := strings.Split(ref, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}

	return strings.Join(parts, "/")
}
