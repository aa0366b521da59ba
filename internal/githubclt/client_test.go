package githubclt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/automerger/internal/amerr"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	clt, err := New("secret-token", WithBaseURL(srv.URL), WithUserAgent("automerger-test"))
	require.NoError(t, err)

	return clt
}

func TestNewFailsOnRelativeBaseURL(t *testing.T) {
	_, err := New("", WithBaseURL("api.github.com"))
	require.Error(t, err)
}

func TestRESTRequestHeadersAndPath(t *testing.T) {
	var req *http.Request

	clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req = r.Clone(context.Background())
		_, _ = io.WriteString(w, `{"state": "success"}`)
	}))

	status, err := clt.CombinedStatus(context.Background(), "octo", "repo", "feature/feat#1")
	require.NoError(t, err)
	assert.Equal(t, CombinedStatusSuccess, status)

	require.NotNil(t, req)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/repos/octo/repo/commits/feature/feat%231/status", req.URL.EscapedPath())
	assert.Equal(t, "Bearer secret-token", req.Header.Get("Authorization"))
	assert.Equal(t, "automerger-test", req.Header.Get("User-Agent"))
	assert.NotEmpty(t, req.Header.Get("Accept"))
}

func TestCombinedStatus(t *testing.T) {
	tcs := []struct {
		state     string
		expected  CombinedStatus
		expectErr bool
	}{
		{state: "success", expected: CombinedStatusSuccess},
		{state: "pending", expected: CombinedStatusPending},
		{state: "failure", expected: CombinedStatusFailure},
		{state: "error", expected: CombinedStatusFailure},
		{state: "unknown", expectErr: true},
	}

	for _, tc := range tcs {
		t.Run(tc.state, func(t *testing.T) {
			clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"state": "`+tc.state+`", "total_count": 1}`)
			}))

			status, err := clt.CombinedStatus(context.Background(), "octo", "repo", "main")
			if tc.expectErr {
				var invalidErr *InvalidStatusError
				require.ErrorAs(t, err, &invalidErr)
				assert.Equal(t, tc.state, invalidErr.Status)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expected, status)
		})
	}
}

func TestParseCombinedStatusEmptyState(t *testing.T) {
	_, err := ParseCombinedStatus("")
	var invalidErr *InvalidStatusError
	assert.ErrorAs(t, err, &invalidErr)
}

func TestOpenPullRequestsFollowsPages(t *testing.T) {
	var cursors []any

	clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		var body struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "octo", body.Variables["owner"])
		assert.Equal(t, "repo", body.Variables["name"])
		cursors = append(cursors, body.Variables["after"])

		if body.Variables["after"] == nil {
			_, _ = io.WriteString(w, `{"data":{"repository":{"pullRequests":{
				"nodes":[{"title":"first","number":1,"mergeable":"MERGEABLE","baseRefName":"master","headRefName":"f1"}],
				"pageInfo":{"endCursor":"c1","hasNextPage":true}}}}}`)
			return
		}

		_, _ = io.WriteString(w, `{"data":{"repository":{"pullRequests":{
			"nodes":[{"title":"second","number":2,"mergeable":"CONFLICTING","baseRefName":"develop","headRefName":"f2"}],
			"pageInfo":{"endCursor":"c2","hasNextPage":false}}}}}`)
	}))

	prs, err := clt.OpenPullRequests(context.Background(), "octo", "repo")
	require.NoError(t, err)

	assert.Equal(t, []any{nil, "c1"}, cursors)
	assert.Equal(t, []*PullRequestSummary{
		{Title: "first", Number: 1, MergeableState: "MERGEABLE", BaseRef: "master", HeadRef: "f1"},
		{Title: "second", Number: 2, MergeableState: "CONFLICTING", BaseRef: "develop", HeadRef: "f2"},
	}, prs)
}

func TestWrapRetryableErrorsGraphql(t *testing.T) {
	clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	prs, err := clt.OpenPullRequests(context.Background(), "test", "test")
	require.Error(t, err)
	assert.Nil(t, prs)

	var retryableErr *amerr.RetryableError
	assert.ErrorAs(t, err, &retryableErr)
}

func TestWrapRetryableErrorsGraphqlWithNonStatusErr(t *testing.T) {
	err := errors.New("error")
	wrappedErr := (&Client{}).wrapGraphQLRetryableErrors(err)
	assert.Equal(t, err, wrappedErr)
}

func testMergeCommand() *MergeCommand {
	return &MergeCommand{
		Owner:         "octo",
		Repo:          "repo",
		Base:          "feature",
		Head:          "master",
		CommitMessage: "Merge branch 'master' into feature",
	}
}

func TestMergeCreated(t *testing.T) {
	var reqBody map[string]any

	clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/octo/repo/merges", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"sha": "6dcb09b5b57875f334f61aebed695e2e4193db5e"}`)
	}))

	commit, err := clt.Merge(context.Background(), testMergeCommand())
	require.NoError(t, err)
	require.NotNil(t, commit)
	assert.Equal(t, "6dcb09b5b57875f334f61aebed695e2e4193db5e", commit.GetSHA())

	assert.Equal(t, map[string]any{
		"base":           "feature",
		"head":           "master",
		"commit_message": "Merge branch 'master' into feature",
	}, reqBody)
}

func TestMergeNotCreatedIsNotAnError(t *testing.T) {
	tcs := []struct {
		name   string
		status int
		body   string
	}{
		{name: "nothing to merge", status: http.StatusNoContent},
		{name: "conflict", status: http.StatusConflict, body: `{"message": "Merge conflict"}`},
		{name: "missing branch", status: http.StatusNotFound, body: `{"message": "Base does not exist"}`},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))

			commit, err := clt.Merge(context.Background(), testMergeCommand())
			require.NoError(t, err)
			assert.Nil(t, commit)
		})
	}
}

func TestMergeServerErrorIsRetryable(t *testing.T) {
	clt := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	commit, err := clt.Merge(context.Background(), testMergeCommand())
	assert.Nil(t, commit)

	var retryableErr *amerr.RetryableError
	assert.ErrorAs(t, err, &retryableErr)
}

func TestTransportErrorIsReturned(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	clt, err := New("", WithBaseURL(srv.URL))
	require.NoError(t, err)

	commit, err := clt.Merge(context.Background(), testMergeCommand())
	require.Error(t, err)
	assert.Nil(t, commit)

	var retryableErr *amerr.RetryableError
	assert.False(t, errors.As(err, &retryableErr))
}

func TestRequestKindString(t *testing.T) {
	assert.Equal(t, "graphql_query", RequestKindGraphQLQuery.String())
	assert.Equal(t, "status_fetch", RequestKindStatusFetch.String())
	assert.Equal(t, "merge_create", RequestKindMergeCreate.String())
	assert.Equal(t, "undefined(0)", RequestKindUndefined.String())
}

func TestRequestIsAbortedAfterTimeout(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	clt, err := New("", WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = clt.CombinedStatus(context.Background(), "octo", "repo", "main")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
