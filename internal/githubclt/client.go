// Package githubclt provides a github API client.
package githubclt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v43/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/automerger/internal/amerr"
	"github.com/simplesurance/automerger/internal/logfields"
)

const DefaultHTTPClientTimeout = time.Minute

const (
	DefaultBaseURL   = "https://api.github.com"
	DefaultUserAgent = "automerger"
)

const loggerName = "github_client"

// Client is an github API client.
// All methods return an amerr.RetryableError when an operation can be
// retried. This can be e.g. the case when the API ratelimit is exceeded.
// The client does not retry operations itself.
type Client struct {
	restClt    *github.Client
	graphQLClt *githubv4.Client
	logger     *zap.Logger
}

type options struct {
	baseURL   string
	userAgent string
	timeout   time.Duration
}

type Option func(*options)

// WithBaseURL sets the URL of the GitHub API.
// REST requests are sent to paths below it, GraphQL requests to
// <baseURL>/graphql.
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.baseURL = baseURL
	}
}

// WithUserAgent sets the value of the User-Agent header that is sent with
// every request.
func WithUserAgent(userAgent string) Option {
	return func(o *options) {
		o.userAgent = userAgent
	}
}

// WithTimeout sets the timeout of the http client.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// New returns a new github api client.
// When oauthAPIToken is not empty it is sent as bearer token with every
// request.
func New(oauthAPIToken string, opts ...Option) (*Client, error) {
	o := options{
		baseURL:   DefaultBaseURL,
		userAgent: DefaultUserAgent,
		timeout:   DefaultHTTPClientTimeout,
	}

	for _, opt := range opts {
		opt(&o)
	}

	baseURL := strings.TrimSuffix(o.baseURL, "/")

	restURL, err := url.Parse(baseURL + "/")
	if err != nil {
		return nil, fmt.Errorf("parsing base url failed: %w", err)
	}

	if restURL.Scheme == "" || restURL.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", o.baseURL)
	}

	httpClient := newHTTPClient(oauthAPIToken, o.userAgent, o.timeout)

	restClt := github.NewClient(httpClient)
	restClt.BaseURL = restURL
	restClt.UserAgent = o.userAgent

	return &Client{
		restClt:    restClt,
		graphQLClt: githubv4.NewEnterpriseClient(baseURL+"/graphql", httpClient),
		logger:     zap.L().Named(loggerName),
	}, nil
}

func newHTTPClient(apiToken, userAgent string, timeout time.Duration) *http.Client {
	var transport http.RoundTripper = &headerTransport{
		base:      http.DefaultTransport,
		userAgent: userAgent,
	}

	if apiToken != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiToken}),
			Base:   transport,
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// headerTransport sets the headers that are required for all API calls.
// go-github sets them for REST requests, the GraphQL client does not.
type headerTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())

	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	return t.base.RoundTrip(req)
}

// Execute sends the request described by req and stores the decoded response
// in result.
// For GraphQL queries result must be a pointer to a githubv4 query struct.
// For REST requests a *Response is also returned on error when the API
// responded. Its StatusCode allows to distinguish rejections from transport
// errors.
func (clt *Client) Execute(ctx context.Context, req *Request, result any) (*Response, error) {
	logger := clt.logger.With(req.LogFields()...)

	switch req.Kind {
	case RequestKindGraphQLQuery:
		logger.Debug("sending graphql query", logfields.Event("github_api_request_sending"))

		if err := clt.graphQLClt.Query(ctx, result, req.Variables); err != nil {
			return nil, clt.wrapGraphQLRetryableErrors(err)
		}

		return &Response{StatusCode: http.StatusOK}, nil

	case RequestKindStatusFetch, RequestKindMergeCreate:
		logger.Debug("sending rest request", logfields.Event("github_api_request_sending"))
		return clt.executeREST(ctx, req, result)

	default:
		return nil, fmt.Errorf("unsupported request kind: %s", req.Kind)
	}
}

func (clt *Client) executeREST(ctx context.Context, req *Request, result any) (*Response, error) {
	httpReq, err := clt.restClt.NewRequest(req.Method, req.Path, req.Body)
	if err != nil {
		return nil, fmt.Errorf("creating http request failed: %w", err)
	}

	resp, err := clt.restClt.Do(ctx, httpReq, result)

	var response *Response
	if resp != nil {
		response = &Response{StatusCode: resp.StatusCode}
	}

	if err != nil {
		return response, clt.wrapRetryableErrors(err)
	}

	clt.logger.Debug(
		"received response",
		append(
			req.LogFields(),
			logfields.Event("github_api_response_received"),
			zap.Int("http_status", resp.StatusCode),
		)...,
	)

	return response, nil
}

func (clt *Client) wrapRetryableErrors(err error) error {
	switch v := err.(type) {
	case *github.RateLimitError:
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", v.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", v.Rate.Reset.Time),
		)

		return amerr.NewRetryableError(err, v.Rate.Reset.Time)

	case *github.AbuseRateLimitError:
		clt.logger.Info(
			"secondary rate limit exceeded",
			logfields.Event("github_api_secondary_rate_limit_exceeded"),
			zap.Durationp("github_api_retry_after", v.RetryAfter),
		)

		if v.RetryAfter != nil {
			return amerr.NewRetryableError(err, time.Now().Add(*v.RetryAfter))
		}

		return amerr.NewRetryableAnytimeError(err)

	case *github.ErrorResponse:
		if v.Response.StatusCode >= 500 && v.Response.StatusCode < 600 {
			return amerr.NewRetryableAnytimeError(err)
		}
	}

	return err
}

var graphQlHTTPStatusErrRe = regexp.MustCompile(`^non-200 OK status code: ([0-9]+) .*`)

func (clt *Client) wrapGraphQLRetryableErrors(err error) error {
	matches := graphQlHTTPStatusErrRe.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return err
	}

	errcode, atoiErr := strconv.Atoi(matches[1])
	if atoiErr != nil {
		clt.logger.Info(
			"parsing http code from error string failed",
			zap.Error(atoiErr),
			zap.String("error_string", err.Error()),
			zap.String("http_errcode", matches[1]),
		)
		return err
	}

	if errcode >= 500 && errcode < 600 {
		return amerr.NewRetryableAnytimeError(err)
	}

	return err
}
