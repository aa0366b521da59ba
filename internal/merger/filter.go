package merger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/simplesurance/automerger/internal/githubclt"
)

// filter is a jq query that decides if a pull request is merged.
// The query is run on the JSON representation of a
// githubclt.PullRequestSummary that has the additional field "status",
// containing the combined commit status.
type filter struct {
	query *gojq.Query
}

// newFilter parses jqQuery. If jqQuery is empty, nil is returned.
func newFilter(jqQuery string) (*filter, error) {
	if strings.TrimSpace(jqQuery) == "" {
		return nil, nil
	}

	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, err
	}

	return &filter{query: query}, nil
}

func (f *filter) String() string {
	if f == nil {
		return ""
	}

	return f.query.String()
}

func filterInput(pr *githubclt.PullRequestSummary, status githubclt.CombinedStatus) (map[string]any, error) {
	var result map[string]any

	buf, err := json.Marshal(pr)
	if err != nil {
		return nil, fmt.Errorf("marshaling pull request failed: %w", err)
	}

	if err := json.Unmarshal(buf, &result); err != nil {
		return nil, fmt.Errorf("unmarshaling json failed: %w", err)
	}

	result["status"] = string(status)

	return result, nil
}

func goJQIterToSlice(iter gojq.Iter) ([]any, []error) {
	var result []any
	var errs []error

	for {
		res, ok := iter.Next()
		if !ok {
			return result, errs
		}

		if err, isErr := res.(error); isErr {
			errs = append(errs, err)
			continue
		}

		result = append(result, res)
	}
}

func errString(errs []error) string {
	var result strings.Builder

	for i, err := range errs {
		if i > 0 {
			result.WriteString("; ")
		}

		fmt.Fprintf(&result, "error %d: %s", i, err)
	}

	return result.String()
}

// Match returns true if the query evaluates to true for pr.
// An error is returned when the query fails or does not evaluate to exactly
// one boolean value.
func (f *filter) Match(ctx context.Context, pr *githubclt.PullRequestSummary, status githubclt.CombinedStatus) (bool, error) {
	input, err := filterInput(pr, status)
	if err != nil {
		return false, err
	}

	result, errs := goJQIterToSlice(f.query.RunWithContext(ctx, input))
	if len(errs) != 0 {
		return false, fmt.Errorf("json query returned errors, query: %q, errors: %s", f.query.String(), errString(errs))
	}

	if len(result) != 1 {
		return false, fmt.Errorf("json query returned %d results, expected 1, query: %q", len(result), f.query.String())
	}

	val, ok := result[0].(bool)
	if !ok {
		return false, fmt.Errorf(
			"json query returned non-bool result: %+v (%T), query: %q",
			result[0], result[0], f.query.String(),
		)
	}

	return val, nil
}
