package githubclt

import (
	"context"
	"fmt"

	"github.com/google/go-github/v43/github"
)

// CombinedStatus is the aggregated state of all commit statuses of a ref.
type CombinedStatus string

const (
	CombinedStatusSuccess CombinedStatus = "success"
	CombinedStatusPending CombinedStatus = "pending"
	CombinedStatusFailure CombinedStatus = "failure"
)

// InvalidStatusError is returned when GitHub reports a combined status state
// that is unknown.
type InvalidStatusError struct {
	Status string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid combined status: %q", e.Status)
}

// ParseCombinedStatus converts the state field of a GitHub combined status
// response to a CombinedStatus.
// The states "failure" and "error" are both converted to
// CombinedStatusFailure. For all unknown values an *InvalidStatusError is
// returned.
func ParseCombinedStatus(state string) (CombinedStatus, error) {
	switch state {
	case "success":
		return CombinedStatusSuccess, nil
	case "pending":
		return CombinedStatusPending, nil
	case "failure", "error":
		return CombinedStatusFailure, nil
	default:
		return "", &InvalidStatusError{Status: state}
	}
}

// CombinedStatus returns the combined commit status of ref.
func (clt *Client) CombinedStatus(ctx context.Context, owner, repo, ref string) (CombinedStatus, error) {
	var status github.CombinedStatus

	_, err := clt.Execute(ctx, NewStatusFetchRequest(owner, repo, ref), &status)
	if err != nil {
		return "", fmt.Errorf("fetching combined status of %q failed: %w", ref, err)
	}

	return ParseCombinedStatus(status.GetState())
}
