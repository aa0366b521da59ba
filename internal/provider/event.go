package provider

import (
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/logfields"
)

// Event is an authenticated webhook event.
// Only Payload is persisted, the other fields are metadata used for logging.
// An Event must not be modified after it was enqueued.
type Event struct {
	// Payload is the parsed JSON body of the webhook request. JSON numbers
	// are represented as json.Number.
	Payload any

	Provider   string
	ReceivedAt time.Time

	// Github hook fields, if the value is not available they are empty
	// strings.
	DeliveryID      string
	EventType       string
	RepositoryOwner string
	Repository      string
	CommitID        string
	Branch          string
	// PullRequestNr is 0 if it's not available
	PullRequestNr int
}

func (e *Event) LogFields() []zap.Field {
	fields := make([]zap.Field, 0, 8) // cap == max. size of fields we append

	if e.Provider != "" {
		fields = append(fields, logfields.EventProvider(e.Provider))
	}

	if e.DeliveryID != "" {
		fields = append(fields, logfields.DeliveryID(e.DeliveryID))
	}

	if e.EventType != "" {
		fields = append(fields, logfields.WebhookType(e.EventType))
	}

	if e.RepositoryOwner != "" {
		fields = append(fields, logfields.RepositoryOwner(e.RepositoryOwner))
	}

	if e.Repository != "" {
		fields = append(fields, logfields.Repository(e.Repository))
	}

	if e.CommitID != "" {
		fields = append(fields, logfields.Commit(e.CommitID))
	}

	if e.Branch != "" {
		fields = append(fields, logfields.Branch(e.Branch))
	}

	if e.PullRequestNr != 0 {
		fields = append(fields, logfields.PullRequest(e.PullRequestNr))
	}

	return fields
}
