package github

import (
	"encoding/json"
	"net/http"
)

// HTTPError is an error that is reported to the sender of a webhook request.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

var (
	ErrEventTypeHeaderRequired = &HTTPError{StatusCode: http.StatusNotFound, Message: "header `X-GitHub-Event` is required"}
	ErrSignatureHeaderRequired = &HTTPError{StatusCode: http.StatusUnauthorized, Message: "header `X-Hub-Signature` is required"}
	ErrUnsupportedHMACMethod   = &HTTPError{StatusCode: http.StatusUnauthorized, Message: "unsupported HMAC method"}
	ErrInvalidSignatureHeader  = &HTTPError{StatusCode: http.StatusUnauthorized, Message: "invalid `X-Hub-Signature` header"}
	ErrForbidden               = &HTTPError{StatusCode: http.StatusUnauthorized, Message: "forbidden"}
	ErrInvalidPayload          = &HTTPError{StatusCode: http.StatusBadRequest, Message: "invalid JSON payload"}
	ErrReadingBodyFailed       = &HTTPError{StatusCode: http.StatusBadRequest, Message: "reading request body failed"}
	ErrPayloadTooLarge         = &HTTPError{StatusCode: http.StatusRequestEntityTooLarge, Message: "payload too large"}
	ErrMethodNotAllowed        = &HTTPError{StatusCode: http.StatusMethodNotAllowed, Message: "method not allowed"}
	ErrServiceShuttingDown     = &HTTPError{StatusCode: http.StatusInternalServerError, Message: "service is shutting down"}
	ErrServiceUnavailable      = &HTTPError{StatusCode: http.StatusServiceUnavailable, Message: "event queue is full"}
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeError sends err as JSON document to the client.
func writeError(resp http.ResponseWriter, err *HTTPError) error {
	body, marshalErr := json.Marshal(&errorResponse{Error: err.Message})
	if marshalErr != nil {
		return marshalErr
	}

	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(err.StatusCode)
	_, writeErr := resp.Write(body)

	return writeErr
}
