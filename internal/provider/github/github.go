// Package github receives GitHub webhook http-requests, authenticates them and
// forwards them as events to a queue.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/go-github/v43/github"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/eventqueue"
	"github.com/simplesurance/automerger/internal/logfields"
	"github.com/simplesurance/automerger/internal/provider"
)

const loggerName = "github-event-provider"

const providerName = "github"

// DefMaxPayloadSize is the default maximum size of a webhook request body.
// GitHub caps payloads at 25MB.
const DefMaxPayloadSize = 25 * 1024 * 1024

const pingEventType = "ping"

// EventQueue is the destination for authenticated events.
type EventQueue interface {
	Enqueue(context.Context, *provider.Event) error
}

// Provider listens for github-webhook http-requests at a http-server handler,
// authenticates and converts the requests to Events and enqueues them.
type Provider struct {
	logging        *zap.Logger
	webhookSecret  []byte
	maxPayloadSize int64
	queue          EventQueue
}

type option func(*Provider)

// WithPayloadSecret sets the shared secret that is used to verify the
// signatures of webhook payloads.
func WithPayloadSecret(secret string) option {
	return func(p *Provider) {
		p.webhookSecret = []byte(secret)
	}
}

// WithMaxPayloadSize sets the maximum accepted size of a request body.
func WithMaxPayloadSize(size int64) option {
	return func(p *Provider) {
		p.maxPayloadSize = size
	}
}

func New(queue EventQueue, opts ...option) *Provider {
	p := Provider{
		queue:          queue,
		maxPayloadSize: DefMaxPayloadSize,
	}

	for _, o := range opts {
		o(&p)
	}

	if p.logging == nil {
		p.logging = zap.L().Named(loggerName)
	}

	return &p
}

// HTTPHandler authenticates a webhook request and enqueues it as event.
// The response is sent after the event was accepted by the queue, it does
// not confirm that the event was persisted.
// Ping events are acknowledged without authentication.
func (p *Provider) HTTPHandler(resp http.ResponseWriter, req *http.Request) {
	logger := p.logging

	if req.Method != http.MethodPost {
		p.respondError(logger, resp, ErrMethodNotAllowed)
		return
	}

	hookType := github.WebHookType(req)
	if hookType == "" {
		p.respondError(logger, resp, ErrEventTypeHeaderRequired)
		return
	}

	deliveryID := github.DeliveryID(req)
	if deliveryID == "" {
		// the ID is only used to correlate log messages
		deliveryID = uuid.NewString()
	}

	logger = logger.With(
		logfields.EventProvider(providerName),
		logfields.DeliveryID(deliveryID),
		logfields.WebhookType(hookType),
	)

	if hookType == pingEventType {
		logger.Debug("received ping event", logfields.Event("github_ping_received"))
		p.respondOK(resp)
		return
	}

	signature, httpErr := parseSignatureHeader(req.Header.Get(signatureHeader))
	if httpErr != nil {
		p.respondError(logger, resp, httpErr)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(resp, req.Body, p.maxPayloadSize))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			logger.Info(
				"received http request with too large body",
				logfields.Event("github_http_request_body_too_large"),
				zap.Int64("max_payload_size", maxBytesErr.Limit),
			)
			p.respondError(logger, resp, ErrPayloadTooLarge)
			return
		}

		logger.Info(
			"reading http request body failed",
			logfields.Event("github_http_request_reading_body_failed"),
			zap.Error(err),
		)
		p.respondError(logger, resp, ErrReadingBodyFailed)
		return
	}

	if err := VerifySignature(payload, p.webhookSecret, signature); err != nil {
		logger.Info(
			"received invalid http request, payload validation failed",
			logfields.Event("github_http_request_validation_failed"),
			zap.Error(err),
		)
		p.respondError(logger, resp, ErrForbidden)
		return
	}

	logger.Debug(
		"received http request",
		logfields.Event("github_event_received"),
		zap.ByteString("http_body", payload),
	)

	parsedPayload, err := parsePayload(payload)
	if err != nil {
		logger.Info(
			"received invalid http request, parsing failed",
			logfields.Event("github_event_parsing_failed"),
			zap.Error(err),
		)
		p.respondError(logger, resp, ErrInvalidPayload)
		return
	}

	ev := provider.Event{
		Payload:    parsedPayload,
		Provider:   providerName,
		ReceivedAt: time.Now(),
		DeliveryID: deliveryID,
		EventType:  hookType,
	}
	addEventInfo(&ev, hookType, payload)
	logger = logger.With(ev.LogFields()...)

	err = p.queue.Enqueue(req.Context(), &ev)
	if err != nil {
		if errors.Is(err, eventqueue.ErrClosed) {
			logger.Warn(
				"event lost, queue is closed",
				logfields.Event("github_forwarding_event_failed"),
				zap.Error(err),
			)
			p.respondError(logger, resp, ErrServiceShuttingDown)
			return
		}

		logger.Warn(
			"event lost, request was cancelled while waiting for space in the queue",
			logfields.Event("github_forwarding_event_failed"),
			zap.Error(err),
		)
		p.respondError(logger, resp, ErrServiceUnavailable)
		return
	}

	logger.Debug("event forwarded to queue", logfields.Event("github_event_forwarded"))

	p.respondOK(resp)
}

func (p *Provider) respondOK(resp http.ResponseWriter) {
	resp.WriteHeader(http.StatusOK)
	metrics.requestsInc(http.StatusOK)
}

func (p *Provider) respondError(logger *zap.Logger, resp http.ResponseWriter, httpErr *HTTPError) {
	metrics.requestsInc(httpErr.StatusCode)

	logger.Debug(
		"rejecting http request",
		logfields.Event("github_http_request_rejected"),
		zap.Int("http_status", httpErr.StatusCode),
		zap.String("reason", httpErr.Message),
	)

	if err := writeError(resp, httpErr); err != nil {
		logger.Info(
			"sending http response failed",
			logfields.Event("github_http_response_failed"),
			zap.Error(err),
		)
	}
}

// parsePayload parses a JSON document.
// Numbers are kept as json.Number to preserve their precision.
func parsePayload(payload []byte) (any, error) {
	var result any

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	if err := dec.Decode(&result); err != nil {
		return nil, err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON document")
	}

	return result, nil
}
