package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/eventlog"
	"github.com/simplesurance/automerger/internal/logfields"
)

// shutdownHTTPServers stops accepting new connections and waits until
// in-flight requests finished. When timeout expires, the remaining
// connections are closed.
func shutdownHTTPServers(servers []*http.Server, timeout time.Duration) {
	ctx, cancelFn := context.WithTimeout(context.Background(), timeout)
	defer cancelFn()

	for _, srv := range servers {
		logger.Debug(
			"terminating http server",
			logfields.Event("http_server_terminating"),
			zap.String("listenAddr", srv.Addr),
			zap.Duration("shutdown_timeout", timeout),
		)

		err := srv.Shutdown(ctx)
		if err == nil {
			continue
		}

		if !errors.Is(err, context.DeadlineExceeded) {
			logger.Warn(
				"shutting down http server failed",
				logfields.Event("http_server_termination_failed"),
				zap.String("listenAddr", srv.Addr),
				zap.Error(err),
			)
		}

		logger.Info(
			"closing remaining http connections",
			logfields.Event("http_server_closing_connections"),
			zap.String("listenAddr", srv.Addr),
		)

		if err := srv.Close(); err != nil {
			logger.Warn(
				"closing http server failed",
				logfields.Event("http_server_closing_failed"),
				zap.String("listenAddr", srv.Addr),
				zap.Error(err),
			)
		}
	}
}

// drainEventLog waits until evLog persisted all queued events.
// When it did not finish within timeout, retrying failed writes is aborted,
// remaining events that can not be written are dropped.
func drainEventLog(evLog *eventlog.Logger, timeout time.Duration) {
	select {
	case <-evLog.Done():
		return

	case <-time.After(timeout):
		logger.Warn(
			"event log was not drained within the shutdown timeout",
			logfields.Event("event_log_drain_timeout"),
			zap.Duration("shutdown_timeout", timeout),
		)
	}

	evLog.StopRetrying()
	<-evLog.Done()
}
