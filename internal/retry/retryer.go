// Package retry runs operations repeatedly while they fail with an
// amerr.RetryableError.
package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/amerr"
	"github.com/simplesurance/automerger/internal/logfields"
)

// DefTimeout is the default duration after that Run gives up retrying.
const DefTimeout = 2 * time.Minute

const (
	defBackoffInitialInterval     = 500 * time.Millisecond
	defBackoffRandomizationFactor = 0.5
)

const loggerName = "retryer"

// ErrStopped is returned by Run when the Retryer was stopped while waiting
// for the next try.
var ErrStopped = errors.New("retryer stopped")

// Retryer executes a function repeatedly until it was successful or cancel
// condition happened.
type Retryer struct {
	logger *zap.Logger

	defTimeout                 time.Duration
	backoffInitialInterval     time.Duration
	backoffRandomizationFactor float64

	shutdownChan chan struct{}
	stopOnce     sync.Once
}

type Option func(*Retryer)

// WithTimeout sets the maximum duration Run retries a failing function.
func WithTimeout(d time.Duration) Option {
	return func(r *Retryer) {
		r.defTimeout = d
	}
}

// WithBackoffInitialInterval sets the pause before the first retry.
func WithBackoffInitialInterval(d time.Duration) Option {
	return func(r *Retryer) {
		r.backoffInitialInterval = d
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Retryer) {
		r.logger = logger
	}
}

func New(opts ...Option) *Retryer {
	r := Retryer{
		defTimeout:                 DefTimeout,
		backoffInitialInterval:     defBackoffInitialInterval,
		backoffRandomizationFactor: defBackoffRandomizationFactor,
		shutdownChan:               make(chan struct{}),
	}

	for _, opt := range opts {
		opt(&r)
	}

	if r.logger == nil {
		r.logger = zap.L().Named(loggerName)
	}

	return &r
}

func (r *Retryer) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.backoffInitialInterval
	bo.RandomizationFactor = r.backoffRandomizationFactor
	// termination is controlled by the timeout of the context
	bo.MaxElapsedTime = 0
	bo.Reset()

	return bo
}

// Run executes fn until it was successful, it returned an error that
// does not wrap amerr.RetryableError, the timeout expired or the execution
// was aborted via the context.
// The first try runs immediately.
// When the timeout expires or ctx is cancelled, the returned error wraps the
// error of the context.
func (r *Retryer) Run(ctx context.Context, fn func(context.Context) error, logF []zap.Field) error {
	var tryCnt uint

	ctx, cancelFn := context.WithTimeout(ctx, r.defTimeout)
	defer cancelFn()

	bo := r.newBackoff()

	var retryTimer *time.Timer
	defer func() {
		if retryTimer != nil {
			retryTimer.Stop()
		}
	}()

	logger := r.logger.With(logF...)

	for {
		tryCnt++
		logger := logger.With(zap.Uint("try_count", tryCnt))

		err := fn(ctx)
		if err == nil {
			if tryCnt > 1 {
				logger.Debug(
					"operation succeeded after retrying",
					logfields.Event("retry_operation_succeeded"),
				)
			}

			return nil
		}

		logger = logger.With(zap.Error(err))

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		after, retryable := amerr.RetryAfter(err)
		if !retryable {
			return err
		}

		var retryIn time.Duration
		if after.IsZero() {
			retryIn = bo.NextBackOff()
		} else {
			retryIn = time.Until(after)
			// after is in the past, do not retry in a busy loop
			if retryIn < r.backoffInitialInterval {
				retryIn = bo.NextBackOff()
			}
		}

		if deadline, ok := ctx.Deadline(); ok && time.Now().Add(retryIn).After(deadline) {
			logger.Info(
				"operation failed, next possible retry time is after timeout expiration",
				logfields.Event("retry_timeout_exceeded"),
				zap.Duration("retry_in", retryIn),
				zap.Duration("age", bo.GetElapsedTime()),
			)

			return fmt.Errorf("retry timeout expired: %w, last error: %w", context.DeadlineExceeded, err)
		}

		logger.Info(
			"operation failed, retry scheduled",
			logfields.Event("retry_scheduled"),
			zap.Duration("retry_in", retryIn),
		)

		if retryTimer == nil {
			retryTimer = time.NewTimer(retryIn)
		} else {
			retryTimer.Reset(retryIn)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-r.shutdownChan:
			logger.Debug(
				"retryer terminating, operation not retried",
				logfields.Event("retry_cancelled_retryer_stopped"),
			)
			return ErrStopped

		case <-retryTimer.C:
		}
	}
}

// Stop notifies all Run() methods to terminate.
// It does not wait for their termination.
func (r *Retryer) Stop() {
	r.logger.Debug("retryer terminating", logfields.Event("retryer_terminating"))

	r.stopOnce.Do(func() {
		close(r.shutdownChan)
	})
}
