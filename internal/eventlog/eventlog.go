// Package eventlog persists webhook events in an append-only log file.
//
// The Logger is the only consumer of an eventqueue.Queue. Each event is
// written as a single line of canonical JSON and flushed to stable storage
// before the next event is processed.
package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/simplesurance/automerger/internal/amerr"
	"github.com/simplesurance/automerger/internal/logfields"
	"github.com/simplesurance/automerger/internal/provider"
	"github.com/simplesurance/automerger/internal/retry"
)

const loggerName = "event-log"

// DefWriteRetryTimeout is the default duration for that writing an event is
// retried before the event is dropped.
const DefWriteRetryTimeout = 10 * time.Second

// lockTimeout is the maximum duration Open waits for the lock of the log
// file.
var lockTimeout = 5 * time.Second

// SyncWriter is a writer that can flush written data to stable storage.
// *os.File implements it.
type SyncWriter interface {
	io.Writer
	Sync() error
}

// Retryer runs a function repeatedly while it fails with a retryable error.
type Retryer interface {
	Run(context.Context, func(context.Context) error, []zap.Field) error
	Stop()
}

// truncater is implemented by writers whose content can be cut back to a
// previous size, e.g. *os.File.
type truncater interface {
	Truncate(size int64) error
}

// Logger writes events received from a channel to a SyncWriter.
type Logger struct {
	w       SyncWriter
	closeFn func() error

	// size is the number of bytes in w that end with a complete line.
	size int64
	// needsLineBreak is true when w ends with the fragment of a
	// dropped event that could not be removed.
	needsLineBreak bool

	ch      <-chan *provider.Event
	logger  *zap.Logger
	retryer Retryer
	// stopRetryer is true when the retryer was created by the Logger
	stopRetryer bool

	done chan struct{}
}

type Option func(*Logger)

// WithRetryer sets the retryer that is used to retry failed writes.
func WithRetryer(r Retryer) Option {
	return func(l *Logger) {
		l.retryer = r
	}
}

// New returns a Logger that writes events received from ch to w.
func New(w SyncWriter, ch <-chan *provider.Event, opts ...Option) *Logger {
	l := Logger{
		w:    w,
		ch:   ch,
		done: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(&l)
	}

	if l.logger == nil {
		l.logger = zap.L().Named(loggerName)
	}

	if l.retryer == nil {
		l.stopRetryer = true
		l.retryer = retry.New(
			retry.WithTimeout(DefWriteRetryTimeout),
			retry.WithLogger(l.logger.Named("retryer")),
		)
	}

	return &l
}

// Open opens or creates the log file at path in append-only mode and returns
// a Logger for it.
// An exclusive lock is acquired on the file path+".lock", to prevent that
// multiple processes write to the same log. The lock and the file are
// released when Run() returns.
func Open(path string, ch <-chan *provider.Event, opts ...Option) (*Logger, error) {
	lock := flock.New(path + ".lock")

	ctx, cancelFn := context.WithTimeout(context.Background(), lockTimeout)
	defer cancelFn()

	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s failed: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("acquiring lock %s failed: timeout expired, is another process using the log file?", lock.Path())
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("retrieving size of %s failed: %w", path, err), f.Close(), lock.Unlock())
	}

	l := New(f, ch, opts...)
	l.size = stat.Size()
	l.closeFn = func() error {
		return errors.Join(f.Close(), lock.Unlock())
	}

	return l, nil
}

// Run processes events until the channel is closed and drained.
// It must only be called once.
func (l *Logger) Run() {
	defer close(l.done)

	l.logger.Info("ready to persist events", logfields.Event("eventlog_started"))

	for ev := range l.ch {
		logger := l.logger.With(ev.LogFields()...)

		err := l.persist(ev)
		if err != nil {
			metrics.eventsInc(resultDropped)
			logger.Error(
				"persisting event failed, event dropped",
				logfields.Event("eventlog_event_dropped"),
				zap.Error(err),
			)
			continue
		}

		metrics.eventsInc(resultPersisted)
		logger.Debug("event persisted", logfields.Event("eventlog_event_persisted"))
	}

	if l.stopRetryer {
		l.retryer.Stop()
	}

	if l.closeFn != nil {
		if err := l.closeFn(); err != nil {
			l.logger.Warn(
				"closing event log failed",
				logfields.Event("eventlog_closing_failed"),
				zap.Error(err),
			)
		}
	}

	l.logger.Info(
		"event log terminated, event channel was closed",
		logfields.Event("eventlog_terminated"),
	)
}

// StopRetrying aborts the retries of failed writes. Events whose write fails
// afterwards are dropped after the first try.
// It is used to bound the time it takes to drain the queue on shutdown.
func (l *Logger) StopRetrying() {
	l.logger.Info(
		"aborting write retries, events that can not be written are dropped",
		logfields.Event("eventlog_retries_stopped"),
	)

	l.retryer.Stop()
}

// Done returns a channel that is closed when Run() returned.
func (l *Logger) Done() <-chan struct{} {
	return l.done
}

func (l *Logger) persist(ev *provider.Event) error {
	line, err := marshalLine(ev.Payload)
	if err != nil {
		return fmt.Errorf("serializing event failed: %w", err)
	}

	if l.needsLineBreak {
		line = append([]byte{'\n'}, line...)
	}

	var written int
	var synced bool

	err = l.retryer.Run(context.Background(), func(context.Context) error {
		// a previous try might have written a part of the line
		if written < len(line) {
			n, err := l.w.Write(line[written:])
			written += n
			if err != nil && written < len(line) {
				return amerr.NewRetryableAnytimeError(fmt.Errorf("writing event failed: %w", err))
			}
		}

		if err := l.w.Sync(); err != nil {
			return amerr.NewRetryableAnytimeError(fmt.Errorf("syncing event log failed: %w", err))
		}

		synced = true

		return nil
	}, ev.LogFields())

	switch {
	case written == len(line):
		l.size += int64(written)
		l.needsLineBreak = false

		if !synced {
			l.logger.Warn(
				"event was written but flushing it to stable storage failed",
				append(ev.LogFields(), logfields.Event("eventlog_event_not_synced"), zap.Error(err))...,
			)
		}

		return nil

	case written > 0:
		l.removeFragment(ev, line[:written])
	}

	return err
}

// removeFragment restores the line boundary at the end of the log after a
// partial write of an event.
// If the writer can not be truncated, the next event is preceded by a line
// break and the fragment remains as separate line.
func (l *Logger) removeFragment(ev *provider.Event, fragment []byte) {
	logger := l.logger.With(ev.LogFields()...)

	if t, ok := l.w.(truncater); ok {
		err := t.Truncate(l.size)
		if err == nil {
			logger.Debug(
				"removed partially written event from log",
				logfields.Event("eventlog_fragment_removed"),
				zap.Int("fragment_len", len(fragment)),
			)
			return
		}

		logger.Warn(
			"removing partially written event from log failed",
			logfields.Event("eventlog_fragment_removal_failed"),
			zap.Error(err),
		)
	}

	l.size += int64(len(fragment))
	// only the line break that precedes the event was written
	l.needsLineBreak = fragment[len(fragment)-1] != '\n'

	logger.Warn(
		"log contains a partially written event, it is terminated before the next event",
		logfields.Event("eventlog_fragment_kept"),
		zap.Int("fragment_len", len(fragment)),
	)
}

// marshalLine returns the canonical JSON representation of payload, terminated
// by a newline.
// Object keys are sorted, insignificant whitespace is omitted and HTML
// characters are not escaped.
func marshalLine(payload any) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(payload); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
