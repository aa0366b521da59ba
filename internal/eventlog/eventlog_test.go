package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/automerger/internal/eventqueue"
	"github.com/simplesurance/automerger/internal/provider"
	"github.com/simplesurance/automerger/internal/retry"
)

const runTimeout = 5 * time.Second

func mustParsePayload(t *testing.T, s string) any {
	t.Helper()

	var result any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&result))

	return result
}

func runUntilDone(t *testing.T, l *Logger) {
	t.Helper()

	go l.Run()

	select {
	case <-l.Done():
	case <-time.After(runTimeout):
		t.Fatal("event logger did not terminate after the queue was closed")
	}
}

func TestEventsAreAppendedInOrder(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	path := filepath.Join(t.TempDir(), "event.log")
	require.NoError(t, os.WriteFile(path, []byte("{\"existing\":true}\n"), 0o600))

	q := eventqueue.New(10)

	l, err := Open(path, q.C())
	require.NoError(t, err)
	assert.EqualValues(t, len("{\"existing\":true}\n"), l.size)

	require.NoError(t, q.Enqueue(context.Background(), &provider.Event{Payload: mustParsePayload(t, `{"zen":"x"}`)}))
	require.NoError(t, q.Enqueue(context.Background(), &provider.Event{Payload: mustParsePayload(t, `{"zen": "y"}`)}))
	q.Close()

	runUntilDone(t, l)

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "{\"existing\":true}\n{\"zen\":\"x\"}\n{\"zen\":\"y\"}\n", string(content))
}

func TestLockIsReleasedAfterRun(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	path := filepath.Join(t.TempDir(), "event.log")

	q := eventqueue.New(1)
	l, err := Open(path, q.C())
	require.NoError(t, err)
	q.Close()
	runUntilDone(t, l)

	q = eventqueue.New(1)
	l, err = Open(path, q.C())
	require.NoError(t, err)
	q.Close()
	runUntilDone(t, l)
}

func TestOpenFailsWhenLogIsLocked(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	origLockTimeout := lockTimeout
	lockTimeout = 200 * time.Millisecond
	t.Cleanup(func() { lockTimeout = origLockTimeout })

	path := filepath.Join(t.TempDir(), "event.log")

	q := eventqueue.New(1)
	l, err := Open(path, q.C())
	require.NoError(t, err)

	_, err = Open(path, q.C())
	assert.Error(t, err)

	q.Close()
	runUntilDone(t, l)
}

func TestMarshalLineIsCanonical(t *testing.T) {
	payload := mustParsePayload(t, `{
		"zen": "<a & b>",
		"action": "opened",
		"number": 12345678901234567890,
		"nested": {"z": 1.50, "a": [3, 2, 1]}
	}`)

	line, err := marshalLine(payload)
	require.NoError(t, err)

	assert.Equal(t,
		`{"action":"opened","nested":{"a":[3,2,1],"z":1.50},"number":12345678901234567890,"zen":"<a & b>"}`+"\n",
		string(line),
	)
}

type failingWriter struct {
	bytes.Buffer
	// failWrites is the number of Write calls that fail
	failWrites int
	// partial is the number of bytes that are written by a failing Write
	partial int
	// failSyncs is the number of Sync calls that fail
	failSyncs int
	syncs     int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.failWrites > 0 {
		w.failWrites--

		n := w.partial
		if n > len(p) {
			n = len(p)
		}
		w.Buffer.Write(p[:n])

		return n, errors.New("disk full")
	}

	return w.Buffer.Write(p)
}

func (w *failingWriter) Sync() error {
	if w.failSyncs > 0 {
		w.failSyncs--
		return errors.New("i/o error")
	}

	w.syncs++
	return nil
}

// truncatingWriter is a failingWriter that supports removing data from the
// end, like *os.File.
type truncatingWriter struct {
	failingWriter
}

func (w *truncatingWriter) Truncate(size int64) error {
	w.Buffer.Truncate(int(size))
	return nil
}

// triesRetryer runs a function up to tries times without pausing.
type triesRetryer struct {
	tries int
}

func (r *triesRetryer) Run(ctx context.Context, fn func(context.Context) error, _ []zap.Field) error {
	var err error

	for range r.tries {
		if err = fn(ctx); err == nil {
			return nil
		}
	}

	return err
}

func (*triesRetryer) Stop() {}

func enqueueZen(t *testing.T, q *eventqueue.Queue, vals ...string) {
	t.Helper()

	for _, v := range vals {
		ev := provider.Event{Payload: mustParsePayload(t, `{"zen":"`+v+`"}`)}
		require.NoError(t, q.Enqueue(context.Background(), &ev))
	}
}

func TestFailedWriteIsRetried(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	w := failingWriter{failWrites: 2, partial: 3}
	q := eventqueue.New(1)

	l := New(&w, q.C(), WithRetryer(retry.New(retry.WithBackoffInitialInterval(10*time.Millisecond))))

	require.NoError(t, q.Enqueue(context.Background(), &provider.Event{Payload: mustParsePayload(t, `{"zen":"x"}`)}))
	q.Close()

	runUntilDone(t, l)

	assert.Equal(t, "{\"zen\":\"x\"}\n", w.String())
	assert.Equal(t, 1, w.syncs)
}

func TestEventIsDroppedWhenWritingFailsPermanently(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	w := failingWriter{failWrites: 1_000_000}
	q := eventqueue.New(2)

	l := New(&w, q.C(), WithRetryer(retry.New(
		retry.WithTimeout(200*time.Millisecond),
		retry.WithBackoffInitialInterval(10*time.Millisecond),
	)))

	require.NoError(t, q.Enqueue(context.Background(), &provider.Event{Payload: mustParsePayload(t, `{"zen":"x"}`)}))
	require.NoError(t, q.Enqueue(context.Background(), &provider.Event{Payload: mustParsePayload(t, `{"zen":"y"}`)}))
	q.Close()

	runUntilDone(t, l)

	// both events are dropped, the consumer did not get stuck on the first
	assert.Empty(t, w.String())
	assert.Equal(t, 0, w.syncs)
}

func TestDroppedPartialEventIsTerminatedByLineBreak(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	// the 2 tries of the first event write 1 byte each, then writing
	// succeeds again
	w := failingWriter{failWrites: 2, partial: 1}
	q := eventqueue.New(2)
	l := New(&w, q.C(), WithRetryer(&triesRetryer{tries: 2}))

	enqueueZen(t, q, "x", "y")
	q.Close()

	runUntilDone(t, l)

	assert.Equal(t, "{\"\n{\"zen\":\"y\"}\n", w.String())
}

func TestDroppedPartialEventIsTruncated(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	w := truncatingWriter{failingWriter{failWrites: 2, partial: 1}}
	w.WriteString("{\"existing\":true}\n")

	q := eventqueue.New(2)
	l := New(&w, q.C(), WithRetryer(&triesRetryer{tries: 2}))
	l.size = int64(w.Len())

	enqueueZen(t, q, "x", "y")
	q.Close()

	runUntilDone(t, l)

	assert.Equal(t, "{\"existing\":true}\n{\"zen\":\"y\"}\n", w.String())
}

func TestLineBreakOnlyFragmentIsNotRepeated(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	// event x leaves a fragment, of event y only the preceding line
	// break is written, event z is written completely
	w := failingWriter{failWrites: 2, partial: 1}
	q := eventqueue.New(3)
	l := New(&w, q.C(), WithRetryer(&triesRetryer{tries: 1}))

	enqueueZen(t, q, "x", "y", "z")
	q.Close()

	runUntilDone(t, l)

	assert.Equal(t, "{\n{\"zen\":\"z\"}\n", w.String())
}

func TestCompletelyWrittenEventIsPersistedDespiteWriteError(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	// the write stores all bytes but reports an error
	w := failingWriter{failWrites: 1, partial: 100}
	l := New(&w, nil, WithRetryer(&triesRetryer{tries: 1}))

	err := l.persist(&provider.Event{Payload: mustParsePayload(t, `{"zen":"x"}`)})
	require.NoError(t, err)

	assert.Equal(t, "{\"zen\":\"x\"}\n", w.String())
	assert.Equal(t, 1, w.syncs)
	assert.EqualValues(t, w.Len(), l.size)
	assert.False(t, l.needsLineBreak)
}

func TestWrittenEventIsPersistedWhenSyncFails(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	w := failingWriter{failSyncs: 2}
	l := New(&w, nil, WithRetryer(&triesRetryer{tries: 2}))

	err := l.persist(&provider.Event{Payload: mustParsePayload(t, `{"zen":"x"}`)})
	require.NoError(t, err)

	assert.Equal(t, "{\"zen\":\"x\"}\n", w.String())
	assert.Equal(t, 0, w.syncs)
}

func TestStopRetryingBoundsDrain(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	w := failingWriter{failWrites: 1_000_000}
	q := eventqueue.New(3)

	// without aborting, every event would be retried for minutes
	l := New(&w, q.C(), WithRetryer(retry.New(
		retry.WithTimeout(10*time.Hour),
		retry.WithBackoffInitialInterval(time.Minute),
	)))

	enqueueZen(t, q, "x", "y", "z")
	q.Close()

	l.StopRetrying()
	runUntilDone(t, l)

	assert.Empty(t, w.String())
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
