package activity

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/logging"
	"github.com/therealutkarshpriyadarshi/poseflow/internal/metrics"
)

type recordingBackend struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	err    error
}

func (b *recordingBackend) Name() string { return "recording" }

func (b *recordingBackend) Publish(ctx context.Context, evt Event) error {
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
	return b.err
}

func (b *recordingBackend) kinds() []Kind {
	b.mu.Lock()
	defer b.mu.Unlock()
	kinds := make([]Kind, 0, len(b.events))
	for _, e := range b.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	backend := &recordingBackend{}
	d := NewDispatcher(16, logging.NewNop(), backend)

	d.Record(Event{Kind: JobSubmitted, JobID: "j1"})
	d.Record(Event{Kind: JobStarted, JobID: "j1"})
	d.Record(Event{Kind: JobCompleted, JobID: "j1"})
	d.Close()

	assert.Equal(t, []Kind{JobSubmitted, JobStarted, JobCompleted}, backend.kinds())
	for _, e := range backend.events {
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestDispatcherNeverBlocks(t *testing.T) {
	backend := &recordingBackend{block: make(chan struct{})}
	d := NewDispatcher(1, logging.NewNop(), backend)

	before := testutil.ToFloat64(metrics.ActivityEventsDropped.WithLabelValues("buffer"))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Record(Event{Kind: AnalysisStarted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a saturated backend")
	}

	after := testutil.ToFloat64(metrics.ActivityEventsDropped.WithLabelValues("buffer"))
	assert.Greater(t, after, before)

	close(backend.block)
	d.Close()
}

func TestDispatcherBackendErrorsAreSwallowed(t *testing.T) {
	failing := &recordingBackend{err: errors.New("broker down")}
	ok := &recordingBackend{}
	d := NewDispatcher(4, logging.NewNop(), failing, ok)

	d.Record(Event{Kind: JobFailed, JobID: "j2"})
	d.Close()

	assert.Len(t, ok.kinds(), 1)
	assert.Len(t, failing.kinds(), 1)
}

func TestRecordAfterClose(t *testing.T) {
	d := NewDispatcher(4, logging.NewNop())
	d.Close()
	d.Close()

	require.NotPanics(t, func() { d.Record(Event{Kind: JobStarted}) })
}

func TestLogBackend(t *testing.T) {
	var buf bytes.Buffer
	b := NewLogBackend(logging.NewWithWriter(&buf, "info"))

	err := b.Publish(context.Background(), Event{
		Kind:      AnalysisCompleted,
		SessionID: "s1",
		Fields:    map[string]interface{}{"frames": 12},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"kind":"analysis.completed"`)
	assert.Contains(t, out, `"session_id":"s1"`)
	assert.Contains(t, out, `"frames":12`)
}
