package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/poolparty/ledger/pkg/metrics"
	"github.com/malbeclabs/poolparty/ledger/pkg/pool"
	pptesting "github.com/malbeclabs/poolparty/utils/pkg/testing"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]pool.Event
	fail    error
}

func (w *fakeWriter) Insert(_ context.Context, events []pool.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.batches = append(w.batches, append([]pool.Event(nil), events...))
	return nil
}

func (w *fakeWriter) setFail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fail = err
}

func (w *fakeWriter) seqs() []uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []uint64
	for _, b := range w.batches {
		for _, e := range b {
			out = append(out, e.Seq)
		}
	}
	return out
}

func (w *fakeWriter) batchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batches)
}

func newTestBuffer(t *testing.T, w Writer, clock clockwork.Clock, maxBatch int) *Buffer {
	t.Helper()
	b, err := NewBuffer(BufferConfig{
		Logger:        pptesting.NewLogger(),
		Clock:         clock,
		Writer:        w,
		FlushInterval: time.Second,
		MaxBatch:      maxBatch,
	})
	require.NoError(t, err)
	return b
}

func TestPoolParty_Journal_Buffer(t *testing.T) {
	t.Parallel()

	events := testEvents(addr(0xc0), 5)

	t.Run("config validation", func(t *testing.T) {
		t.Parallel()
		_, err := NewBuffer(BufferConfig{Writer: &fakeWriter{}})
		require.ErrorContains(t, err, "logger is required")
		_, err = NewBuffer(BufferConfig{Logger: pptesting.NewLogger()})
		require.ErrorContains(t, err, "writer is required")

		cfg := BufferConfig{Logger: pptesting.NewLogger(), Writer: &fakeWriter{}}
		require.NoError(t, cfg.Validate())
		require.Equal(t, DefaultFlushInterval, cfg.FlushInterval)
		require.Equal(t, DefaultMaxBatch, cfg.MaxBatch)
	})

	t.Run("record only queues", func(t *testing.T) {
		t.Parallel()
		w := &fakeWriter{}
		b := newTestBuffer(t, w, clockwork.NewFakeClock(), 100)
		require.NoError(t, b.Record(t.Context(), events))
		require.Equal(t, 5, b.Pending())
		require.Zero(t, w.batchCount())
	})

	t.Run("flush splits into batches in order", func(t *testing.T) {
		t.Parallel()
		w := &fakeWriter{}
		b := newTestBuffer(t, w, clockwork.NewFakeClock(), 2)
		require.NoError(t, b.Record(t.Context(), events))
		require.NoError(t, b.Flush(t.Context()))
		require.Equal(t, 3, w.batchCount())
		require.Equal(t, []uint64{1, 2, 3, 4, 5}, w.seqs())
		require.Zero(t, b.Pending())
	})

	t.Run("failed flush keeps events queued", func(t *testing.T) {
		t.Parallel()
		w := &fakeWriter{}
		w.setFail(errors.New("connection refused"))
		b := newTestBuffer(t, w, clockwork.NewFakeClock(), 100)
		require.NoError(t, b.Record(t.Context(), events[:3]))
		require.ErrorContains(t, b.Flush(t.Context()), "connection refused")
		require.Equal(t, 3, b.Pending())

		require.NoError(t, b.Record(t.Context(), events[3:]))
		w.setFail(nil)
		require.NoError(t, b.Flush(t.Context()))
		require.Equal(t, []uint64{1, 2, 3, 4, 5}, w.seqs())
	})

	t.Run("ticker flushes in the background", func(t *testing.T) {
		t.Parallel()
		w := &fakeWriter{}
		clock := clockwork.NewFakeClock()
		b := newTestBuffer(t, w, clock, 100)
		b.Start(t.Context())
		require.NoError(t, clock.BlockUntilContext(t.Context(), 1))

		require.NoError(t, b.Record(t.Context(), events))
		clock.Advance(time.Second)
		require.Eventually(t, func() bool { return len(w.seqs()) == 5 }, 5*time.Second, 10*time.Millisecond)
		require.NoError(t, b.Close(t.Context()))
	})

	t.Run("full batch flushes without waiting for the ticker", func(t *testing.T) {
		t.Parallel()
		w := &fakeWriter{}
		b := newTestBuffer(t, w, clockwork.NewFakeClock(), 3)
		b.Start(t.Context())
		require.NoError(t, b.Record(t.Context(), events))
		require.Eventually(t, func() bool { return len(w.seqs()) == 5 }, 5*time.Second, 10*time.Millisecond)
		require.NoError(t, b.Close(t.Context()))
	})

	t.Run("close drains and rejects further events", func(t *testing.T) {
		t.Parallel()
		w := &fakeWriter{}
		b := newTestBuffer(t, w, clockwork.NewFakeClock(), 100)
		b.Start(t.Context())
		require.NoError(t, b.Record(t.Context(), events))
		require.NoError(t, b.Close(t.Context()))
		require.Equal(t, []uint64{1, 2, 3, 4, 5}, w.seqs())
		require.ErrorIs(t, b.Record(t.Context(), events), ErrClosed)
		require.NoError(t, b.Close(t.Context()))
	})

	t.Run("flush duration follows the injected clock", func(t *testing.T) {
		t.Parallel()
		clock := clockwork.NewFakeClock()
		w := &slowWriter{clock: clock, took: 90 * time.Second}
		b := newTestBuffer(t, w, clock, 10)
		require.NoError(t, b.Record(t.Context(), events))

		before := flushSeconds(t)
		require.NoError(t, b.Flush(t.Context()))
		require.GreaterOrEqual(t, flushSeconds(t)-before, 90.0)
	})
}

// slowWriter advances a fake clock to simulate a slow insert.
type slowWriter struct {
	clock *clockwork.FakeClock
	took  time.Duration
}

func (w *slowWriter) Insert(_ context.Context, _ []pool.Event) error {
	w.clock.Advance(w.took)
	return nil
}

func flushSeconds(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.JournalFlushDuration.Write(&m))
	return m.GetHistogram().GetSampleSum()
}
