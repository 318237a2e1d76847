package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/poolparty/ledger/pkg/metrics"
	"github.com/malbeclabs/poolparty/ledger/pkg/pool"
)

const (
	DefaultFlushInterval = time.Second
	DefaultMaxBatch      = 500
)

var ErrClosed = errors.New("journal buffer is closed")

// Writer persists a batch of events.
type Writer interface {
	Insert(ctx context.Context, events []pool.Event) error
}

type BufferConfig struct {
	Logger        *slog.Logger
	Clock         clockwork.Clock
	Writer        Writer
	FlushInterval time.Duration
	MaxBatch      int
}

func (cfg *BufferConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Writer == nil {
		return errors.New("writer is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	return nil
}

// Buffer queues pool events in memory and writes them in batches, either on
// a timer or once MaxBatch events are waiting. It implements pool.EventSink.
type Buffer struct {
	log *slog.Logger
	cfg BufferConfig

	mu      sync.Mutex
	pending []pool.Event
	closed  bool

	// flushMu keeps batches in order.
	flushMu sync.Mutex
	full    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	started bool
}

func NewBuffer(cfg BufferConfig) (*Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Buffer{
		log:  cfg.Logger,
		cfg:  cfg,
		full: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

// Start runs the flush loop until ctx is done or Close is called.
func (b *Buffer) Start(ctx context.Context) {
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()

	go func() {
		defer close(b.done)
		ticker := b.cfg.Clock.NewTicker(b.cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stop:
				return
			case <-ticker.Chan():
			case <-b.full:
			}
			if err := b.Flush(ctx); err != nil {
				b.log.Error("journal: flush failed", "error", err)
			}
		}
	}()
}

// Record queues events without writing them.
func (b *Buffer) Record(ctx context.Context, events []pool.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.pending = append(b.pending, events...)
	if len(b.pending) >= b.cfg.MaxBatch {
		select {
		case b.full <- struct{}{}:
		default:
		}
	}
	return nil
}

// Pending returns the number of queued events.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush writes everything queued so far. Events that fail to write stay
// queued ahead of anything recorded in the meantime.
func (b *Buffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	for {
		b.mu.Lock()
		n := min(len(b.pending), b.cfg.MaxBatch)
		batch := b.pending[:n:n]
		b.mu.Unlock()
		if n == 0 {
			return nil
		}

		start := b.cfg.Clock.Now()
		err := b.cfg.Writer.Insert(ctx, batch)
		metrics.RecordJournalFlush(n, b.cfg.Clock.Since(start), err)
		if err != nil {
			return fmt.Errorf("failed to flush %d events: %w", n, err)
		}

		b.mu.Lock()
		b.pending = b.pending[n:]
		b.mu.Unlock()
		b.log.Debug("journal: flushed events", "count", n)
	}
}

// Close stops the flush loop and writes whatever is still queued.
func (b *Buffer) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	started := b.started
	b.mu.Unlock()

	if started {
		close(b.stop)
		<-b.done
	}
	return b.Flush(ctx)
}
