package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aevon-lab/tally/internal/core/storage"
)

const (
	storeRecordTimeout = 2 * time.Second

	// DefaultRecordBuffer is how many stats may wait for the writer before
	// new ones are dropped.
	DefaultRecordBuffer = 256
)

// StoreRecorder persists call stats into a storage.StatsStore. Writes happen
// on a background goroutine so a slow store never adds latency to backend
// calls; when the buffer is full the stat is dropped.
type StoreRecorder struct {
	store storage.StatsStore
	// SlowOnly drops calls that were under the slow-query threshold.
	SlowOnly bool

	queue     chan storage.QueryStat
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewStoreRecorder creates a recorder writing into store and starts its
// writer. Call Close to flush pending stats.
func NewStoreRecorder(store storage.StatsStore, slowOnly bool) *StoreRecorder {
	return NewStoreRecorderSize(store, slowOnly, DefaultRecordBuffer)
}

// NewStoreRecorderSize is NewStoreRecorder with an explicit buffer size.
func NewStoreRecorderSize(store storage.StatsStore, slowOnly bool, buffer int) *StoreRecorder {
	if buffer <= 0 {
		buffer = DefaultRecordBuffer
	}
	r := &StoreRecorder{
		store:    store,
		SlowOnly: slowOnly,
		queue:    make(chan storage.QueryStat, buffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.writeLoop()
	return r
}

// RecordQuery queues stat for saving. It never blocks.
func (r *StoreRecorder) RecordQuery(_ context.Context, stat storage.QueryStat) {
	if r.SlowOnly && !stat.Slow {
		return
	}

	select {
	case r.queue <- stat:
	default:
		slog.Warn("[Executor] Query stat buffer full, dropping stat",
			"request_id", stat.ID,
			"collection", stat.Collection,
		)
	}
}

// Close stops the writer after saving every queued stat, or gives up when
// ctx ends first.
func (r *StoreRecorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() { close(r.quit) })
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush query stats: %w", ctx.Err())
	}
}

func (r *StoreRecorder) writeLoop() {
	defer close(r.done)
	for {
		select {
		case stat := <-r.queue:
			r.save(stat)
		case <-r.quit:
			for {
				select {
				case stat := <-r.queue:
					r.save(stat)
				default:
					return
				}
			}
		}
	}
}

func (r *StoreRecorder) save(stat storage.QueryStat) {
	ctx, cancel := context.WithTimeout(context.Background(), storeRecordTimeout)
	defer cancel()

	if err := r.store.SaveQueryStat(ctx, &stat); err != nil {
		slog.Warn("[Executor] Failed to record query stat",
			"request_id", stat.ID,
			"collection", stat.Collection,
			"error", err,
		)
	}
}
