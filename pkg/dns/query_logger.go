package dns

import (
	"context"
	"sync"
	"sync/atomic"

	"cnamed/pkg/logging"
	"cnamed/pkg/storage"
)

// QueryLogger feeds answered queries to storage through a fixed worker
// pool, so the request path never spawns a goroutine or blocks on the
// database.
type QueryLogger struct {
	logCh     chan *storage.QueryLog
	workers   int
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	storage   storage.Storage
	logger    *logging.Logger
	dropped   atomic.Uint64
	buffered  atomic.Uint64
	closeOnce sync.Once
}

// NewQueryLogger starts a query logger with the given buffer size and
// worker count.
func NewQueryLogger(stor storage.Storage, logger *logging.Logger, bufferSize, workers int) *QueryLogger {
	ctx, cancel := context.WithCancel(context.Background())

	ql := &QueryLogger{
		logCh:   make(chan *storage.QueryLog, bufferSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		storage: stor,
		logger:  logger,
	}

	for i := 0; i < workers; i++ {
		ql.wg.Add(1)
		go ql.worker(i)
	}

	if logger != nil {
		logger.Info("Query logger started",
			"workers", workers,
			"buffer_size", bufferSize)
	}

	return ql
}

// worker drains log entries from the channel into storage.
func (ql *QueryLogger) worker(id int) {
	defer ql.wg.Done()

	for {
		select {
		case <-ql.ctx.Done():
			ql.drain()
			return

		case entry, ok := <-ql.logCh:
			if !ok {
				return
			}
			ql.buffered.Add(^uint64(0))
			ql.store(ql.ctx, entry, id)
		}
	}
}

// drain processes whatever is left in the channel during shutdown.
func (ql *QueryLogger) drain() {
	for {
		select {
		case entry, ok := <-ql.logCh:
			if !ok {
				return
			}
			ql.buffered.Add(^uint64(0))
			// The logger's own context is canceled by now.
			ql.store(context.Background(), entry, -1)
		default:
			return
		}
	}
}

func (ql *QueryLogger) store(parent context.Context, entry *storage.QueryLog, worker int) {
	logCtx, cancel := context.WithTimeout(parent, storage.DefaultLogTimeout)
	defer cancel()

	if err := ql.storage.LogQuery(logCtx, entry); err != nil && ql.logger != nil {
		ql.logger.Error("Failed to log query",
			"worker", worker,
			"domain", entry.Domain,
			"error", err)
	}
}

// LogAsync queues an entry without blocking. Returns ErrBufferFull when the
// buffer is full; the entry is dropped and counted.
func (ql *QueryLogger) LogAsync(entry *storage.QueryLog) error {
	select {
	case ql.logCh <- entry:
		ql.buffered.Add(1)
		return nil
	default:
		ql.dropped.Add(1)
		if ql.logger != nil {
			ql.logger.Warn("Query log buffer full, dropping entry",
				"domain", entry.Domain,
				"dropped_total", ql.dropped.Load())
		}
		return storage.ErrBufferFull
	}
}

// Close stops the workers after they finish the buffered entries. Safe to
// call more than once.
func (ql *QueryLogger) Close() error {
	ql.closeOnce.Do(func() {
		if ql.logger != nil {
			ql.logger.Info("Shutting down query logger",
				"buffered_entries", ql.buffered.Load(),
				"dropped_total", ql.dropped.Load())
		}

		ql.cancel()
		ql.wg.Wait()
		close(ql.logCh)
	})
	return nil
}

// Stats returns the current buffered and total dropped entry counts.
func (ql *QueryLogger) Stats() (buffered, dropped uint64) {
	return ql.buffered.Load(), ql.dropped.Load()
}
