package store

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/compresr/thinking-gateway/internal/budget"
	"github.com/compresr/thinking-gateway/internal/config"
	"github.com/compresr/thinking-gateway/internal/detector"
)

// AsyncWriter funnels writes to the store through a bounded queue. Enqueue
// never blocks: when the queue is full the write is dropped and logged.
// Persistence here is advisory; losing a write costs a little learned
// history, blocking a proxy request costs a user-visible stall.
type AsyncWriter struct {
	store *Store
	queue chan func()

	closeOnce sync.Once
	done      chan struct{}
}

// NewAsyncWriter starts the writer goroutine.
func NewAsyncWriter(s *Store) *AsyncWriter {
	w := &AsyncWriter{
		store: s,
		queue: make(chan func(), config.AsyncWriteQueueSize),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for op := range w.queue {
		op()
	}
}

// enqueue submits an operation, dropping it when the queue is full.
func (w *AsyncWriter) enqueue(name string, op func()) {
	select {
	case w.queue <- op:
	default:
		log.Warn().Str("op", name).Msg("persistence queue full, write dropped")
	}
}

// SavePattern implements budget.PatternSink.
func (w *AsyncWriter) SavePattern(p budget.Pattern) {
	w.enqueue("pattern", func() {
		if err := w.store.SavePattern(p); err != nil {
			log.Error().Err(err).Str("hash", p.PromptHash).Msg("failed to persist budget pattern")
		}
	})
}

// SaveEscalation implements detector.RecordSink.
func (w *AsyncWriter) SaveEscalation(rec detector.EscalationRecord) {
	w.enqueue("escalation", func() {
		if err := w.store.SaveEscalation(rec); err != nil {
			log.Error().Err(err).Str("request_id", rec.RequestID).Msg("failed to persist escalation")
		}
	})
}

// Submit queues an arbitrary store operation, for periodic snapshot saves.
func (w *AsyncWriter) Submit(name string, op func(s *Store) error) {
	w.enqueue(name, func() {
		if err := op(w.store); err != nil {
			log.Error().Err(err).Str("op", name).Msg("failed to persist snapshot")
		}
	})
}

// Close drains queued writes and stops the writer. Safe to call twice.
func (w *AsyncWriter) Close() {
	w.closeOnce.Do(func() {
		close(w.queue)
	})
	<-w.done
}
