package history

import (
	"context"
	"sync"
	"time"

	"github.com/comigor/queryhub-go/internal/logger"
)

// Store is the durable side of a Mirror.
type Store interface {
	Append(ctx context.Context, e Entry) error
}

// Mirror copies recorded entries to a Store from a single background writer.
// When the buffer is full the copy is dropped; the ledger still holds it.
type Mirror struct {
	store   Store
	ch      chan Entry
	done    chan struct{}
	once    sync.Once
	timeout time.Duration
}

// NewMirror starts the writer goroutine.
func NewMirror(store Store, buffer int) *Mirror {
	if buffer < 1 {
		buffer = 1
	}
	m := &Mirror{
		store:   store,
		ch:      make(chan Entry, buffer),
		done:    make(chan struct{}),
		timeout: 5 * time.Second,
	}
	go m.run()
	return m
}

// Offer queues e without blocking.
func (m *Mirror) Offer(e Entry) {
	select {
	case m.ch <- e:
	default:
		logger.L.Warn("history mirror buffer full; entry kept in memory only", "request_id", e.ID)
	}
}

func (m *Mirror) run() {
	defer close(m.done)
	for e := range m.ch {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		if err := m.store.Append(ctx, e); err != nil {
			logger.L.Error("failed to mirror history entry", "request_id", e.ID, "error", err)
		}
		cancel()
	}
}

// Close stops accepting entries and waits for queued ones to be written.
// Offer must not be called after Close.
func (m *Mirror) Close() {
	m.once.Do(func() { close(m.ch) })
	<-m.done
}
