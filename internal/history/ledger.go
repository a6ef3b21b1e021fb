package history

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/comigor/queryhub-go/internal/metrics"
)

// ExportColumns is the fixed header of an exported history table.
var ExportColumns = []string{"timestamp", "question", "generatedSQL", "status", "durationMs"}

// Sink receives a copy of every recorded entry. Offer must not block.
type Sink interface {
	Offer(Entry)
}

// Ledger is a bounded FIFO of entries in submission order. Once full, the
// oldest entry is evicted for each new one.
//
// A request takes a Ticket when it is submitted and commits its entry when it
// finishes. Committed entries become visible, and reach the sink, only after
// every earlier ticket has committed.
type Ledger struct {
	mu      sync.RWMutex
	buf     []Entry
	start   int
	n       int
	evicted uint64
	sink    Sink

	issued  uint64
	next    uint64
	pending map[uint64]Entry
}

// Ticket is a request's position in submission order.
type Ticket uint64

// NewLedger returns a ledger holding at most capacity entries. sink may be nil.
func NewLedger(capacity int, sink Sink) *Ledger {
	if capacity < 1 {
		capacity = 1
	}
	return &Ledger{buf: make([]Entry, capacity), sink: sink, pending: make(map[uint64]Entry)}
}

// Reserve claims the next position in submission order. Every ticket must be
// committed exactly once, or later entries stay pending.
func (l *Ledger) Reserve() Ticket {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := Ticket(l.issued)
	l.issued++
	return t
}

// Commit stores e at the position of t. It never blocks on I/O.
func (l *Ledger) Commit(t Ticket, e Entry) {
	e.Warnings = append([]string(nil), e.Warnings...)

	l.mu.Lock()
	if _, dup := l.pending[uint64(t)]; dup || uint64(t) < l.next || uint64(t) >= l.issued {
		l.mu.Unlock()
		return
	}
	l.pending[uint64(t)] = e
	evicted := 0
	for {
		ready, ok := l.pending[l.next]
		if !ok {
			break
		}
		delete(l.pending, l.next)
		l.next++
		evicted += l.push(ready)
		if l.sink != nil {
			l.sink.Offer(ready)
		}
	}
	l.mu.Unlock()

	metrics.ObserveHistoryEvictions(evicted)
}

// Record reserves and commits e in one step.
func (l *Ledger) Record(e Entry) {
	l.Commit(l.Reserve(), e)
}

// Pending is the number of committed entries waiting on an earlier ticket.
func (l *Ledger) Pending() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending)
}

func (l *Ledger) push(e Entry) int {
	if l.n == len(l.buf) {
		l.buf[l.start] = e
		l.start = (l.start + 1) % len(l.buf)
		l.evicted++
		return 1
	}
	l.buf[(l.start+l.n)%len(l.buf)] = e
	l.n++
	return 0
}

// Snapshot returns a copy of all retained entries, oldest first.
func (l *Ledger) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, l.n)
	for i := 0; i < l.n; i++ {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}

// Len is the number of retained entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.n
}

// Evicted is the number of entries dropped to respect the capacity.
func (l *Ledger) Evicted() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.evicted
}

// Table flattens a snapshot into the export layout.
func (l *Ledger) Table() (header []string, rows [][]string) {
	entries := l.Snapshot()
	rows = make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.Question,
			e.Statement,
			string(e.Status),
			strconv.FormatInt(e.DurationMs(), 10),
		}
	}
	return append([]string(nil), ExportColumns...), rows
}

// WriteCSV writes the export table to w.
func (l *Ledger) WriteCSV(w io.Writer) error {
	header, rows := l.Table()
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// ExportFileName names an export taken at t.
func ExportFileName(t time.Time) string {
	return t.Format("queries_history_20060102_150405.csv")
}
