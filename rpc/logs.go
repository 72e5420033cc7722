package rpc

import (
	"sync"
	"time"

	"github.com/windlass-dev/windlass"
)

// logBroker fans a LogEntry stream out to every subscriber currently
// attached to the façade's logs subscription (one chi handler goroutine
// per HTTP client). When a subscriber's buffer is full the entry is dropped
// for that subscriber rather than blocking execution, since log delivery is
// best-effort; the subscriber itself stays attached until it unsubscribes.
type logBroker struct {
	mu   sync.Mutex
	subs map[chan windlass.LogEntry]struct{}
}

func newLogBroker() *logBroker {
	return &logBroker{subs: make(map[chan windlass.LogEntry]struct{})}
}

func (b *logBroker) subscribe() chan windlass.LogEntry {
	ch := make(chan windlass.LogEntry, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *logBroker) unsubscribe(ch chan windlass.LogEntry) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}

func (b *logBroker) publish(e windlass.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is behind; drop the entry rather than block the run.
		}
	}
}

// publishLog pushes a LogEntry to every logs subscriber, stamping
// Timestamp if the caller left it zero.
func (f *Facade) publishLog(e windlass.LogEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	f.broker.publish(e)
}

// Subscribe registers a new logs listener and returns the channel plus an
// unsubscribe func the caller must invoke once done draining it.
func (f *Facade) Subscribe() (<-chan windlass.LogEntry, func()) {
	ch := f.broker.subscribe()
	return ch, func() { f.broker.unsubscribe(ch) }
}
