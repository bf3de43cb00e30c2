package txlifecycle

import (
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
)

// eventBus fans StatusEvents out to subscribers. Delivery is fire-and-forget:
// a subscriber that falls behind loses events, and a failed delivery must
// never fail or block the transaction that produced it.
type eventBus struct {
	mu     sync.RWMutex
	subs   map[int]chan StatusEvent
	nextID int
	closed bool
}

func newEventBus() *eventBus {
	return &eventBus{subs: map[int]chan StatusEvent{}}
}

// subscribe registers a new subscriber with the given buffer size and
// returns the channel plus an unsubscribe function.
func (eb *eventBus) subscribe(buffer int) (<-chan StatusEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan StatusEvent, buffer)

	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		close(ch)
		return ch, func() {}
	}
	id := eb.nextID
	eb.nextID++
	eb.subs[id] = ch

	return ch, func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		if c, ok := eb.subs[id]; ok {
			delete(eb.subs, id)
			close(c)
		}
	}
}

// publish delivers the event to every subscriber without blocking.
func (eb *eventBus) publish(ev StatusEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subs {
		select {
		case ch <- ev:
		default:
			logger.WithFields(logger.Fields{
				"tx_id":  ev.TxID,
				"status": ev.Status,
			}).Debug("Dropping status event for slow subscriber")
		}
	}
}

// close shuts down all subscriber channels.
func (eb *eventBus) close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for id, ch := range eb.subs {
		delete(eb.subs, id)
		close(ch)
	}
}
