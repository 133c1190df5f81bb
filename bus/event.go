package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-ebus/ebus"
)

// EventType distinguishes the events published by a Bus.
type EventType uint8

const (
	// EventResult carries a non-None outcome of the driver.
	EventResult EventType = iota
	// EventTelegram carries a master telegram framed on the bus, whoever
	// sent or received it.
	EventTelegram
)

// String implements fmt.Stringer.
func (t EventType) String() string {
	switch t {
	case EventResult:
		return "result"
	case EventTelegram:
		return "telegram"
	default:
		return "unknown"
	}
}

// Event is published to subscribers for every driver outcome and every
// framed telegram.
type Event struct {
	Type EventType
	Time time.Time
	// Result is set for EventResult.
	Result ebus.ProcessResult
	// Telegram and CrcOK are set for EventTelegram.
	Telegram ebus.Telegram
	CrcOK    bool
}

// eventHub fans events out to subscribers without blocking the publisher.
type eventHub struct {
	// mu keeps channels from being closed while publish sends to them.
	mu      sync.RWMutex
	subs    *xsync.MapOf[uint64, chan Event]
	nextID  atomic.Uint64
	metrics *Metrics
}

func newEventHub(metrics *Metrics) *eventHub {
	return &eventHub{
		subs:    xsync.NewMapOf[uint64, chan Event](),
		metrics: metrics,
	}
}

func (h *eventHub) subscribe(size int) (<-chan Event, func()) {
	id := h.nextID.Add(1)
	ch := make(chan Event, size)
	h.subs.Store(id, ch)

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if ch, ok := h.subs.LoadAndDelete(id); ok {
			close(ch)
		}
	}
}

// publish delivers ev to every subscriber with free capacity.
func (h *eventHub) publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.subs.Range(func(_ uint64, ch chan Event) bool {
		select {
		case ch <- ev:
		default:
			h.metrics.incEventDropCount()
		}

		return true
	})
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.subs.Range(func(id uint64, _ chan Event) bool {
		if ch, ok := h.subs.LoadAndDelete(id); ok {
			close(ch)
		}

		return true
	})
}
