package bus

import (
	"context"
	"sync"
)

const defaultBufferSize = 100

const (
	errorCodeClosed   = "BusClosed"
	errorCodeCanceled = "Canceled"
)

// MemoryBus is an in-process EventBus that fans envelopes out to subscribers.
type MemoryBus struct {
	subscribers      map[uint64]chan Envelope
	nextSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subscribers: make(map[uint64]chan Envelope),
		done:        make(chan struct{}),
	}
}

// PutEvents delivers each entry to every current subscriber. After Close, or
// with a canceled context, every entry is reported as failed.
func (mb *MemoryBus) PutEvents(ctx context.Context, entries []Entry) (PutResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := PutResult{Entries: make([]EntryResult, len(entries))}

	failCode := ""
	select {
	case <-ctx.Done():
		failCode = errorCodeCanceled
	case <-mb.done:
		failCode = errorCodeClosed
	default:
	}

	if failCode != "" {
		for i := range entries {
			result.Entries[i] = EntryResult{ErrorCode: failCode, ErrorMessage: "event bus unavailable"}
		}
		result.FailedCount = len(entries)
		return result, nil
	}

	// Sends are non-blocking, so holding the read lock keeps Close and
	// unsubscribe from closing a channel mid-send.
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	for i, entry := range entries {
		envelope := NewEnvelope(entry)
		for _, ch := range mb.subscribers {
			select {
			case ch <- envelope:
			default:
				// Drop instead of blocking the publisher on slow subscribers.
			}
		}
		result.Entries[i] = EntryResult{EventID: envelope.ID}
	}

	return result, nil
}

// Subscribe registers a buffered envelope stream. The channel closes when the
// returned func is called, ctx ends, or the bus is closed.
func (mb *MemoryBus) Subscribe(ctx context.Context, buffer int) (<-chan Envelope, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Envelope, buffer)

	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := mb.nextSubscriberID
	mb.nextSubscriberID++
	mb.subscribers[id] = ch
	mb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mb.mu.Lock()
			if envelopeCh, ok := mb.subscribers[id]; ok {
				delete(mb.subscribers, id)
				close(envelopeCh)
			}
			mb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-mb.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}

func (mb *MemoryBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, ch := range mb.subscribers {
			close(ch)
			delete(mb.subscribers, id)
		}
		mb.mu.Unlock()
	})
}
