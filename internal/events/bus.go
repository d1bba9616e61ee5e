package events

import "sync"

// Bus provides simple in-process pub/sub for observability. It also keeps
// the last few published events for status pages.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan any
	recent []any
	keep   int
}

func NewBus(keep int) *Bus {
	if keep <= 0 {
		keep = 50
	}
	return &Bus{keep: keep}
}

func (b *Bus) Subscribe() <-chan any {
	ch := make(chan any, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, ch)
	return ch
}

// Publish never blocks; slow subscribers miss events.
func (b *Bus) Publish(ev any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recent = append(b.recent, ev)
	if len(b.recent) > b.keep {
		b.recent = b.recent[len(b.recent)-b.keep:]
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Recent returns retained events, newest first.
func (b *Bus) Recent() []any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]any, len(b.recent))
	for i, ev := range b.recent {
		out[len(b.recent)-1-i] = ev
	}
	return out
}
