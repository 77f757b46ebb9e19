package executor

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// bus fans executor events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

func newBus() *bus {
	return &bus{subs: make(map[int]chan Event)}
}

func (b *bus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

func (b *bus) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Debug().
				Int("subscriber", id).
				Str("sessionId", ev.SessionID).
				Msg("Event subscriber lagging, dropping event")
		}
	}
}
