package aggregator

import "sync"

// broadcaster fans snapshots out to presentation subscribers. Each
// subscriber has a one-slot channel holding the newest snapshot; a slow
// reader skips intermediate versions but never blocks the merge loop.
type broadcaster struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan DashboardState
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan DashboardState)}
}

func (b *broadcaster) subscribe(initial DashboardState) (<-chan DashboardState, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan DashboardState, 1)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	ch <- initial
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// publish must only be called from the merge loop.
func (b *broadcaster) publish(s DashboardState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
			// drop the stale snapshot, keep the newest
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.closed = true
}

func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
