package location

import "sync"

// defaultFeedBuffer controls how many raw updates may queue for a slow subscriber
// before new ones are dropped.
const defaultFeedBuffer = 16

// Feed broadcasts every raw provider update to its subscribers.
// Publishing never blocks: a subscriber whose buffer is full misses the update.
type Feed struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Subscription receives raw updates on C until Close is called.
type Subscription struct {
	C <-chan Position

	ch   chan Position
	feed *Feed
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[*Subscription]struct{})}
}

func (f *Feed) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultFeedBuffer
	}
	ch := make(chan Position, buffer)
	sub := &Subscription{C: ch, ch: ch, feed: f}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return sub
	}
	f.subs[sub] = struct{}{}
	return sub
}

// Publish hands p to every subscriber with room in its buffer and returns how many got it.
func (f *Feed) Publish(p Position) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	delivered := 0
	for sub := range f.subs {
		select {
		case sub.ch <- p:
			delivered++
		default:
		}
	}
	return delivered
}

func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Close closes every subscription; later subscriptions are returned already closed.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for sub := range f.subs {
		delete(f.subs, sub)
		close(sub.ch)
	}
}

// Close detaches the subscription and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	f := s.feed
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[s]; !ok {
		return
	}
	delete(f.subs, s)
	close(s.ch)
}
