package feed

import (
	"context"
	"sync"
	"sync/atomic"
)

// Publisher is the write side of a feed.
type Publisher[T any] interface {
	Publish(ctx context.Context, item T)
}

// Feed fans committed items out to every subscriber. Publish never blocks:
// a subscriber whose buffer is full misses the item and is counted in Dropped.
// All methods are safe for concurrent use.
type Feed[T any] struct {
	mu          sync.RWMutex
	subscribers map[*Subscription[T]]struct{}
	bufferSize  int
	closed      bool
	dropped     atomic.Uint64
	cleanupWg   sync.WaitGroup
}

// New creates a feed whose subscribers buffer up to bufferSize items (minimum 1).
func New[T any](bufferSize int) *Feed[T] {
	return &Feed[T]{
		subscribers: make(map[*Subscription[T]]struct{}),
		bufferSize:  max(bufferSize, 1),
	}
}

// Subscribe registers a subscriber. It is removed when ctx is cancelled or
// Close is called on it. Subscribing to a closed feed yields a closed subscription.
func (f *Feed[T]) Subscribe(ctx context.Context) *Subscription[T] {
	sub := &Subscription[T]{ch: make(chan T, f.bufferSize), stop: make(chan struct{})}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		sub.close()
		return sub
	}

	f.subscribers[sub] = struct{}{}
	sub.unsubscribe = func() { f.remove(sub) }

	if ctx.Done() != nil {
		f.cleanupWg.Add(1)
		go func() {
			defer f.cleanupWg.Done()
			select {
			case <-ctx.Done():
				f.remove(sub)
			case <-sub.stop:
			}
		}()
	}

	return sub
}

// Publish delivers item to every subscriber that has buffer space.
func (f *Feed[T]) Publish(_ context.Context, item T) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return
	}

	for sub := range f.subscribers {
		if !sub.send(item) {
			f.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (f *Feed[T]) Dropped() uint64 {
	return f.dropped.Load()
}

// Close closes every subscription. Safe to call more than once.
func (f *Feed[T]) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	for sub := range f.subscribers {
		sub.close()
	}
	clear(f.subscribers)
	f.mu.Unlock()

	f.cleanupWg.Wait()
	return nil
}

func (f *Feed[T]) remove(sub *Subscription[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.subscribers, sub)
	sub.close()
}

// Subscription is the read side handed out by Subscribe.
type Subscription[T any] struct {
	mu          sync.RWMutex
	ch          chan T
	closed      bool
	stop        chan struct{}
	unsubscribe func()
}

// C returns the channel items arrive on. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription[T]) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
		return nil
	}
	s.close()
	return nil
}

func (s *Subscription[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	close(s.stop)
}

func (s *Subscription[T]) send(item T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- item:
		return true
	default:
		return false
	}
}
