// Package buffer coalesces bursts of items per key and dispatches each burst
// once the key has been quiet for a fixed delay.
package buffer

import (
	"log/slog"
	"sync"
	"time"
)

// DispatchFunc receives every item buffered for key, in arrival order.
type DispatchFunc[T any] func(key string, items []T)

type pending[T any] struct {
	items []T
	timer *time.Timer
	gen   uint64
}

// keyLock serializes dispatches of one key so a burst that starts while the
// previous one is still dispatching is handled after it.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

type flush[T any] struct {
	key   string
	lock  *keyLock
	items []T
}

type Buffer[T any] struct {
	delay    time.Duration
	dispatch DispatchFunc[T]

	mu      sync.Mutex
	pending map[string]*pending[T]
	locks   map[string]*keyLock
	gen     uint64
	closed  bool
	wg      sync.WaitGroup
}

func New[T any](delay time.Duration, dispatch DispatchFunc[T]) *Buffer[T] {
	return &Buffer[T]{
		delay:    delay,
		dispatch: dispatch,
		pending:  make(map[string]*pending[T]),
		locks:    make(map[string]*keyLock),
	}
}

// Ingest appends item to key's burst and restarts key's quiet timer.
// After Close the item is dispatched immediately on the caller's goroutine.
func (b *Buffer[T]) Ingest(key string, item T) {
	b.mu.Lock()
	if b.closed {
		lock := b.acquire(key)
		b.mu.Unlock()
		b.run(key, lock, []T{item})
		return
	}

	p, ok := b.pending[key]
	if !ok {
		p = &pending[T]{}
		b.pending[key] = p
	} else {
		p.timer.Stop()
	}
	b.gen++
	gen := b.gen
	p.gen = gen
	p.items = append(p.items, item)
	p.timer = time.AfterFunc(b.delay, func() { b.fire(key, gen) })
	b.mu.Unlock()
}

// Len reports how many keys have a burst waiting for its timer.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close stops every timer, dispatches the waiting bursts synchronously and
// waits for in-flight dispatches to return.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	b.closed = true
	flushes := make([]flush[T], 0, len(b.pending))
	for key, p := range b.pending {
		p.timer.Stop()
		flushes = append(flushes, flush[T]{key: key, lock: b.acquire(key), items: p.items})
		delete(b.pending, key)
	}
	b.mu.Unlock()

	slog.Info("flushing message buffer", "pending", len(flushes))
	for _, f := range flushes {
		b.run(f.key, f.lock, f.items)
	}
	b.wg.Wait()
}

func (b *Buffer[T]) fire(key string, gen uint64) {
	b.mu.Lock()
	p, ok := b.pending[key]
	if !ok || p.gen != gen {
		// superseded by a later Ingest or drained by Close
		b.mu.Unlock()
		return
	}
	delete(b.pending, key)
	lock := b.acquire(key)
	b.wg.Add(1)
	b.mu.Unlock()

	defer b.wg.Done()
	b.run(key, lock, p.items)
}

// acquire must be called with b.mu held.
func (b *Buffer[T]) acquire(key string) *keyLock {
	l, ok := b.locks[key]
	if !ok {
		l = &keyLock{}
		b.locks[key] = l
	}
	l.refs++
	return l
}

func (b *Buffer[T]) run(key string, l *keyLock, items []T) {
	l.mu.Lock()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("buffer dispatch panicked", "key", key, "panic", r)
		}
		l.mu.Unlock()
		b.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(b.locks, key)
		}
		b.mu.Unlock()
	}()
	b.dispatch(key, items)
}
