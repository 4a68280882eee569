// Package notify fans auth state changes out to provider subscribers.
//
// Deliveries happen in order on a dedicated goroutine, never inside the call
// that caused them, so listeners may call back into the provider.
package notify

import (
	"sync"

	"github.com/panyam/realtyauth/client"
)

// Registry holds the listeners of one provider
type Registry struct {
	mu        sync.Mutex
	listeners map[int]func(client.Account)
	nextID    int

	qmu   sync.Mutex
	queue []func()
	kick  chan struct{}
	stop  chan struct{}
	once  sync.Once
}

// New creates a registry and starts its delivery goroutine
func New() *Registry {
	r := &Registry{
		listeners: make(map[int]func(client.Account)),
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	go r.run()
	return r
}

// Subscribe registers listener and schedules delivery of current to it alone
func (r *Registry) Subscribe(listener func(client.Account), current client.Account) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = listener
	r.mu.Unlock()

	r.push(func() {
		if r.subscribed(id) {
			listener(current)
		}
	})

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Notify schedules delivery of acct (nil for signed out) to every listener
// subscribed right now
func (r *Registry) Notify(acct client.Account) {
	r.mu.Lock()
	ids := make([]int, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	r.push(func() {
		for _, id := range ids {
			r.mu.Lock()
			l, ok := r.listeners[id]
			r.mu.Unlock()
			if ok {
				l(acct)
			}
		}
	})
}

// Len returns the number of subscribed listeners
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// Close stops delivery. Pending notifications are dropped.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.stop) })
}

func (r *Registry) subscribed(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.listeners[id]
	return ok
}

func (r *Registry) push(fn func()) {
	r.qmu.Lock()
	r.queue = append(r.queue, fn)
	r.qmu.Unlock()
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

func (r *Registry) run() {
	for {
		select {
		case <-r.stop:
			return
		case <-r.kick:
			r.qmu.Lock()
			q := r.queue
			r.queue = nil
			r.qmu.Unlock()
			for _, fn := range q {
				fn()
			}
		}
	}
}
