package xsig

import "sync"

// Dispatcher fans join updates out to subscribers.
//
// Callbacks run inline on the caller's goroutine (the server's read
// loop) so a single subscriber sees updates in wire order. There is no
// ordering guarantee between subscribers. A panicking callback is
// recovered and logged; it never takes the session down.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[uint64]func(Update)
	nextID uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: make(map[uint64]func(Update))}
}

// SetLogger sets an optional logger for callback panic reporting.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

// Subscription is a handle for cancelling a subscriber.
type Subscription struct {
	id   uint64
	d    *Dispatcher
	once sync.Once
}

// Cancel removes the subscriber. Idempotent; safe to call while a
// dispatch is in flight (the in-flight callback may still run once).
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.d.mu.Lock()
		delete(s.d.subs, s.id)
		s.d.mu.Unlock()
	})
}

// Subscribe registers a callback for every join transition.
//
// The callback must not block: it runs on the read path and stalls
// frame processing while it executes.
func (d *Dispatcher) Subscribe(callback func(Update)) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.subs[id] = callback
	return &Subscription{id: id, d: d}
}

// Dispatch delivers an update to every current subscriber.
func (d *Dispatcher) Dispatch(u Update) {
	d.mu.RLock()
	callbacks := make([]func(Update), 0, len(d.subs))
	for _, cb := range d.subs {
		callbacks = append(callbacks, cb)
	}
	d.mu.RUnlock()

	for _, cb := range callbacks {
		d.invoke(cb, u)
	}
}

// invoke runs a single callback with panic recovery.
func (d *Dispatcher) invoke(callback func(Update), u Update) {
	defer func() {
		if r := recover(); r != nil {
			d.loggerMu.RLock()
			logger := d.logger
			d.loggerMu.RUnlock()
			if logger != nil {
				logger.Error("join subscriber panic recovered",
					"kind", u.Kind.String(),
					"join", u.Join,
					"panic", r,
				)
			}
		}
	}()
	callback(u)
}

// SubscriberCount returns the number of active subscribers.
func (d *Dispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}
