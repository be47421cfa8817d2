package client

import (
	"sync"
	"time"
)

// DefaultDedupeWindow is how long an identical message is ignored after
// being sent.
const DefaultDedupeWindow = 800 * time.Millisecond

// ActionLock allows a single confirm or cancel in flight.
type ActionLock struct {
	mu   sync.Mutex
	held bool
	key  string
}

// TryAcquire takes the lock for key. When ok is false the lock is held by
// another action and nothing should be sent. The returned release is safe to
// call more than once.
func (l *ActionLock) TryAcquire(key string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return func() {}, false
	}
	l.held = true
	l.key = key

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.held = false
			l.key = ""
			l.mu.Unlock()
		})
	}, true
}

// Holder reports the key currently holding the lock.
func (l *ActionLock) Holder() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.key, l.held
}

// Sequencer numbers outgoing chat turns so only the newest response is
// applied.
type Sequencer struct {
	mu     sync.Mutex
	latest uint64
}

func (s *Sequencer) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest++
	return s.latest
}

func (s *Sequencer) IsLatest(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return seq == s.latest
}

// CancelQueue holds back messages while a cancel is outstanding. At most one
// message is kept; a newer one replaces it.
type CancelQueue struct {
	mu       sync.Mutex
	inFlight bool
	queued   *string
}

// Begin marks a cancel as in flight.
func (q *CancelQueue) Begin() {
	q.mu.Lock()
	q.inFlight = true
	q.mu.Unlock()
}

// Offer queues msg if a cancel is in flight and reports whether it did.
func (q *CancelQueue) Offer(msg string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.inFlight {
		return false
	}
	q.queued = &msg
	return true
}

// Settle ends the cancel and hands back the queued message, if any.
func (q *CancelQueue) Settle() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inFlight = false
	if q.queued == nil {
		return "", false
	}
	msg := *q.queued
	q.queued = nil
	return msg, true
}

// ReplayLock lets a cancel-then-replay payload fire once.
type ReplayLock struct {
	mu       sync.Mutex
	fired    map[string]bool
	inFlight map[string]bool
}

// Begin claims payload for a replay. ok is false when the payload already
// fired or another replay of it is running. finish(true) marks it fired;
// finish(false) releases the claim so a later retry can run.
func (r *ReplayLock) Begin(payload string) (finish func(fired bool), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fired == nil {
		r.fired = map[string]bool{}
		r.inFlight = map[string]bool{}
	}
	if r.fired[payload] || r.inFlight[payload] {
		return func(bool) {}, false
	}
	r.inFlight[payload] = true

	var once sync.Once
	return func(fired bool) {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.inFlight, payload)
			if fired {
				r.fired[payload] = true
			}
		})
	}, true
}

// SendDedupe drops an identical message sent within Window of the last one or
// while that one is still in flight.
type SendDedupe struct {
	Window time.Duration
	Now    func() time.Time

	mu       sync.Mutex
	last     string
	sentAt   time.Time
	inFlight bool
}

// Begin registers msg as sent. When ok is false the message is a duplicate.
// done marks the send as finished.
func (d *SendDedupe) Begin(msg string) (done func(), ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	window := d.Window
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	if msg == d.last && (d.inFlight || now.Sub(d.sentAt) < window) {
		return func() {}, false
	}
	d.last = msg
	d.sentAt = now
	d.inFlight = true

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.last == msg {
				d.inFlight = false
			}
			d.mu.Unlock()
		})
	}, true
}

func (d *SendDedupe) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
