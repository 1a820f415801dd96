package chromectl

import "sync"

// subscriberList keeps snapshot subscribers in registration order.
// Notification happens only from the controller goroutine; registration
// and removal can happen from anywhere, including from inside a callback.
type subscriberList struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriberEntry
}

type subscriberEntry struct {
	id uint64
	fn func(Snapshot)
}

func newSubscriberList() *subscriberList {
	return &subscriberList{}
}

// add registers fn and returns its removal func. Removal is idempotent.
func (l *subscriberList) add(fn func(Snapshot)) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.subs = append(l.subs, subscriberEntry{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, e := range l.subs {
			if e.id == id {
				l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

// notify invokes every subscriber with the snapshot, in registration
// order. The list is copied first so callbacks may subscribe or
// unsubscribe without deadlocking.
func (l *subscriberList) notify(s Snapshot) {
	l.mu.Lock()
	entries := make([]subscriberEntry, len(l.subs))
	copy(entries, l.subs)
	l.mu.Unlock()

	for _, e := range entries {
		e.fn(s)
	}
}

// clear drops every subscriber. Used on destroy.
func (l *subscriberList) clear() {
	l.mu.Lock()
	l.subs = nil
	l.mu.Unlock()
}

func (l *subscriberList) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}
