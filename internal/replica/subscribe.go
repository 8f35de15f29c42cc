package replica

import "sync"

// Subscription is a registered change callback.
type Subscription struct {
	r          *Replica
	collection string
	id         uint64
	once       sync.Once
}

// Subscribe registers fn to run after every committed group (local or merged)
// that touches collection. fn runs on the committing goroutine, outside the
// replica's locks, so it may read the replica.
func (r *Replica) Subscribe(collection string, fn func()) *Subscription {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	r.nextID++
	id := r.nextID
	if r.subs[collection] == nil {
		r.subs[collection] = make(map[uint64]func())
	}
	r.subs[collection][id] = fn
	return &Subscription{r: r, collection: collection, id: id}
}

// Unsubscribe removes the callback. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.r.subMu.Lock()
		defer s.r.subMu.Unlock()
		delete(s.r.subs[s.collection], s.id)
		if len(s.r.subs[s.collection]) == 0 {
			delete(s.r.subs, s.collection)
		}
	})
}

// SubscriberCount returns the number of live subscriptions on collection.
func (r *Replica) SubscriberCount(collection string) int {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	return len(r.subs[collection])
}

func (r *Replica) notify(collections []string) {
	var fns []func()
	r.subMu.Lock()
	for _, c := range collections {
		for _, fn := range r.subs[c] {
			fns = append(fns, fn)
		}
	}
	r.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
