package viewstate

import "sync"

// Store owns the State of one viewing session. It is safe for concurrent
// use: actions are applied one at a time and subscribers observe the
// resulting states in the same order.
//
// Subscribers run synchronously inside Dispatch and must not call Dispatch
// themselves.
type Store struct {
	mu     sync.Mutex
	state  State
	subs   map[int]func(State)
	nextID int

	// notifyMu serialises subscriber calls so they see states in dispatch order
	notifyMu sync.Mutex
}

// NewStore creates a store holding initial
func NewStore(initial State) *Store {
	return &Store{
		state: initial.clone(),
		subs:  make(map[int]func(State)),
	}
}

// Dispatch applies actions in order as one atomic update and returns the result
func (s *Store) Dispatch(actions ...Action) State {
	s.mu.Lock()
	next := s.state
	for _, action := range actions {
		next = action(next)
	}
	s.state = next
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.notifyMu.Lock()
	s.mu.Unlock()

	defer s.notifyMu.Unlock()
	for _, fn := range subs {
		fn(next.clone())
	}
	return next.clone()
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn for every subsequent state change. The returned
// function removes the subscription and may be called more than once.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}
