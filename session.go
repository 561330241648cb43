package popx

import "sync"

// Snapshot is a consistent view of a SessionStore.
type Snapshot struct {
	Session *Session
	Loading bool
}

// Authenticated reports whether the snapshot holds a session.
func (s Snapshot) Authenticated() bool {
	return s.Session != nil
}

// SessionStore holds the current Session of one client. It starts in the
// loading state, which ends with the first MarkLoaded call.
type SessionStore struct {
	mu      sync.RWMutex
	session *Session
	loading bool
	ready   chan struct{}
	subs    map[uint64]chan Snapshot
	nextID  uint64
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		loading: true,
		ready:   make(chan struct{}),
		subs:    map[uint64]chan Snapshot{},
	}
}

// Current returns the signed in session or nil.
func (s *SessionStore) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *SessionStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *SessionStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Session: s.session, Loading: s.loading}
}

// Ready is closed once the first reconciliation finished.
func (s *SessionStore) Ready() <-chan struct{} {
	return s.ready
}

// Set replaces the current session.
func (s *SessionStore) Set(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	s.notify()
}

// Clear drops the current session.
func (s *SessionStore) Clear() {
	s.Set(nil)
}

// MarkLoaded ends the loading state. Later calls are no-ops.
func (s *SessionStore) MarkLoaded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loading {
		return
	}
	s.loading = false
	close(s.ready)
	s.notify()
}

// StoreSubscription delivers store snapshots on C. Only the latest snapshot
// is kept when the reader falls behind. C is closed by Close.
type StoreSubscription struct {
	C     <-chan Snapshot
	close func()
	once  sync.Once
}

func (s *StoreSubscription) Close() {
	s.once.Do(s.close)
}

// Subscribe registers an observer. The current snapshot is delivered
// immediately.
func (s *SessionStore) Subscribe() *StoreSubscription {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = ch
	ch <- Snapshot{Session: s.session, Loading: s.loading}
	s.mu.Unlock()

	return &StoreSubscription{
		C: ch,
		close: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
		},
	}
}

// notify must be called with s.mu held.
func (s *SessionStore) notify() {
	snap := Snapshot{Session: s.session, Loading: s.loading}
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
