package popx

import (
	"context"
	"sync"
	"time"

	"github.com/popxhq/popx/gateway"
)

// DefaultProfileTable is the gateway table holding user profile rows.
const DefaultProfileTable = "User"

// syncJob is a pending reconciliation. Initial jobs fetch the session from
// the gateway, event jobs carry the session of the notification.
type syncJob struct {
	seq     uint64
	initial bool
	event   gateway.AuthChangeEvent
	session *gateway.Session
}

func (j *syncJob) trigger() string {
	if j.initial {
		return "start"
	}
	return string(j.event)
}

// SynchronizerConfig configures NewSynchronizer.
type SynchronizerConfig struct {
	ProfileTable string
	Logger       Logger
	Metrics      *Metrics
}

// Synchronizer keeps a SessionStore consistent with the gateway auth state.
// Notifications are handled by a single worker goroutine; notifications that
// arrive while a reconciliation is running coalesce into the latest one.
type Synchronizer struct {
	auth    AuthGateway
	store   *SessionStore
	table   string
	logger  Logger
	metrics *Metrics

	mu        sync.Mutex
	pending   *syncJob
	enqueued  uint64
	processed uint64
	changed   chan struct{}
	closed    bool

	wake      chan struct{}
	sub       *gateway.Subscription
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

func NewSynchronizer(auth AuthGateway, store *SessionStore, cfg SynchronizerConfig) *Synchronizer {
	if cfg.ProfileTable == "" {
		cfg.ProfileTable = DefaultProfileTable
	}
	if cfg.Logger == nil {
		cfg.Logger = defLogger{}
	}
	return &Synchronizer{
		auth:    auth,
		store:   store,
		table:   cfg.ProfileTable,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		changed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start subscribes to gateway notifications and schedules the initial
// reconciliation. The worker stops when ctx is done or Close is called.
func (s *Synchronizer) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.sub = s.auth.OnAuthStateChange(s.onAuthStateChange)
		s.enqueue(&syncJob{initial: true})
		go s.run(ctx)
	})
}

// Close unsubscribes from the gateway and stops the worker. Callers blocked
// in Wait are released.
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() {
		s.sub.Unsubscribe()

		started := s.cancel != nil
		if started {
			s.cancel()
		}

		s.mu.Lock()
		s.closed = true
		s.pending = nil
		s.broadcast()
		s.mu.Unlock()

		if started {
			<-s.done
		}
	})
}

// Wait blocks until every notification received before the call has been
// reconciled, ctx is done, or the synchronizer is closed.
func (s *Synchronizer) Wait(ctx context.Context) error {
	s.mu.Lock()
	target := s.enqueued
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if s.processed >= target || s.closed {
			s.mu.Unlock()
			return nil
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (s *Synchronizer) onAuthStateChange(event gateway.AuthChangeEvent, session *gateway.Session) {
	s.logger.Debug("auth state changed", "event", event, "has_session", session != nil)
	s.enqueue(&syncJob{event: event, session: session})
}

func (s *Synchronizer) enqueue(job *syncJob) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.enqueued++
	job.seq = s.enqueued
	s.pending = job
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) take() *syncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.pending
	s.pending = nil
	return job
}

func (s *Synchronizer) finish(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.processed {
		s.processed = seq
	}
	s.broadcast()
}

// broadcast must be called with s.mu held.
func (s *Synchronizer) broadcast() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Synchronizer) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}

		for job := s.take(); job != nil; job = s.take() {
			s.reconcile(ctx, job)
			s.finish(job.seq)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (s *Synchronizer) reconcile(ctx context.Context, job *syncJob) {
	start := time.Now()
	defer s.store.MarkLoaded()

	session, err := s.resolve(ctx, job)
	switch {
	case err != nil:
		s.logger.Warn("session reconcile failed, treating client as signed out",
			"trigger", job.trigger(),
			"error", err,
		)
		s.store.Clear()
		s.metrics.observeReconcile(job.trigger(), "error", time.Since(start))
	case session == nil:
		s.store.Clear()
		s.metrics.observeReconcile(job.trigger(), "signed_out", time.Since(start))
	default:
		s.store.Set(session)
		s.metrics.observeReconcile(job.trigger(), "signed_in", time.Since(start))
	}
}

func (s *Synchronizer) resolve(ctx context.Context, job *syncJob) (*Session, error) {
	current := job.session
	if job.initial {
		var err error
		if current, err = s.auth.GetSession(ctx); err != nil {
			return nil, err
		}
	}

	if current == nil {
		return nil, nil
	}

	user := current.User
	if job.initial || user == nil {
		var err error
		if user, err = s.auth.GetUser(ctx); err != nil {
			return nil, err
		}
	}

	profile := map[string]any{}
	if err := s.auth.QueryByPK(ctx, s.table, user.ID, &profile); err != nil {
		if !gateway.IsNotFound(err) {
			return nil, err
		}
		s.logger.Debug("no profile row, using identity metadata", "user_id", user.ID)
		profile = nil
	}

	return NewSession(user, profile)
}
