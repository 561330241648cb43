package popx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultClientTTL     = 24 * time.Hour
	DefaultSweepInterval = time.Minute
)

// Client bundles the per browser objects.
type Client struct {
	ID    string
	Auth  AuthGateway
	Store *SessionStore
	Sync  *Synchronizer

	lastSeen atomic.Int64
	storeSub *StoreSubscription
}

func (c *Client) touch(now time.Time) {
	c.lastSeen.Store(now.UnixNano())
}

// LastSeen returns the time of the last request of the client.
func (c *Client) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *Client) close() {
	c.Sync.Close()
	if c.storeSub != nil {
		c.storeSub.Close()
	}
}

// PurgeFunc removes persisted gateway sessions not written since before.
type PurgeFunc func(ctx context.Context, before time.Time) (int64, error)

// RegistryConfig configures NewClientRegistry.
type RegistryConfig struct {
	Factory       AuthGatewayFactory
	ProfileTable  string
	TTL           time.Duration
	SweepInterval time.Duration
	// Retention is how long persisted sessions survive without activity.
	// Zero disables purging.
	Retention time.Duration
	Purge     PurgeFunc
	Logger    Logger
	Metrics   *Metrics
	Now       func() time.Time
}

// ClientRegistry maps client ids to their Client and evicts idle clients.
type ClientRegistry struct {
	cfg     RegistryConfig
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

func NewClientRegistry(cfg RegistryConfig) *ClientRegistry {
	if cfg.Factory == nil {
		panic("Missing AuthGatewayFactory in client registry...")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultClientTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = defLogger{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ClientRegistry{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		clients: map[string]*Client{},
	}
}

// Acquire returns the client for id, creating and starting it on first use.
func (r *ClientRegistry) Acquire(id string) (*Client, error) {
	now := r.cfg.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrNoClient.Clone().WithMetadata(map[string]any{"reason": "registry closed"})
	}

	if c, ok := r.clients[id]; ok {
		c.touch(now)
		return c, nil
	}

	auth := r.cfg.Factory(id)
	store := NewSessionStore()
	c := &Client{
		ID:    id,
		Auth:  auth,
		Store: store,
		Sync: NewSynchronizer(auth, store, SynchronizerConfig{
			ProfileTable: r.cfg.ProfileTable,
			Logger:       r.cfg.Logger,
			Metrics:      r.cfg.Metrics,
		}),
	}
	c.touch(now)
	c.storeSub = store.Subscribe()
	go r.watch(c.ID, c.storeSub)

	c.Sync.Start(r.ctx)
	r.clients[id] = c
	r.cfg.Metrics.setClients(len(r.clients))
	r.cfg.Logger.Debug("client created", "client_id", id)

	return c, nil
}

// Get returns an existing client without creating one.
func (r *ClientRegistry) Get(id string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	return c, ok
}

func (r *ClientRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Sweep closes clients idle for longer than the TTL and purges stale
// persisted sessions. It returns the number of evicted clients.
func (r *ClientRegistry) Sweep(ctx context.Context) int {
	now := r.cfg.Now()
	cutoff := now.Add(-r.cfg.TTL)

	r.mu.Lock()
	var idle []*Client
	for id, c := range r.clients {
		if c.LastSeen().Before(cutoff) {
			idle = append(idle, c)
			delete(r.clients, id)
		}
	}
	r.cfg.Metrics.setClients(len(r.clients))
	r.mu.Unlock()

	for _, c := range idle {
		c.close()
	}

	if len(idle) > 0 {
		r.cfg.Logger.Info("evicted idle clients", "count", len(idle))
	}

	if r.cfg.Purge != nil && r.cfg.Retention > 0 {
		removed, err := r.cfg.Purge(ctx, now.Add(-r.cfg.Retention))
		if err != nil {
			r.cfg.Logger.Error("failed to purge stored sessions", "error", err)
		} else if removed > 0 {
			r.cfg.Logger.Info("purged stored sessions", "count", removed)
		}
	}

	return len(idle)
}

// Run sweeps on every interval until ctx is done.
func (r *ClientRegistry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Close stops every client. Acquire fails afterwards.
func (r *ClientRegistry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = map[string]*Client{}
	r.cfg.Metrics.setClients(0)
	r.mu.Unlock()

	r.cancel()
	for _, c := range clients {
		c.close()
	}
}

// watch follows the store of a client to keep the authenticated gauge
// current. It ends when the subscription is closed.
func (r *ClientRegistry) watch(id string, sub *StoreSubscription) {
	authenticated := false
	for snap := range sub.C {
		if snap.Authenticated() == authenticated {
			continue
		}
		authenticated = snap.Authenticated()
		if authenticated {
			r.cfg.Metrics.authenticated(1)
		} else {
			r.cfg.Metrics.authenticated(-1)
		}
		r.cfg.Logger.Debug("client session changed", "client_id", id, "session", snap.Session)
	}
	if authenticated {
		r.cfg.Metrics.authenticated(-1)
	}
}
