package popx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type gatewaySet struct {
	mu       sync.Mutex
	gateways map[string]*fakeGateway
}

func (s *gatewaySet) factory(id string) AuthGateway {
	s.mu.Lock()
	defer s.mu.Unlock()
	gw := newFakeGateway()
	s.gateways[id] = gw
	return gw
}

func (s *gatewaySet) get(id string) *fakeGateway {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gateways[id]
}

func newTestRegistry(t *testing.T, cfg RegistryConfig) (*ClientRegistry, *gatewaySet, *fakeClock) {
	t.Helper()
	set := &gatewaySet{gateways: map[string]*fakeGateway{}}
	clock := &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}

	cfg.Factory = set.factory
	cfg.Logger = nopLogger{}
	cfg.Now = clock.Now

	r := NewClientRegistry(cfg)
	t.Cleanup(r.Close)
	return r, set, clock
}

func TestClientRegistryAcquireReuses(t *testing.T) {
	r, set, _ := newTestRegistry(t, RegistryConfig{})

	a, err := r.Acquire("client-a")
	require.NoError(t, err)
	again, err := r.Acquire("client-a")
	require.NoError(t, err)
	b, err := r.Acquire("client-b")
	require.NoError(t, err)

	assert.Same(t, a, again)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, r.Len())

	ctx, cancel := waitCtx()
	defer cancel()
	require.NoError(t, a.Sync.Wait(ctx))
	assert.False(t, a.Store.Loading())
	assert.Equal(t, 1, set.get("client-a").Listeners())

	got, ok := r.Get("client-b")
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = r.Get("client-c")
	assert.False(t, ok)
}

func TestClientRegistrySweepEvictsIdleClients(t *testing.T) {
	var purgedBefore time.Time
	r, set, clock := newTestRegistry(t, RegistryConfig{
		TTL:       time.Hour,
		Retention: 48 * time.Hour,
		Purge: func(ctx context.Context, before time.Time) (int64, error) {
			purgedBefore = before
			return 3, nil
		},
	})

	_, err := r.Acquire("idle")
	require.NoError(t, err)

	clock.Advance(50 * time.Minute)
	_, err = r.Acquire("active")
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	evicted := r.Sweep(context.Background())

	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, r.Len())
	_, ok := r.Get("idle")
	assert.False(t, ok)
	assert.Equal(t, 0, set.get("idle").Listeners())
	assert.Equal(t, 1, set.get("active").Listeners())
	assert.Equal(t, clock.Now().Add(-48*time.Hour), purgedBefore)
}

func TestClientRegistryCloseRejectsAcquire(t *testing.T) {
	r, set, _ := newTestRegistry(t, RegistryConfig{})

	_, err := r.Acquire("client-a")
	require.NoError(t, err)

	r.Close()
	r.Close()

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, set.get("client-a").Listeners())

	_, err = r.Acquire("client-a")
	require.Error(t, err)

	var richErr *errors.Error
	require.True(t, errors.As(err, &richErr))
	assert.Equal(t, TextCodeNoClient, richErr.TextCode)
}

func TestClientRegistryTracksAuthenticatedClients(t *testing.T) {
	metrics := NewMetrics()
	r, set, _ := newTestRegistry(t, RegistryConfig{Metrics: metrics})

	c, err := r.Acquire("client-a")
	require.NoError(t, err)

	ctx, cancel := waitCtx()
	defer cancel()
	require.NoError(t, c.Sync.Wait(ctx))

	_, err = set.get("client-a").SignInWithPassword(ctx, "marry@example.com", "secret")
	require.NoError(t, err)
	require.NoError(t, c.Sync.Wait(ctx))

	require.Eventually(t, func() bool {
		return metricValue(t, metrics, "popx_authenticated_clients") == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(1), metricValue(t, metrics, "popx_clients"))

	require.NoError(t, c.Auth.SignOut(ctx))
	require.NoError(t, c.Sync.Wait(ctx))

	require.Eventually(t, func() bool {
		return metricValue(t, metrics, "popx_authenticated_clients") == 0
	}, time.Second, 10*time.Millisecond)
}

func TestNewClientRegistryRequiresFactory(t *testing.T) {
	require.Panics(t, func() {
		NewClientRegistry(RegistryConfig{})
	})
}

func metricValue(t *testing.T, m *Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name || len(mf.GetMetric()) == 0 {
			continue
		}
		metric := mf.GetMetric()[0]
		if g := metric.GetGauge(); g != nil {
			return g.GetValue()
		}
		return metric.GetCounter().GetValue()
	}
	return 0
}
