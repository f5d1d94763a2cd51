package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zakisheriff/One-Deploy/internal/domain"
	"github.com/zakisheriff/One-Deploy/internal/provider/vercel"
	"github.com/zakisheriff/One-Deploy/internal/repository/repotest"
)

type scriptedProvider struct {
	mu      sync.Mutex
	results []vercel.DeploymentResult
	calls   int
}

func (p *scriptedProvider) GetDeployment(context.Context, string) (vercel.DeploymentResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	if idx >= len(p.results) {
		idx = len(p.results) - 1
	}
	p.calls++
	return p.results[idx], nil
}

func states(host string, readyStates ...string) []vercel.DeploymentResult {
	out := make([]vercel.DeploymentResult, 0, len(readyStates))
	for _, s := range readyStates {
		out = append(out, vercel.DeploymentResult{Deployment: &vercel.Deployment{ID: "dep_1", URL: host, ReadyState: s}})
	}
	return out
}

type capturedLogs struct {
	mu       sync.Mutex
	messages []string
}

func (c *capturedLogs) Emit(_ context.Context, _, _, _, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store    *repotest.Store
	provider *scriptedProvider
	logs     *capturedLogs
	rec      Reconciler
	owner    string
}

func newFixture(t *testing.T, status domain.DeploymentStatus, results []vercel.DeploymentResult) *fixture {
	t.Helper()
	ctx := context.Background()
	store := repotest.New()
	now := time.Now().UTC()
	project := &domain.Project{ID: "proj-1", Name: "my-site", UserID: "user-1", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateProject(ctx, project))
	require.NoError(t, store.CreateDeployment(ctx, &domain.Deployment{
		ID:        "local-1",
		VercelID:  "dep_1",
		Status:    status,
		ProjectID: project.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	f := &fixture{store: store, provider: &scriptedProvider{results: results}, logs: &capturedLogs{}, owner: "user-1"}
	f.rec = New(store, store, f.provider, f.logs, discardLogger())
	return f
}

func TestMapReadyState(t *testing.T) {
	cases := map[string]domain.DeploymentStatus{
		"QUEUED":       domain.StatusQueued,
		"INITIALIZING": domain.StatusQueued,
		"BUILDING":     domain.StatusBuilding,
		"READY":        domain.StatusReady,
		"ERROR":        domain.StatusError,
		"CANCELED":     domain.StatusCanceled,
		"ANALYZING":    domain.StatusBuilding,
		"":             domain.StatusBuilding,
	}
	for state, want := range cases {
		assert.Equal(t, want, MapReadyState(state), "state %q", state)
	}
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://my-site.provider.app", NormalizeURL("my-site.provider.app"))
	assert.Equal(t, "http://localhost:3000", NormalizeURL("http://localhost:3000"))
	assert.Equal(t, "", NormalizeURL(" "))
}

func TestTickSequenceWritesOnlyOnChange(t *testing.T) {
	f := newFixture(t, domain.StatusQueued, states("my-site-xyz.provider.app", "QUEUED", "BUILDING", "BUILDING", "READY"))
	ctx := context.Background()

	var last Observation
	for i := 0; i < 4; i++ {
		obs, err := f.rec.Tick(ctx, "dep_1")
		require.NoError(t, err)
		last = obs
	}

	assert.True(t, last.Terminal)
	assert.Equal(t, domain.StatusReady, last.Status)
	assert.Equal(t, "https://my-site-xyz.provider.app", last.URL)
	assert.Equal(t, 2, f.store.StatusWrites)

	deployments := f.store.Deployments()
	require.Len(t, deployments, 1)
	assert.Equal(t, domain.StatusReady, deployments[0].Status)
	assert.Equal(t, "https://my-site-xyz.provider.app", deployments[0].URL)
	assert.Equal(t, []string{"Building...", "Your site is live at: https://my-site-xyz.provider.app"}, f.logs.messages)
}

func TestTickSkipsTerminalRows(t *testing.T) {
	f := newFixture(t, domain.StatusReady, states("x", "BUILDING"))

	obs, err := f.rec.Tick(context.Background(), "dep_1")
	require.NoError(t, err)
	assert.True(t, obs.Terminal)
	assert.Equal(t, domain.StatusReady, obs.Status)
	assert.Zero(t, f.provider.calls)
	assert.Zero(t, f.store.StatusWrites)
}

func TestTickProviderFailurePersistsError(t *testing.T) {
	f := newFixture(t, domain.StatusQueued, []vercel.DeploymentResult{{
		Failure: &vercel.ProviderError{Status: 404, Message: "Deployment not found"},
	}})

	obs, err := f.rec.Tick(context.Background(), "dep_1")
	require.NoError(t, err)
	assert.True(t, obs.Terminal)
	assert.True(t, obs.Changed)
	assert.Equal(t, "Deployment not found", obs.Failure)
	assert.Equal(t, domain.StatusError, obs.Status)
	assert.Equal(t, 1, f.store.StatusWrites)
	assert.Equal(t, domain.StatusError, f.store.Deployments()[0].Status)
	assert.Equal(t, []string{"Deployment failed: Deployment not found"}, f.logs.messages)

	_, err = f.rec.Tick(context.Background(), "dep_1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.provider.calls)
}

func TestTickBuildingDoesNotRegressToQueued(t *testing.T) {
	f := newFixture(t, domain.StatusBuilding, states("x", "INITIALIZING", "QUEUED"))

	for i := 0; i < 2; i++ {
		obs, err := f.rec.Tick(context.Background(), "dep_1")
		require.NoError(t, err)
		assert.False(t, obs.Changed)
		assert.False(t, obs.Terminal)
		assert.Equal(t, domain.StatusBuilding, obs.Status)
	}
	assert.Zero(t, f.store.StatusWrites)
	assert.Equal(t, domain.StatusBuilding, f.store.Deployments()[0].Status)
}

func TestTickErrorStatePersistsTerminal(t *testing.T) {
	f := newFixture(t, domain.StatusBuilding, states("x", "ERROR"))

	obs, err := f.rec.Tick(context.Background(), "dep_1")
	require.NoError(t, err)
	assert.True(t, obs.Terminal)
	assert.Equal(t, domain.StatusError, f.store.Deployments()[0].Status)
	assert.Empty(t, f.store.Deployments()[0].URL)
}

func TestTickUnknownDeployment(t *testing.T) {
	f := newFixture(t, domain.StatusQueued, states("x", "READY"))

	_, err := f.rec.Tick(context.Background(), "dep_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.rec.Tick(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestObserveRequiresOwnership(t *testing.T) {
	f := newFixture(t, domain.StatusQueued, states("x", "BUILDING"))

	_, err := f.rec.Observe(context.Background(), "intruder", "dep_1")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	obs, err := f.rec.Observe(context.Background(), f.owner, "dep_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBuilding, obs.Status)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, domain.StatusQueued, states("x", "READY"))
	ctx := context.Background()

	_, err := f.rec.UpdateStatus(ctx, f.owner, "dep_1", "DONE", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.rec.UpdateStatus(ctx, "intruder", "dep_1", "READY", "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	dep, err := f.rec.UpdateStatus(ctx, f.owner, "dep_1", "ready", "https://my-site.provider.app")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, dep.Status)
	assert.Equal(t, "https://my-site.provider.app", f.store.Deployments()[0].URL)
}

func TestPollerConvergesToTerminal(t *testing.T) {
	f := newFixture(t, domain.StatusQueued, states("my-site.provider.app", "QUEUED", "BUILDING", "BUILDING", "READY"))
	poller := NewPoller(f.rec, discardLogger(), WithInterval(time.Millisecond))

	var seen []domain.DeploymentStatus
	obs, err := poller.Run(context.Background(), "dep_1", func(o Observation) { seen = append(seen, o.Status) })
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, obs.Status)
	assert.Equal(t, []domain.DeploymentStatus{domain.StatusQueued, domain.StatusBuilding, domain.StatusBuilding, domain.StatusReady}, seen)
	assert.Equal(t, 2, f.store.StatusWrites)
}

func TestPollerStopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	ticker := TickerFunc(func(context.Context, string) (Observation, error) {
		calls++
		return Observation{Status: domain.StatusBuilding}, nil
	})
	poller := NewPoller(ticker, discardLogger(), WithInterval(time.Millisecond), WithMaxAttempts(3))

	_, err := poller.Run(context.Background(), "dep_1", nil)
	assert.ErrorIs(t, err, ErrPollExhausted)
	assert.Equal(t, 3, calls)
}

func TestPollerRetriesUpstreamOutages(t *testing.T) {
	calls := 0
	ticker := TickerFunc(func(context.Context, string) (Observation, error) {
		calls++
		if calls == 1 {
			return Observation{}, fmt.Errorf("%w: connection refused", domain.ErrUpstreamUnavailable)
		}
		return Observation{Status: domain.StatusReady, Terminal: true}, nil
	})
	poller := NewPoller(ticker, discardLogger(), WithInterval(time.Millisecond))

	obs, err := poller.Run(context.Background(), "dep_1", nil)
	require.NoError(t, err)
	assert.True(t, obs.Terminal)
	assert.Equal(t, 2, calls)
}

func TestPollerStopsOnOtherErrors(t *testing.T) {
	ticker := TickerFunc(func(context.Context, string) (Observation, error) {
		return Observation{}, domain.ErrNotFound
	})
	poller := NewPoller(ticker, discardLogger(), WithInterval(time.Millisecond))

	_, err := poller.Run(context.Background(), "dep_1", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPollerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ticker := TickerFunc(func(context.Context, string) (Observation, error) {
		cancel()
		return Observation{Status: domain.StatusBuilding}, nil
	})
	poller := NewPoller(ticker, discardLogger(), WithInterval(time.Hour))

	_, err := poller.Run(ctx, "dep_1", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweeperTicksStaleDeployments(t *testing.T) {
	f := newFixture(t, domain.StatusQueued, states("my-site.provider.app", "READY"))
	old := time.Now().UTC().Add(-time.Hour)
	f.store.PutDeployment(domain.Deployment{ID: "local-1", VercelID: "dep_1", Status: domain.StatusQueued, ProjectID: "proj-1", CreatedAt: old, UpdatedAt: old})
	f.store.PutDeployment(domain.Deployment{ID: "local-2", VercelID: "", Status: domain.StatusBuilding, ProjectID: "proj-1", CreatedAt: old, UpdatedAt: old})

	sweeper := NewSweeper(f.store, f.rec, discardLogger(), "@every 1m", time.Minute)
	require.NotNil(t, sweeper)

	ticked := sweeper.runIteration(context.Background())
	assert.Equal(t, 1, ticked)
	for _, d := range f.store.Deployments() {
		if d.ID == "local-1" {
			assert.Equal(t, domain.StatusReady, d.Status)
		}
	}
}

func TestSweeperDropsProviderFailuresAfterOneRun(t *testing.T) {
	f := newFixture(t, domain.StatusBuilding, []vercel.DeploymentResult{{
		Failure: &vercel.ProviderError{Status: 404, Message: "Deployment not found"},
	}})
	old := time.Now().UTC().Add(-time.Hour)
	f.store.PutDeployment(domain.Deployment{ID: "local-1", VercelID: "dep_1", Status: domain.StatusBuilding, ProjectID: "proj-1", CreatedAt: old, UpdatedAt: old})

	sweeper := NewSweeper(f.store, f.rec, discardLogger(), "@every 1m", time.Minute)
	require.NotNil(t, sweeper)

	assert.Equal(t, 1, sweeper.runIteration(context.Background()))
	assert.Zero(t, sweeper.runIteration(context.Background()))
	assert.Equal(t, 1, f.provider.calls)
}

func TestSweeperDisabledWithoutSchedule(t *testing.T) {
	store := repotest.New()
	assert.Nil(t, NewSweeper(store, TickerFunc(nil), discardLogger(), "", 0))

	var sweeper *Sweeper
	assert.NoError(t, sweeper.Run(context.Background()))
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	store := repotest.New()
	sweeper := NewSweeper(store, TickerFunc(func(context.Context, string) (Observation, error) { return Observation{}, nil }), discardLogger(), "not a schedule", 0)
	require.NotNil(t, sweeper)
	assert.Error(t, sweeper.Run(context.Background()))
}
