package login

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/gosrun/internal/metrics"
	"github.com/udisondev/gosrun/internal/srun"
	"github.com/udisondev/gosrun/internal/testutil"
)

// fakeAuth answers per username and tracks concurrency.
type fakeAuth struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	outcome srun.Outcome
	delay   time.Duration

	running atomic.Int32
	peak    atomic.Int32
}

func (f *fakeAuth) call(ctx context.Context, action srun.Action, s srun.Session) (srun.Result, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, s.Username)
	err := f.fail[s.Username]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return srun.Result{Action: action}, ctx.Err()
		}
	}
	if err != nil {
		return srun.Result{Action: action}, err
	}
	return srun.Result{Action: action, Outcome: f.outcome, IP: s.IP}, nil
}

func (f *fakeAuth) Login(ctx context.Context, s srun.Session) (srun.Result, error) {
	return f.call(ctx, srun.ActionLogin, s)
}

func (f *fakeAuth) Logout(ctx context.Context, s srun.Session) (srun.Result, error) {
	return f.call(ctx, srun.ActionLogout, s)
}

func (f *fakeAuth) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func sessions(names ...string) []srun.Session {
	out := make([]srun.Session, 0, len(names))
	for i, name := range names {
		out = append(out, srun.DefaultSession(name, "p", "10.0.0."+string(rune('1'+i))))
	}
	return out
}

func TestLoginAll_ContinuesAfterFailure(t *testing.T) {
	auth := &fakeAuth{
		fail:    map[string]error{"u2": testutil.ErrSimulated},
		outcome: srun.OutcomeAuthenticated,
	}
	m := NewManager(auth, sessions("u1", "u2", "u3"))
	ctx := testutil.ContextWithTimeout(t, 5*time.Second)

	reports := m.LoginAll(ctx)

	require.Len(t, reports, 3)
	assert.Equal(t, []string{"u1", "u2", "u3"}, auth.called())
	assert.Equal(t, "u1", reports[0].Username)
	assert.True(t, reports[0].Online())
	assert.ErrorIs(t, reports[1].Err, testutil.ErrSimulated)
	assert.False(t, reports[1].Online())
	assert.True(t, reports[2].Online())
	assert.Equal(t, 1, Errored(reports))
}

func TestLoginAll_NotAuthenticatedIsNotAnError(t *testing.T) {
	auth := &fakeAuth{outcome: srun.OutcomeNotAuthenticated}
	m := NewManager(auth, sessions("u1"))

	reports := m.LoginAll(testutil.ContextWithTimeout(t, 5*time.Second))

	require.Len(t, reports, 1)
	assert.NoError(t, reports[0].Err)
	assert.False(t, reports[0].Online())
	assert.Equal(t, 0, Errored(reports))
}

func TestLoginAll_SequentialByDefault(t *testing.T) {
	auth := &fakeAuth{outcome: srun.OutcomeAuthenticated, delay: 10 * time.Millisecond}
	m := NewManager(auth, sessions("u1", "u2", "u3"))

	m.LoginAll(testutil.ContextWithTimeout(t, 5*time.Second))

	assert.Equal(t, int32(1), auth.peak.Load())
}

func TestLoginAll_ParallelLimit(t *testing.T) {
	auth := &fakeAuth{outcome: srun.OutcomeAuthenticated, delay: 20 * time.Millisecond}
	m := NewManager(auth, sessions("u1", "u2", "u3", "u4", "u5"), WithParallel(2))

	reports := m.LoginAll(testutil.ContextWithTimeout(t, 5*time.Second))

	assert.Len(t, reports, 5)
	assert.LessOrEqual(t, auth.peak.Load(), int32(2))
	for i, r := range reports {
		assert.Equal(t, sessions("u1", "u2", "u3", "u4", "u5")[i].Username, r.Username)
	}
}

func TestWithParallel_Floor(t *testing.T) {
	m := NewManager(&fakeAuth{}, nil, WithParallel(0))
	assert.Equal(t, 1, m.parallel)
}

func TestLogoutAll(t *testing.T) {
	auth := &fakeAuth{outcome: srun.OutcomeLoggedOut}
	rec := metrics.New()
	m := NewManager(auth, sessions("u1", "u2"), WithStatusRecorder(rec))

	reports := m.LogoutAll(testutil.ContextWithTimeout(t, 5*time.Second))

	require.Len(t, reports, 2)
	assert.Equal(t, srun.ActionLogout, reports[0].Result.Action)
	assert.Equal(t, srun.OutcomeLoggedOut, reports[1].Result.Outcome)

	// Logout does not touch the online status.
	users, _ := rec.Snapshot()
	assert.Empty(t, users)
}

func TestLoginAll_RecordsStatus(t *testing.T) {
	auth := &fakeAuth{
		fail:    map[string]error{"u2": testutil.ErrSimulated},
		outcome: srun.OutcomeAuthenticated,
	}
	rec := metrics.New()
	m := NewManager(auth, sessions("u1", "u2"), WithStatusRecorder(rec))

	m.LoginAll(testutil.ContextWithTimeout(t, 5*time.Second))

	users, healthy := rec.Snapshot()
	assert.False(t, healthy)
	require.Len(t, users, 2)
	assert.True(t, users["u1"].Online)
	assert.Equal(t, "authenticated", users["u1"].Outcome)
	assert.Equal(t, "10.0.0.1", users["u1"].IP)
	assert.False(t, users["u2"].Online)
	assert.Equal(t, "error", users["u2"].Outcome)
	assert.Contains(t, users["u2"].Error, "simulated")
}

func TestWatch_InvalidInterval(t *testing.T) {
	m := NewManager(&fakeAuth{}, sessions("u1"))
	assert.Error(t, m.Watch(testutil.ContextWithTimeout(t, time.Second), 0))
}

func TestWatch_StopsOnCancel(t *testing.T) {
	auth := &fakeAuth{outcome: srun.OutcomeAuthenticated}
	m := NewManager(auth, sessions("u1"))
	ctx, cancel := testutil.ContextWithCancel(t)

	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx, 10*time.Millisecond) }()

	testutil.WaitUntil(t, func() bool { return len(auth.called()) >= 3 }, 5*time.Second)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_LogsInOnlyWhenProbeFails(t *testing.T) {
	p := testutil.NewPortal(t)
	prober := testutil.NewMockProber(false)
	rec := metrics.New()

	client, err := srun.NewClient(p.URL(),
		srun.WithProber(prober),
		srun.WithObserver(rec),
	)
	require.NoError(t, err)

	m := NewManager(client, sessions("u1"), WithStatusRecorder(rec))
	ctx, cancel := testutil.ContextWithCancel(t)

	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx, 10*time.Millisecond) }()

	// Offline: the controller is contacted.
	testutil.WaitUntil(t, func() bool { return p.Count(srun.PathPortal) >= 1 }, 5*time.Second)

	prober.SetOnline(true)
	c0 := prober.Calls()
	testutil.WaitUntil(t, func() bool { return prober.Calls() >= c0+2 }, 5*time.Second)
	portalCalls := p.Count(srun.PathPortal)

	// Online: only the probe runs.
	testutil.WaitUntil(t, func() bool { return prober.Calls() >= c0+5 }, 5*time.Second)
	assert.Equal(t, portalCalls, p.Count(srun.PathPortal))

	users, healthy := rec.Snapshot()
	assert.True(t, healthy)
	assert.Equal(t, "already_online", users["u1"].Outcome)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
