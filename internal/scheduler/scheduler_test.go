package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/smallbiznis/billsync/internal/billingtest"
	"github.com/smallbiznis/billsync/internal/cache"
	"github.com/smallbiznis/billsync/internal/config"
	subscriptiondomain "github.com/smallbiznis/billsync/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type expireStub struct {
	subscriptiondomain.Service
	mu      sync.Mutex
	batches []int
	err     error
	limits  []int
}

func (s *expireStub) ExpireDeferredCancellations(_ context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits = append(s.limits, limit)
	if s.err != nil {
		return 0, s.err
	}
	if len(s.batches) == 0 {
		return 0, nil
	}
	n := s.batches[0]
	s.batches = s.batches[1:]
	return n, nil
}

func (s *expireStub) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limits)
}

func newTestScheduler(t *testing.T, stack *billingtest.Stack, svc subscriptiondomain.Service, cfg Config, locker *cache.Locker) *Scheduler {
	t.Helper()
	if svc == nil {
		svc = stack.Subscriptions
	}
	s, err := New(Params{
		Log:             zap.NewNop(),
		Clock:           stack.Clock,
		GenID:           stack.Node,
		SubscriptionSvc: svc,
		Locker:          locker,
		Config:          cfg,
	})
	require.NoError(t, err)
	return s
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 5*time.Minute, cfg.RunInterval)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, time.Minute, cfg.LockTTL)

	provided := ProvideConfig(config.Config{SchedulerInterval: time.Minute})
	assert.Equal(t, time.Minute, provided.RunInterval)
}

func TestRunOnceExpiresDeferredCancellations(t *testing.T) {
	stack := billingtest.New(t)
	ctx := context.Background()
	sub := stack.ActiveSubscription(t, "sub_deferred")

	_, err := stack.Subscriptions.CancelForTenant(ctx, subscriptiondomain.TenantActionRequest{
		TenantID:    stack.Tenant.ID,
		UserID:      billingtest.OwnerUserID,
		AtPeriodEnd: true,
	})
	require.NoError(t, err)

	s := newTestScheduler(t, stack, nil, Config{}, nil)

	require.NoError(t, s.RunOnce(ctx))
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, stack.Reload(t, sub.ID).Status)

	stack.Clock.Advance(32 * 24 * time.Hour)
	require.NoError(t, s.RunOnce(ctx))

	stored := stack.Reload(t, sub.ID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCancelled, stored.Status)
	require.NotNil(t, stored.EndedAt)
}

func TestExpireJobDrainsFullBatches(t *testing.T) {
	stack := billingtest.New(t)
	stub := &expireStub{batches: []int{2, 2, 1}}
	s := newTestScheduler(t, stack, stub, Config{BatchSize: 2}, nil)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, []int{2, 2, 2}, stub.limits)
}

func TestExpireJobWrapsFailures(t *testing.T) {
	stack := billingtest.New(t)
	boom := errors.New("boom")
	stub := &expireStub{err: boom}
	s := newTestScheduler(t, stack, stub, Config{}, nil)

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), JobExpireDeferredCancellations)
}

func TestExpireJobTimeoutIsSoft(t *testing.T) {
	stack := billingtest.New(t)
	stub := &expireStub{err: context.DeadlineExceeded}
	s := newTestScheduler(t, stack, stub, Config{}, nil)

	assert.NoError(t, s.RunOnce(context.Background()))
}

func TestDisabledJobDoesNotRun(t *testing.T) {
	stack := billingtest.New(t)
	stub := &expireStub{}
	s := newTestScheduler(t, stack, stub, Config{EnabledJobs: []string{"other"}}, nil)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Empty(t, stub.limits)

	s.cfg.EnabledJobs = []string{"EXPIRE_DEFERRED_CANCELLATIONS"}
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Len(t, stub.limits, 1)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	client, err := cache.Connect(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	locker := cache.NewLocker(client)

	stack := billingtest.New(t)
	stub := &expireStub{}
	s := newTestScheduler(t, stack, stub, Config{}, locker)

	key := "billsync:scheduler:" + JobExpireDeferredCancellations
	token, ok, err := locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.RunOnce(ctx))
	assert.Empty(t, stub.limits)

	require.NoError(t, locker.Release(ctx, key, token))
	require.NoError(t, s.RunOnce(ctx))
	assert.Len(t, stub.limits, 1)
	assert.False(t, mr.Exists(key))
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	stack := billingtest.New(t)
	stub := &expireStub{}
	s := newTestScheduler(t, stack, stub, Config{RunInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunForever(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return stub.calls() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
