package eligibility

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/loyalty-engine/internal/model"
)

type stubSource struct {
	customers []model.Customer
	rewardErr error
	states    map[string]model.CustomerRewardState
	failing   map[string]bool
	delay     time.Duration

	// gate задерживает GetReward до закрытия канала.
	gate chan struct{}

	rewardCalls atomic.Int64
	calls       atomic.Int64
	inFlight    atomic.Int64
	maxSeen     atomic.Int64
}

func (s *stubSource) ListCustomers(ctx context.Context, merchantID string) ([]model.Customer, error) {
	return s.customers, nil
}

func (s *stubSource) GetReward(ctx context.Context, merchantID, rewardID string) (*model.Reward, error) {
	s.rewardCalls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.rewardErr != nil {
		return nil, s.rewardErr
	}
	return &model.Reward{ID: rewardID}, nil
}

func (s *stubSource) GetRewardState(ctx context.Context, customerID, rewardID string) (model.CustomerRewardState, error) {
	s.calls.Add(1)
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		prev := s.maxSeen.Load()
		if cur <= prev || s.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.failing[customerID] {
		return model.CustomerRewardState{}, errors.New("boom")
	}
	return s.states[customerID], nil
}

func intPtr(v int) *int { return &v }

func newMixedSource() *stubSource {
	return &stubSource{
		customers: []model.Customer{
			{ID: "c1", FullName: "Ann", DaysSinceLastVisit: intPtr(2), LifetimeTransactionCount: 4,
				CurrentCohort: &model.CohortInfo{Name: "active"}},
			{ID: "c2", FullName: "Bob"},
			{ID: "c3", FullName: "Cid"},
			{ID: "c4", FullName: "Dan"},
			{ID: "c5", FullName: "Eve"},
		},
		states: map[string]model.CustomerRewardState{
			"c1": {Visible: true, Redeemable: true},
			"c2": {Visible: true},
			"c3": {Redeemable: true},
		},
		failing: map[string]bool{"c5": true},
	}
}

func TestAggregate_Counts(t *testing.T) {
	src := newMixedSource()
	agg := NewAggregator(src, 3, nil, nil)

	st, err := agg.Aggregate(context.Background(), "m1", "r1")
	require.NoError(t, err)

	assert.Equal(t, "r1", st.RewardID)
	assert.Equal(t, 5, st.TotalCustomers)
	assert.Equal(t, 2, st.CanSeeCount)
	assert.Equal(t, 1, st.CanRedeemCount)
	assert.Equal(t, 1, st.FailedLookups)
	assert.True(t, st.Partial())
	require.Len(t, st.Failed, st.FailedLookups)
	assert.EqualError(t, st.Failed["c5"], "boom")

	require.Len(t, st.EligibleCustomers, 1)
	got := st.EligibleCustomers[0]
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, "Ann", got.FullName)
	assert.Equal(t, "active", got.CohortName)
	require.NotNil(t, got.DaysSinceLastVisit)
	assert.Equal(t, 2, *got.DaysSinceLastVisit)

	if st.CanRedeemCount > st.CanSeeCount || st.CanSeeCount > st.TotalCustomers {
		t.Fatalf("counts out of order: redeem=%d see=%d total=%d", st.CanRedeemCount, st.CanSeeCount, st.TotalCustomers)
	}
}

func TestAggregate_NoCustomers(t *testing.T) {
	agg := NewAggregator(&stubSource{}, 0, nil, nil)

	st, err := agg.Aggregate(context.Background(), "m1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, st.TotalCustomers)
	assert.NotNil(t, st.EligibleCustomers)
	assert.False(t, st.Partial())
}

func TestAggregate_MissingReward(t *testing.T) {
	src := &stubSource{rewardErr: fmt.Errorf("get reward: %w", model.ErrNotFound)}
	agg := NewAggregator(src, 4, nil, nil)

	_, err := agg.Aggregate(context.Background(), "m1", "nope")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if src.calls.Load() != 0 {
		t.Fatalf("state lookups = %d, want 0", src.calls.Load())
	}
}

func TestAggregate_BoundedFanout(t *testing.T) {
	src := &stubSource{delay: 5 * time.Millisecond}
	for i := 0; i < 40; i++ {
		src.customers = append(src.customers, model.Customer{ID: fmt.Sprintf("c%d", i)})
	}
	agg := NewAggregator(src, 4, nil, nil)

	_, err := agg.Aggregate(context.Background(), "m1", "r1")
	require.NoError(t, err)

	assert.Equal(t, int64(40), src.calls.Load())
	if peak := src.maxSeen.Load(); peak > 4 {
		t.Fatalf("max in-flight = %d, want <= 4", peak)
	}
}

func TestAggregate_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAggregator(newMixedSource(), 2, nil, nil).Aggregate(ctx, "m1", "r1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestCache_HitAndInvalidate(t *testing.T) {
	src := newMixedSource()
	src.failing = nil
	cache := NewCache(NewAggregator(src, 2, nil, nil), nil)
	ctx := context.Background()

	first, err := cache.Get(ctx, "m1", "r1")
	require.NoError(t, err)
	calls := src.calls.Load()

	second, err := cache.Get(ctx, "m1", "r1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, calls, src.calls.Load(), "cached result must not query the store")
	assert.Equal(t, 1, cache.Len())

	cache.Invalidate("r1")
	assert.Equal(t, 0, cache.Len())

	_, err = cache.Get(ctx, "m1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 2*calls, src.calls.Load())

	cache.Reset()
	assert.Equal(t, 0, cache.Len())
}

func TestCache_PartialNotCached(t *testing.T) {
	cache := NewCache(NewAggregator(newMixedSource(), 2, nil, nil), nil)

	st, err := cache.Get(context.Background(), "m1", "r1")
	require.NoError(t, err)
	assert.True(t, st.Partial())
	assert.Equal(t, 0, cache.Len())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCache_ConcurrentRequestsShareAggregation(t *testing.T) {
	src := newMixedSource()
	src.failing = nil
	src.gate = make(chan struct{})
	cache := NewCache(NewAggregator(src, 5, nil, nil), nil)

	var wg sync.WaitGroup
	results := make([]Stats, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := cache.Get(context.Background(), "m1", "r1")
			assert.NoError(t, err)
			results[i] = st
		}()
	}

	waitFor(t, func() bool { return src.rewardCalls.Load() == 1 })
	// Остальные вызовы успевают присоединиться к идущей агрегации.
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	if got := src.rewardCalls.Load(); got != 1 {
		t.Fatalf("aggregations = %d, want 1", got)
	}
	if got := src.calls.Load(); got != 5 {
		t.Fatalf("state lookups = %d, want 5", got)
	}
	for _, st := range results {
		assert.Equal(t, 1, st.CanRedeemCount)
	}
	assert.Equal(t, 1, cache.Len())
}

func TestCache_WaiterSurvivesFirstCallerCancel(t *testing.T) {
	src := newMixedSource()
	src.failing = nil
	src.gate = make(chan struct{})
	cache := NewCache(NewAggregator(src, 2, nil, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx, "m1", "r1")
		firstErr <- err
	}()
	waitFor(t, func() bool { return src.rewardCalls.Load() == 1 })

	type result struct {
		st  Stats
		err error
	}
	second := make(chan result, 1)
	go func() {
		st, err := cache.Get(context.Background(), "m1", "r1")
		second <- result{st: st, err: err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller err = %v, want context.Canceled", err)
	}

	close(src.gate)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, 1, res.st.CanRedeemCount)
	assert.False(t, res.st.Partial())
	assert.Equal(t, int64(1), src.rewardCalls.Load())
	assert.Equal(t, 1, cache.Len())
}
