package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotesync/internal/metrics"
	"quotesync/internal/model"
)

var errDown = errors.New("redis down")

// fakePublisher records publishes and fails them while down is set.
type fakePublisher struct {
	mu     sync.Mutex
	down   bool
	latest [][]model.IndicatorResult
	cands  [][]model.Candidate
}

func (f *fakePublisher) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

func (f *fakePublisher) PublishLatest(_ context.Context, r []model.IndicatorResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errDown
	}
	f.latest = append(f.latest, r)
	return nil
}

func (f *fakePublisher) PublishCandidates(_ context.Context, c []model.Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errDown
	}
	f.cands = append(f.cands, c)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.latest), len(f.cands)
}

// metricValue reads a counter or gauge from m's registry. label, if set,
// selects the series whose only label has that value.
func metricValue(t *testing.T, m *metrics.Metrics, name, label string) float64 {
	t.Helper()
	mfs, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, s := range mf.GetMetric() {
			if label != "" && (len(s.GetLabel()) != 1 || s.GetLabel()[0].GetValue() != label) {
				continue
			}
			if s.GetCounter() != nil {
				return s.GetCounter().GetValue()
			}
			return s.GetGauge().GetValue()
		}
	}
	return 0
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newGuarded(t *testing.T, maxFailures, maxBuf int) (*BufferedWriter, *Breaker, *fakePublisher, *fakeClock, *metrics.Metrics) {
	t.Helper()
	prom := metrics.NewMetrics()
	clock := &fakeClock{t: time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC)}
	b := NewBreaker(maxFailures, time.Minute, prom)
	b.now = clock.now
	pub := &fakePublisher{}
	return NewBufferedWriter(context.Background(), pub, b, maxBuf), b, pub, clock, prom
}

var (
	aaplLatest = []model.IndicatorResult{{Name: "ema_8", Ticker: "AAPL", Value: 187.5}}
	screen     = []model.Candidate{{Ticker: "MSFT", Trend: model.Bull, Passed: true}}
)

func TestBreaker_TripsOnConsecutiveFailuresOfEitherKind(t *testing.T) {
	ctx := context.Background()
	bw, b, pub, _, prom := newGuarded(t, 3, 0)
	pub.setDown(true)

	assert.ErrorIs(t, bw.PublishLatest(ctx, aaplLatest), errDown)
	assert.ErrorIs(t, bw.PublishCandidates(ctx, screen), errDown)
	assert.Equal(t, StateClosed, b.State())

	assert.ErrorIs(t, bw.PublishLatest(ctx, aaplLatest), errDown)
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 1.0, metricValue(t, prom, "quotesync_redis_circuit_breaker_trips_total", "latest"))
	assert.Equal(t, 0.0, metricValue(t, prom, "quotesync_redis_circuit_breaker_trips_total", "candidates"))
	assert.Equal(t, float64(StateOpen), metricValue(t, prom, "quotesync_redis_circuit_breaker_state", ""))
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	bw, b, pub, _, _ := newGuarded(t, 2, 0)

	pub.setDown(true)
	require.Error(t, bw.PublishCandidates(ctx, screen))
	pub.setDown(false)
	require.NoError(t, bw.PublishLatest(ctx, aaplLatest))
	pub.setDown(true)
	require.Error(t, bw.PublishCandidates(ctx, screen))

	assert.Equal(t, StateClosed, b.State())
}

func TestBufferedWriter_HoldsWhileOpen(t *testing.T) {
	ctx := context.Background()
	bw, _, pub, _, prom := newGuarded(t, 1, 0)
	pub.setDown(true)
	require.Error(t, bw.PublishLatest(ctx, aaplLatest))

	for i := 0; i < 3; i++ {
		assert.NoError(t, bw.PublishLatest(ctx, aaplLatest))
	}
	assert.NoError(t, bw.PublishCandidates(ctx, screen))
	assert.NoError(t, bw.PublishCandidates(ctx, screen))

	// Three latest snapshots plus only the newest screen.
	assert.Equal(t, 4, bw.PendingCount())
	assert.Equal(t, 3.0, metricValue(t, prom, "quotesync_redis_buffered_writes_total", "latest"))
	assert.Equal(t, 2.0, metricValue(t, prom, "quotesync_redis_buffered_writes_total", "candidates"))
}

func TestBufferedWriter_DropsOldestWhenFull(t *testing.T) {
	ctx := context.Background()
	bw, _, pub, _, prom := newGuarded(t, 1, 2)
	pub.setDown(true)
	require.Error(t, bw.PublishLatest(ctx, aaplLatest))

	for i := 0; i < 3; i++ {
		require.NoError(t, bw.PublishLatest(ctx, aaplLatest))
	}
	assert.Equal(t, 2, bw.PendingCount())
	assert.Equal(t, 1.0, metricValue(t, prom, "quotesync_redis_buffer_dropped_total", ""))
}

func TestBreaker_TrialSuccessReplaysHeld(t *testing.T) {
	ctx := context.Background()
	bw, b, pub, clock, prom := newGuarded(t, 1, 0)
	pub.setDown(true)
	require.Error(t, bw.PublishCandidates(ctx, screen))
	require.Equal(t, StateOpen, b.State())

	require.NoError(t, bw.PublishLatest(ctx, aaplLatest))
	require.NoError(t, bw.PublishCandidates(ctx, screen))
	require.Equal(t, 2, bw.PendingCount())

	// Still cooling down: nothing is tried.
	pub.setDown(false)
	clock.advance(30 * time.Second)
	require.NoError(t, bw.PublishLatest(ctx, aaplLatest))
	assert.Equal(t, 3, bw.PendingCount())
	n, _ := pub.counts()
	assert.Zero(t, n)

	clock.advance(31 * time.Second)
	require.NoError(t, bw.PublishLatest(ctx, aaplLatest))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, float64(StateClosed), metricValue(t, prom, "quotesync_redis_circuit_breaker_state", ""))

	require.Eventually(t, func() bool {
		latest, cands := pub.counts()
		return latest == 3 && cands == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, bw.PendingCount())
}

func TestBreaker_TrialFailureReopens(t *testing.T) {
	ctx := context.Background()
	bw, b, pub, clock, prom := newGuarded(t, 1, 0)
	pub.setDown(true)
	require.Error(t, bw.PublishLatest(ctx, aaplLatest))

	clock.advance(2 * time.Minute)
	assert.ErrorIs(t, bw.PublishCandidates(ctx, screen), errDown)
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 1.0, metricValue(t, prom, "quotesync_redis_circuit_breaker_trips_total", "candidates"))

	// The cooldown restarts at the failed trial.
	require.NoError(t, bw.PublishLatest(ctx, aaplLatest))
	assert.Equal(t, 1, bw.PendingCount())
}

func TestBreaker_AdmitsOneTrialAtATime(t *testing.T) {
	b := NewBreaker(1, time.Minute, nil)
	clock := &fakeClock{t: time.Now()}
	b.now = clock.now

	require.True(t, b.allow())
	b.record(kindLatest, errDown)
	require.False(t, b.allow())

	clock.advance(time.Minute)
	require.True(t, b.allow(), "first call after cooldown is the trial")
	assert.Equal(t, StateHalfOpen, b.State())
	assert.False(t, b.allow(), "no second call while the trial is out")

	b.record(kindLatest, nil)
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.allow())
}

// unreachableWriter points at a port nothing listens on.
func unreachableWriter() *Writer {
	return newWriter(goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	}))
}

func TestBufferedWriter_UnreachableRedis(t *testing.T) {
	ctx := context.Background()
	b := NewBreaker(2, time.Hour, nil)
	bw := NewBufferedWriter(ctx, unreachableWriter(), b, 0)
	defer bw.Close()

	// Empty snapshots never reach the network.
	require.NoError(t, bw.PublishLatest(ctx, nil))
	require.Equal(t, StateClosed, b.State())

	require.Error(t, bw.PublishLatest(ctx, aaplLatest))
	require.Error(t, bw.PublishCandidates(ctx, screen))
	assert.Equal(t, StateOpen, b.State())
	assert.NoError(t, bw.PublishCandidates(ctx, screen))
	assert.Equal(t, 1, bw.PendingCount())
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "ind:latest:AAPL", latestKey("AAPL"))
	assert.Equal(t, "pub:ind:AAPL", latestChannel("AAPL"))
}
