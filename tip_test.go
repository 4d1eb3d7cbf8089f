package mortality

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func tipServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts, &hits
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func testOracle(url string, clock *fakeClock) *TipOracle {
	o := NewTipOracle(url, nil)
	o.limiter = rate.NewLimiter(rate.Inf, 1)
	o.now = clock.Now
	return o
}

func TestTipCachesForFiveMinutes(t *testing.T) {
	t.Parallel()

	ts, hits := tipServer(t, http.StatusOK, `[{"landed_tips_75th_percentile": 2000}]`)
	clock := &fakeClock{now: time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)}
	o := testOracle(ts.URL, clock)
	ctx := context.Background()

	assert.Equal(t, uint64(3000), o.Tip(ctx, 0))
	assert.EqualValues(t, 1, hits.Load())

	clock.now = clock.now.Add(4 * time.Minute)
	assert.Equal(t, uint64(3000), o.Tip(ctx, 0))
	assert.EqualValues(t, 1, hits.Load(), "cache hit needs no fetch")

	clock.now = clock.now.Add(2 * time.Minute)
	assert.Equal(t, uint64(3000), o.Tip(ctx, 0))
	assert.EqualValues(t, 2, hits.Load(), "expired cache fetches once")
}

func TestTipNeverExceedsCeiling(t *testing.T) {
	t.Parallel()

	ts, _ := tipServer(t, http.StatusOK, `{"landed_tips_75th_percentile": 1000000}`)
	clock := &fakeClock{now: time.Now()}
	o := testOracle(ts.URL, clock)
	ctx := context.Background()

	assert.Equal(t, DefaultMaxTip, o.Tip(ctx, 0), "miss")
	assert.Equal(t, uint64(1234), o.Tip(ctx, 1234), "hit")
}

func TestTipRoundsUp(t *testing.T) {
	t.Parallel()

	ts, _ := tipServer(t, http.StatusOK, `{"landed_tips_75th_percentile": 1001}`)
	o := testOracle(ts.URL, &fakeClock{now: time.Now()})
	assert.Equal(t, uint64(1502), o.Tip(context.Background(), 0))
}

func TestTipFallback(t *testing.T) {
	t.Parallel()

	ts, hits := tipServer(t, http.StatusBadGateway, `upstream down`)
	o := testOracle(ts.URL, &fakeClock{now: time.Now()})
	o.metrics = NewMetrics()
	ctx := context.Background()

	assert.Equal(t, DefaultTip, o.Tip(ctx, 0))
	assert.Equal(t, uint64(50_000), o.Tip(ctx, 50_000), "fallback is clamped")
	assert.EqualValues(t, 2, hits.Load(), "failures are not cached")
}

func TestParseTipFloor(t *testing.T) {
	t.Parallel()

	v, err := parseTipFloor([]byte(`[{"landed_tips_75th_percentile": 12.5, "landed_tips_50th_percentile": 3}]`))
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)

	v, err = parseTipFloor([]byte(`{"landed_tips_75th_percentile": 7}`))
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	for _, body := range []string{`[]`, `{}`, `nope`} {
		_, err := parseTipFloor([]byte(body))
		assert.Error(t, err, body)
	}
}

func TestTipFetchesAtMostOncePerSecond(t *testing.T) {
	t.Parallel()

	ts, hits := tipServer(t, http.StatusServiceUnavailable, `busy`)
	o := NewTipOracle(ts.URL, nil)
	ctx := context.Background()

	start := time.Now()
	assert.Equal(t, DefaultTip, o.Tip(ctx, 0))
	first := time.Since(start)
	assert.Equal(t, DefaultTip, o.Tip(ctx, 0))
	second := time.Since(start)

	assert.EqualValues(t, 2, hits.Load())
	assert.Less(t, first, 500*time.Millisecond, "first fetch is not held back")
	assert.GreaterOrEqual(t, second, 900*time.Millisecond, "second miss waits for the limiter")
}

func TestTipLimiterHonoursContext(t *testing.T) {
	t.Parallel()

	ts, hits := tipServer(t, http.StatusServiceUnavailable, `busy`)
	o := NewTipOracle(ts.URL, nil)

	assert.Equal(t, DefaultTip, o.Tip(context.Background(), 0))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Equal(t, uint64(2_000), o.Tip(ctx, 2_000), "aborted wait falls back, clamped")
	assert.EqualValues(t, 1, hits.Load())
}
