package mortality

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	tipCacheTTL    = 5 * time.Minute
	tipMarkup      = 1.5
	tipFetchPeriod = time.Second
)

type tipFloor struct {
	Landed75th float64 `json:"landed_tips_75th_percentile"`
}

// TipOracle prices relay tips from the tip-floor service. The last good price
// is kept for five minutes; every answer is clamped to the caller's ceiling.
type TipOracle struct {
	URL        string
	HTTPClient *http.Client

	limiter *rate.Limiter
	now     func() time.Time
	log     *logrus.Entry
	metrics *Metrics

	mu     sync.Mutex
	amount uint64
	expiry time.Time
	cached bool
}

func NewTipOracle(url string, metrics *Metrics) *TipOracle {
	if url == "" {
		url = TipFloorURL
	}
	return &TipOracle{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(tipFetchPeriod), 1),
		now:        time.Now,
		log:        logger.WithField("component", "tip"),
		metrics:    metrics,
	}
}

// Tip returns a tip in lamports never above ceiling. A zero ceiling means DefaultMaxTip.
func (o *TipOracle) Tip(ctx context.Context, ceiling uint64) uint64 {
	if ceiling == 0 {
		ceiling = DefaultMaxTip
	}

	if amount, ok := o.lookup(); ok {
		return min(amount, ceiling)
	}

	if err := o.limiter.Wait(ctx); err != nil {
		o.log.WithError(err).Warn("tip fetch aborted")
		return min(DefaultTip, ceiling)
	}

	p75, err := o.fetch(ctx)
	if err != nil {
		o.metrics.tipFetch("error")
		o.log.WithError(err).Warn("tip floor unavailable, using default")
		return min(DefaultTip, ceiling)
	}
	o.metrics.tipFetch("ok")

	withExtra := uint64(math.Ceil(p75 * tipMarkup))
	final := min(withExtra, ceiling)

	o.log.WithFields(logrus.Fields{
		"p75":     FormatSOL(uint64(p75)),
		"marked":  FormatSOL(withExtra),
		"ceiling": FormatSOL(ceiling),
		"final":   FormatSOL(final),
	}).Info("tip priced")

	o.store(final)
	return final
}

func (o *TipOracle) lookup() (uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.cached || !o.now().Before(o.expiry) {
		return 0, false
	}
	return o.amount, true
}

func (o *TipOracle) store(amount uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.amount = amount
	o.expiry = o.now().Add(tipCacheTTL)
	o.cached = true
}

func (o *TipOracle) fetch(ctx context.Context) (float64, error) {
	body, err := fetchTipFloor(ctx, o.HTTPClient, o.URL)
	if err != nil {
		return 0, err
	}
	return parseTipFloor(body)
}

func fetchTipFloor(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tip floor: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// parseTipFloor accepts either a single object or the one-element array the
// block engine actually serves.
func parseTipFloor(body []byte) (float64, error) {
	var floors []tipFloor
	if err := json.Unmarshal(body, &floors); err != nil {
		var single tipFloor
		if err := json.Unmarshal(body, &single); err != nil {
			return 0, fmt.Errorf("tip floor: %w", err)
		}
		floors = []tipFloor{single}
	}
	if len(floors) == 0 || floors[0].Landed75th <= 0 {
		return 0, fmt.Errorf("tip floor: missing 75th percentile")
	}
	return floors[0].Landed75th, nil
}
