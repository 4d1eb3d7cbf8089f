package mortality

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the orchestration counters. A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	dispatchAttempts *prometheus.CounterVec
	dispatchResults  *prometheus.CounterVec
	tipFetches       *prometheus.CounterVec
	balanceErrors    prometheus.Counter
	walletsRefreshed prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		dispatchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mortality_dispatch_attempts_total",
				Help: "Transfer submissions by path",
			},
			[]string{"path"},
		),
		dispatchResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mortality_dispatch_results_total",
				Help: "Final transfer outcomes",
			},
			[]string{"result"},
		),
		tipFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mortality_tip_fetches_total",
				Help: "Tip floor fetches by result",
			},
			[]string{"result"},
		),
		balanceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mortality_balance_errors_total",
			Help: "Balance queries that fell back to zero",
		}),
		walletsRefreshed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mortality_wallets_refreshed_total",
			Help: "Wallet balances refreshed",
		}),
	}
	m.Registry.MustRegister(m.dispatchAttempts, m.dispatchResults, m.tipFetches, m.balanceErrors, m.walletsRefreshed)
	return m
}

func (m *Metrics) attempt(path string) {
	if m == nil {
		return
	}
	m.dispatchAttempts.WithLabelValues(path).Inc()
}

func (m *Metrics) result(result string) {
	if m == nil {
		return
	}
	m.dispatchResults.WithLabelValues(result).Inc()
}

func (m *Metrics) tipFetch(result string) {
	if m == nil {
		return
	}
	m.tipFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) balanceError() {
	if m == nil {
		return
	}
	m.balanceErrors.Inc()
}

func (m *Metrics) refreshed(n int) {
	if m == nil {
		return
	}
	m.walletsRefreshed.Add(float64(n))
}
