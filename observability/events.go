package observability

import (
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"yieldvault/core/events"
)

type eventMetrics struct {
	emitted         *prometheus.CounterVec
	rewardsMinted   *prometheus.CounterVec
	performanceFees *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed protocol events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "yieldvault",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed events segmented by type.",
			}, []string{"type"}),
			rewardsMinted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "yieldvault",
				Name:      "rewards_minted_total",
				Help:      "Reward token base units minted by the farm segmented by pool.",
			}, []string{"pool"}),
			performanceFees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "yieldvault",
				Name:      "performance_fees_total",
				Help:      "Performance fees in want base units segmented by strategy.",
			}, []string{"strategy"}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.rewardsMinted, eventRegistry.performanceFees)
	})
	return eventRegistry
}

// Record updates the counters derived from a committed event.
func (m *eventMetrics) Record(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.emitted.WithLabelValues(evt.EventType()).Inc()
	rendered := evt.Event()
	if rendered == nil {
		return
	}
	switch evt.EventType() {
	case events.TypeFarmRewardMinted:
		m.rewardsMinted.WithLabelValues(rendered.Attr("pool")).Add(amountFloat(rendered.Attr("amount")))
	case events.TypePerformanceFee:
		m.performanceFees.WithLabelValues(rendered.Attr("strategy")).Add(amountFloat(rendered.Attr("amount")))
	}
}

func amountFloat(value string) float64 {
	amount, ok := new(big.Float).SetString(strings.TrimSpace(value))
	if !ok || amount.Sign() < 0 {
		return 0
	}
	f, _ := amount.Float64()
	return f
}
