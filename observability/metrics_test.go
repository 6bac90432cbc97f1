package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"yieldvault/core/events"
)

func TestModuleMetricsObserve(t *testing.T) {
	m := ModuleMetrics()
	counter := m.transactions.WithLabelValues("farm", "deposit", OutcomeCommitted)
	before := testutil.ToFloat64(counter)
	m.Observe("farm", "deposit", OutcomeCommitted, 5*time.Millisecond)
	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Fatalf("expected counter %v, got %v", before+1, got)
	}

	unknown := m.transactions.WithLabelValues("unknown", "unknown", OutcomeRejected)
	before = testutil.ToFloat64(unknown)
	m.Observe("", "", OutcomeRejected, time.Millisecond)
	if got := testutil.ToFloat64(unknown); got != before+1 {
		t.Fatalf("expected empty labels to map to unknown")
	}

	m.SetBlockHeight(42)
	if got := testutil.ToFloat64(m.blockHeight); got != 42 {
		t.Fatalf("unexpected block height %v", got)
	}

	var nilMetrics *moduleMetrics
	nilMetrics.Observe("farm", "deposit", OutcomeCommitted, 0)
	nilMetrics.RecordThrottle("api", "rate_limit")
}

func TestEventMetricsRecord(t *testing.T) {
	m := Events()
	minted := m.rewardsMinted.WithLabelValues("7")
	before := testutil.ToFloat64(minted)
	m.Record(events.RewardMinted{Pool: 7, Amount: big.NewInt(250)})
	if got := testutil.ToFloat64(minted); got != before+250 {
		t.Fatalf("expected minted %v, got %v", before+250, got)
	}

	strategy := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	fees := m.performanceFees.WithLabelValues("0x00000000000000000000000000000000000000c1")
	before = testutil.ToFloat64(fees)
	m.Record(events.PerformanceFee{Strategy: strategy, Yield: big.NewInt(100), Amount: big.NewInt(10)})
	if got := testutil.ToFloat64(fees); got != before+10 {
		t.Fatalf("expected fee %v, got %v", before+10, got)
	}

	emitted := m.emitted.WithLabelValues(events.TypePerformanceFee)
	before = testutil.ToFloat64(emitted)
	m.Record(events.PerformanceFee{Strategy: strategy})
	if got := testutil.ToFloat64(emitted); got != before+1 {
		t.Fatalf("expected emitted counter to advance")
	}
}
