package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewCollectorRegistersEveryMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SignalsGenerated.WithLabelValues("BTCUSDT", "trending").Inc()
	c.SignalsRejected.WithLabelValues("tier1 gate failed").Inc()
	c.ActiveTrades.Set(2)
	c.LifecycleEvents.WithLabelValues("PARTIAL_EXIT").Inc()
	c.DailyPnLPct.Set(1.5)
	c.FeedReconnects.Inc()
	c.EngineDegraded.Set(1)
	c.WinRatePct.Set(60)
	c.ProfitFactor.Set(1.8)
	c.SharpeRatio.Set(0.9)

	if got := testutil.ToFloat64(c.ActiveTrades); got != 2 {
		t.Fatalf("expected ActiveTrades gauge to read 2, got %v", got)
	}
	if got := testutil.ToFloat64(c.DailyPnLPct); got != 1.5 {
		t.Fatalf("expected DailyPnLPct gauge to read 1.5, got %v", got)
	}
	if got := testutil.ToFloat64(c.EngineDegraded); got != 1 {
		t.Fatalf("expected EngineDegraded gauge to read 1, got %v", got)
	}
	if got := testutil.ToFloat64(c.ProfitFactor); got != 1.8 {
		t.Fatalf("expected ProfitFactor gauge to read 1.8, got %v", got)
	}
	if got := testutil.ToFloat64(c.SharpeRatio); got != 0.9 {
		t.Fatalf("expected SharpeRatio gauge to read 0.9, got %v", got)
	}

	count, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("gathering registered metrics: %v", err)
	}
	if count == 0 {
		t.Fatal("expected at least one metric sample registered against the registry")
	}
}
