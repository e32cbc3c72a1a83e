package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := pagesFetchedTotal
	Init()
	if pagesFetchedTotal != first {
		t.Fatal("Init() replaced collectors on second call")
	}
	if runsTotal == nil || phaseDurationSeconds == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	ObservePage("ok")
	before := testutil.ToFloat64(pagesFetchedTotal.WithLabelValues("ok"))
	ObservePage("ok")
	if got := testutil.ToFloat64(pagesFetchedTotal.WithLabelValues("ok")); got != before+1 {
		t.Errorf("expected pages ok to grow by 1, got %f -> %f", before, got)
	}

	extracted := testutil.ToFloat64(recordsExtractedTotal)
	ObserveRecordsExtracted(5)
	ObserveRecordsExtracted(0)
	if got := testutil.ToFloat64(recordsExtractedTotal); got != extracted+5 {
		t.Errorf("expected extracted to grow by 5, got %f -> %f", extracted, got)
	}

	loaded := testutil.ToFloat64(recordsLoadedTotal.WithLabelValues("gdp"))
	ObserveRecordsLoaded("gdp", 3)
	if got := testutil.ToFloat64(recordsLoadedTotal.WithLabelValues("gdp")); got != loaded+3 {
		t.Errorf("expected gdp rows to grow by 3, got %f -> %f", loaded, got)
	}

	skipped := testutil.ToFloat64(recordsSkippedTotal)
	ObserveRecordsSkipped(2)
	if got := testutil.ToFloat64(recordsSkippedTotal); got != skipped+2 {
		t.Errorf("expected skipped to grow by 2, got %f -> %f", skipped, got)
	}

	attempts := testutil.ToFloat64(phaseAttemptsTotal.WithLabelValues("load"))
	ObservePhase("load", "ok", 250*time.Millisecond)
	if got := testutil.ToFloat64(phaseAttemptsTotal.WithLabelValues("load")); got != attempts+1 {
		t.Errorf("expected load attempts to grow by 1, got %f -> %f", attempts, got)
	}

	ObserveRateLimitDelay("api.worldbank.org", 200*time.Millisecond)
	if got := testutil.CollectAndCount(rateLimitDelaySeconds); got < 1 {
		t.Errorf("expected a rate limit delay series, got %d", got)
	}

	runs := testutil.ToFloat64(runsTotal.WithLabelValues("succeeded"))
	ObserveRun("succeeded")
	if got := testutil.ToFloat64(runsTotal.WithLabelValues("succeeded")); got != runs+1 {
		t.Errorf("expected succeeded runs to grow by 1, got %f -> %f", runs, got)
	}

	side := testutil.ToFloat64(sideOutputsTotal.WithLabelValues("mirror", "failed"))
	ObserveSideOutput("mirror", "failed")
	if got := testutil.ToFloat64(sideOutputsTotal.WithLabelValues("mirror", "failed")); got != side+1 {
		t.Errorf("expected mirror failures to grow by 1, got %f -> %f", side, got)
	}
}
