package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/tidectl/internal/testutil/testlog"
)

// stubProvider serves canned samples keyed by expression.
type stubProvider struct {
	samples map[string][]Sample
	err     error
}

func (s *stubProvider) Query(ctx context.Context, expr string, window time.Duration) ([]Sample, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.samples[expr], nil
}

func points(values ...float64) []Sample {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]Sample, len(values))
	for i, v := range values {
		out[i] = Sample{At: base.Add(time.Duration(i) * 15 * time.Second), Value: v}
	}
	return out
}

func f(v float64) *float64 { return &v }

func errorRateSpec() Spec {
	return Spec{
		Queries: []Query{{
			Name:       "error-rate",
			Expr:       "errors",
			Window:     time.Minute,
			MinSamples: 3,
			Reducer:    ReduceAvg,
			Max:        f(0.05),
		}},
		Policy:             PolicyAllMustPass,
		InconclusiveBudget: 3,
	}
}

func TestEvaluatePassAndFail(t *testing.T) {
	testlog.Start(t)
	provider := &stubProvider{samples: map[string][]Sample{
		"errors": points(0.01, 0.02, 0.01),
	}}
	eng, err := NewEngine("api", provider, errorRateSpec())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	run := eng.Evaluate(context.Background())
	if run.Verdict != VerdictPass {
		t.Fatalf("expected pass, got %s (%s)", run.Verdict, run.Reason)
	}

	provider.samples["errors"] = points(0.2, 0.3, 0.4)
	run = eng.Evaluate(context.Background())
	if run.Verdict != VerdictFail {
		t.Fatalf("expected fail, got %s", run.Verdict)
	}
	if !strings.Contains(run.Reason, "above max") {
		t.Fatalf("reason missing threshold detail: %s", run.Reason)
	}
}

func TestEvaluateMinThreshold(t *testing.T) {
	testlog.Start(t)
	spec := Spec{
		Queries: []Query{{
			Name: "success-ratio", Expr: "success", MinSamples: 1,
			Reducer: ReduceLast, Min: f(0.99),
		}},
	}
	provider := &stubProvider{samples: map[string][]Sample{
		"success": points(0.999, 0.95),
	}}
	eng, err := NewEngine("api", provider, spec)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	run := eng.Evaluate(context.Background())
	if run.Verdict != VerdictFail {
		t.Fatalf("expected fail on last sample below min, got %s", run.Verdict)
	}
}

func TestInconclusiveBudgetEscalatesToFail(t *testing.T) {
	testlog.Start(t)
	provider := &stubProvider{err: errors.New("scrape gap")}
	eng, err := NewEngine("api", provider, errorRateSpec())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	for i := 0; i < 2; i++ {
		run := eng.Evaluate(context.Background())
		if run.Verdict != VerdictInconclusive {
			t.Fatalf("run %d: expected inconclusive, got %s", i, run.Verdict)
		}
	}
	run := eng.Evaluate(context.Background())
	if run.Verdict != VerdictFail {
		t.Fatalf("expected budget exhaustion to fail, got %s", run.Verdict)
	}
	if !strings.Contains(run.Reason, "budget") {
		t.Fatalf("reason missing budget detail: %s", run.Reason)
	}
}

func TestPassResetsInconclusiveBudget(t *testing.T) {
	testlog.Start(t)
	provider := &stubProvider{samples: map[string][]Sample{}}
	eng, err := NewEngine("api", provider, errorRateSpec())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	// Two inconclusive runs from missing samples, then a healthy one.
	for i := 0; i < 2; i++ {
		if run := eng.Evaluate(context.Background()); run.Verdict != VerdictInconclusive {
			t.Fatalf("expected inconclusive, got %s", run.Verdict)
		}
	}
	provider.samples["errors"] = points(0.01, 0.01, 0.02)
	if run := eng.Evaluate(context.Background()); run.Verdict != VerdictPass {
		t.Fatalf("expected pass, got %s", run.Verdict)
	}

	// The counter reset, so two more gaps stay inconclusive.
	provider.samples = map[string][]Sample{}
	for i := 0; i < 2; i++ {
		if run := eng.Evaluate(context.Background()); run.Verdict != VerdictInconclusive {
			t.Fatalf("post-reset run %d escalated early: %s", i, run.Verdict)
		}
	}
}

func TestMaxRateCatchesSpike(t *testing.T) {
	testlog.Start(t)
	spec := Spec{
		Queries: []Query{{
			Name: "latency", Expr: "latency", MinSamples: 3,
			Reducer: ReduceAvg, Max: f(1.0), MaxRate: f(0.1),
		}},
	}
	provider := &stubProvider{samples: map[string][]Sample{
		"latency": points(0.20, 0.22, 0.21),
	}}
	eng, err := NewEngine("api", provider, spec)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if run := eng.Evaluate(context.Background()); run.Verdict != VerdictPass {
		t.Fatalf("steady series should pass, got %s (%s)", run.Verdict, run.Reason)
	}

	// Average stays under Max, but the jump between samples trips MaxRate.
	provider.samples["latency"] = points(0.20, 0.55, 0.50)
	run := eng.Evaluate(context.Background())
	if run.Verdict != VerdictFail {
		t.Fatalf("expected rate failure, got %s", run.Verdict)
	}
	if !strings.Contains(run.Reason, "max rate") {
		t.Fatalf("reason missing rate detail: %s", run.Reason)
	}
}

func TestAnyCanPassPolicy(t *testing.T) {
	testlog.Start(t)
	spec := Spec{
		Policy: PolicyAnyCanPass,
		Queries: []Query{
			{Name: "latency", Expr: "latency", MinSamples: 1, Reducer: ReduceMax, Max: f(0.5)},
			{Name: "errors", Expr: "errors", MinSamples: 1, Reducer: ReduceAvg, Max: f(0.05)},
		},
	}
	provider := &stubProvider{samples: map[string][]Sample{
		"latency": points(2.0),
		"errors":  points(0.01),
	}}
	eng, err := NewEngine("api", provider, spec)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	run := eng.Evaluate(context.Background())
	if run.Verdict != VerdictPass {
		t.Fatalf("expected one passing query to carry, got %s (%s)", run.Verdict, run.Reason)
	}
}

func TestNewEngineRejectsBadSpecs(t *testing.T) {
	testlog.Start(t)
	provider := &stubProvider{}

	if _, err := NewEngine("api", provider, Spec{}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery for empty spec, got %v", err)
	}
	spec := Spec{Queries: []Query{{Name: "q", Expr: "x"}}}
	if _, err := NewEngine("api", provider, spec); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery for thresholdless query, got %v", err)
	}
}
