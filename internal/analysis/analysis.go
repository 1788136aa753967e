package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/tidectl/internal/observability"
)

var (
	ErrProviderUnavailable = errors.New("analysis: provider unavailable")
	ErrInvalidQuery        = errors.New("analysis: invalid query")
)

// Verdicts. Inconclusive never promotes; repeated Inconclusive fails.
const (
	VerdictPass         = "pass"
	VerdictFail         = "fail"
	VerdictInconclusive = "inconclusive"
)

// Aggregation policies across queries.
const (
	PolicyAllMustPass = "all"
	PolicyAnyCanPass  = "any"
)

// Reducers collapse a sample window into one judged value.
const (
	ReduceAvg  = "avg"
	ReduceMin  = "min"
	ReduceMax  = "max"
	ReduceLast = "last"
)

// Sample is one observed metric point.
type Sample struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// Provider fetches samples for one metric expression over a lookback window.
type Provider interface {
	Query(ctx context.Context, expr string, window time.Duration) ([]Sample, error)
}

// Query is one judged metric. Min and Max bound the reduced value; MaxRate
// bounds the absolute change between consecutive samples, catching a metric
// that is still inside its bounds but moving too fast.
type Query struct {
	Name       string        `json:"name"`
	Expr       string        `json:"expr"`
	Window     time.Duration `json:"window"`
	MinSamples int           `json:"min_samples"`
	Reducer    string        `json:"reducer"`
	Min        *float64      `json:"min,omitempty"`
	Max        *float64      `json:"max,omitempty"`
	MaxRate    *float64      `json:"max_rate,omitempty"`
}

// Validate enforces query fields before the engine accepts a spec.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidQuery)
	}
	if strings.TrimSpace(q.Expr) == "" {
		return fmt.Errorf("%w: %s missing expr", ErrInvalidQuery, q.Name)
	}
	if q.Min == nil && q.Max == nil && q.MaxRate == nil {
		return fmt.Errorf("%w: %s has no thresholds", ErrInvalidQuery, q.Name)
	}
	switch q.Reducer {
	case "", ReduceAvg, ReduceMin, ReduceMax, ReduceLast:
	default:
		return fmt.Errorf("%w: %s reducer %q", ErrInvalidQuery, q.Name, q.Reducer)
	}
	return nil
}

// Spec configures one engine instance.
type Spec struct {
	Queries            []Query `json:"queries"`
	Policy             string  `json:"policy"`
	InconclusiveBudget int     `json:"inconclusive_budget"`
}

// DefaultSpec returns the engine defaults applied to zero fields.
func DefaultSpec() Spec {
	return Spec{Policy: PolicyAllMustPass, InconclusiveBudget: 3}
}

// QueryResult is one query's judged outcome inside a run.
type QueryResult struct {
	Name    string  `json:"name"`
	Verdict string  `json:"verdict"`
	Value   float64 `json:"value"`
	Samples int     `json:"samples"`
	Reason  string  `json:"reason,omitempty"`
}

// Run is the aggregated outcome of one evaluation pass.
type Run struct {
	ID      string        `json:"id"`
	Verdict string        `json:"verdict"`
	Results []QueryResult `json:"results"`
	Reason  string        `json:"reason,omitempty"`
	At      time.Time     `json:"at"`
}

// Engine evaluates a fixed query spec against one provider. It carries the
// consecutive-inconclusive counter between evaluations, so one engine serves
// one rollout at a time.
type Engine struct {
	name         string
	provider     Provider
	spec         Spec
	inconclusive int
}

// NewEngine validates the spec and builds an engine labeled by workload name.
func NewEngine(name string, p Provider, spec Spec) (*Engine, error) {
	if p == nil {
		return nil, errors.New("analysis: nil provider")
	}
	if spec.Policy == "" {
		spec.Policy = PolicyAllMustPass
	}
	if spec.Policy != PolicyAllMustPass && spec.Policy != PolicyAnyCanPass {
		return nil, fmt.Errorf("%w: policy %q", ErrInvalidQuery, spec.Policy)
	}
	if spec.InconclusiveBudget <= 0 {
		spec.InconclusiveBudget = DefaultSpec().InconclusiveBudget
	}
	if len(spec.Queries) == 0 {
		return nil, fmt.Errorf("%w: no queries", ErrInvalidQuery)
	}
	for _, q := range spec.Queries {
		if err := q.Validate(); err != nil {
			return nil, err
		}
	}
	return &Engine{name: strings.TrimSpace(name), provider: p, spec: spec}, nil
}

// Evaluate runs every query once and aggregates under the spec policy.
// An Inconclusive outcome consumes budget; exhausting the budget turns the
// run into a Fail. Pass and Fail both reset the budget.
func (e *Engine) Evaluate(ctx context.Context) Run {
	run := Run{ID: uuid.NewString(), At: time.Now().UTC()}
	for _, q := range e.spec.Queries {
		run.Results = append(run.Results, e.evaluateQuery(ctx, q))
	}
	run.Verdict, run.Reason = aggregate(e.spec.Policy, run.Results)

	if run.Verdict == VerdictInconclusive {
		e.inconclusive++
		if e.inconclusive >= e.spec.InconclusiveBudget {
			run.Verdict = VerdictFail
			run.Reason = fmt.Sprintf("inconclusive %d time(s) in a row, budget %d exhausted",
				e.inconclusive, e.spec.InconclusiveBudget)
		}
	} else {
		e.inconclusive = 0
	}

	observability.RecordAnalysisVerdict(e.name, run.Verdict)
	log.Info().
		Str("workload", e.name).
		Str("run", run.ID).
		Str("verdict", run.Verdict).
		Str("reason", run.Reason).
		Msg("analysis run complete")
	return run
}

func (e *Engine) evaluateQuery(ctx context.Context, q Query) QueryResult {
	res := QueryResult{Name: q.Name}

	samples, err := e.provider.Query(ctx, q.Expr, q.Window)
	if err != nil {
		res.Verdict = VerdictInconclusive
		res.Reason = err.Error()
		return res
	}
	res.Samples = len(samples)
	if len(samples) < q.MinSamples || len(samples) == 0 {
		res.Verdict = VerdictInconclusive
		res.Reason = fmt.Sprintf("%d sample(s), need %d", len(samples), q.MinSamples)
		return res
	}

	res.Value = reduce(q.Reducer, samples)
	if q.Max != nil && res.Value > *q.Max {
		res.Verdict = VerdictFail
		res.Reason = fmt.Sprintf("%.4f above max %.4f", res.Value, *q.Max)
		return res
	}
	if q.Min != nil && res.Value < *q.Min {
		res.Verdict = VerdictFail
		res.Reason = fmt.Sprintf("%.4f below min %.4f", res.Value, *q.Min)
		return res
	}
	if q.MaxRate != nil {
		if rate := steepestStep(samples); rate > *q.MaxRate {
			res.Verdict = VerdictFail
			res.Reason = fmt.Sprintf("step of %.4f exceeds max rate %.4f", rate, *q.MaxRate)
			return res
		}
	}
	res.Verdict = VerdictPass
	return res
}

// steepestStep returns the largest absolute change between consecutive
// samples. A single sample has no step and rates as zero.
func steepestStep(samples []Sample) float64 {
	var out float64
	for i := 1; i < len(samples); i++ {
		step := samples[i].Value - samples[i-1].Value
		if step < 0 {
			step = -step
		}
		if step > out {
			out = step
		}
	}
	return out
}

func reduce(reducer string, samples []Sample) float64 {
	switch reducer {
	case ReduceLast:
		return samples[len(samples)-1].Value
	case ReduceMin:
		out := samples[0].Value
		for _, s := range samples[1:] {
			if s.Value < out {
				out = s.Value
			}
		}
		return out
	case ReduceMax:
		out := samples[0].Value
		for _, s := range samples[1:] {
			if s.Value > out {
				out = s.Value
			}
		}
		return out
	default:
		var sum float64
		for _, s := range samples {
			sum += s.Value
		}
		return sum / float64(len(samples))
	}
}

// aggregate folds per-query verdicts under a policy. Under all-must-pass a
// single Fail dominates and any Inconclusive blocks a Pass; under
// any-can-pass one Pass suffices.
func aggregate(policy string, results []QueryResult) (string, string) {
	var fails, passes, inconclusive int
	var firstBad string
	for _, r := range results {
		switch r.Verdict {
		case VerdictFail:
			fails++
			if firstBad == "" {
				firstBad = fmt.Sprintf("%s: %s", r.Name, r.Reason)
			}
		case VerdictPass:
			passes++
		default:
			inconclusive++
			if firstBad == "" {
				firstBad = fmt.Sprintf("%s: %s", r.Name, r.Reason)
			}
		}
	}

	if policy == PolicyAnyCanPass {
		if passes > 0 {
			return VerdictPass, ""
		}
		if fails == len(results) {
			return VerdictFail, firstBad
		}
		return VerdictInconclusive, firstBad
	}

	if fails > 0 {
		return VerdictFail, firstBad
	}
	if inconclusive > 0 {
		return VerdictInconclusive, firstBad
	}
	return VerdictPass, ""
}
