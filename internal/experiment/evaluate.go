package experiment

import (
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/variantlab/trafficsplit/internal/monitoring"
	"github.com/variantlab/trafficsplit/internal/reporting"
)

// Evaluator assigns page views to experiment variants. The reporting
// sink and the random source are injected; the evaluator itself holds
// no per-experiment state, so one instance serves every experiment.
type Evaluator struct {
	sink    reporting.Sink
	logger  *monitoring.Logger
	metrics *monitoring.Metrics

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEvaluator creates an evaluator. sink must be non-nil (use a guarded
// sink so reporter failures cannot reach the caller); rng defaults to a
// crypto-seeded source when nil. logger and metrics may each be nil.
func NewEvaluator(sink reporting.Sink, rng *rand.Rand, logger *monitoring.Logger, metrics *monitoring.Metrics) *Evaluator {
	if rng == nil {
		rng = NewSeededRand()
	}
	return &Evaluator{
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		rng:     rng,
	}
}

// Evaluate resolves the variant for one page view and reports it.
//
// Resolution order:
//  1. automated traffic is skipped outright, even when the URL also
//     carries a forced selector: synthetic page views must never reach
//     the analytics stream.
//  2. the first configured selector found in the raw query string wins
//     (exact substring match, no parameter parsing, so ad-hoc marketing
//     links stay compatible).
//  3. otherwise a weighted random draw over the variants.
//
// Exactly one record is pushed to the sink per returned Assignment; a
// Skipped outcome pushes nothing. Evaluate does not dedupe: calling it
// twice for the same page view double-reports, and on the random path
// may draw two different variants. Invoke it once per page view.
func (ev *Evaluator) Evaluate(exp Experiment, loc *url.URL, automated bool) (Outcome, error) {
	start := time.Now()

	if err := exp.Validate(); err != nil {
		return Outcome{}, err
	}

	rawQuery := ""
	if loc != nil {
		rawQuery = loc.RawQuery
	}

	if automated {
		if ev.metrics != nil {
			ev.metrics.IncrementSkipped()
		}
		if ev.logger != nil {
			ev.logger.EvaluationLogger(exp.ID, "", "", true, time.Since(start))
		}
		return Outcome{Skipped: true}, nil
	}

	assignment, ok := ev.forced(exp, rawQuery)
	if !ok {
		assignment = ev.draw(exp)
	}

	ev.report(assignment)

	if ev.metrics != nil {
		ev.metrics.RecordAssignment(string(assignment.Source), assignment.VariantName)
	}
	if ev.logger != nil {
		ev.logger.EvaluationLogger(exp.ID, assignment.VariantName, string(assignment.Source), false, time.Since(start))
	}

	return Outcome{Assignment: assignment}, nil
}

// EvaluateURL is Evaluate with the automation flag derived from the URL
// itself, for callers that do not detect automation separately.
func (ev *Evaluator) EvaluateURL(exp Experiment, loc *url.URL) (Outcome, error) {
	rawQuery := ""
	if loc != nil {
		rawQuery = loc.RawQuery
	}
	return ev.Evaluate(exp, loc, IsAutomated(rawQuery))
}

// forced returns the assignment pinned by the URL, if any. The first
// variant in configured order whose selector appears in the query wins.
func (ev *Evaluator) forced(exp Experiment, rawQuery string) (Assignment, bool) {
	if rawQuery == "" {
		return Assignment{}, false
	}
	for _, v := range exp.Variants {
		if strings.Contains(rawQuery, v.Selector) {
			return Assignment{
				ExperimentID: exp.ID,
				VariantName:  v.Name,
				Source:       SourceForced,
			}, true
		}
	}
	return Assignment{}, false
}

// draw performs the weighted random draw: a uniform value in
// [0, totalWeight), then a cumulative walk in variant order.
func (ev *Evaluator) draw(exp Experiment) Assignment {
	ev.mu.Lock()
	n := ev.rng.Intn(exp.TotalWeight())
	ev.mu.Unlock()

	cumulative := 0
	chosen := exp.Variants[len(exp.Variants)-1]
	for _, v := range exp.Variants {
		cumulative += v.Weight
		if n < cumulative {
			chosen = v
			break
		}
	}

	return Assignment{
		ExperimentID: exp.ID,
		VariantName:  chosen.Name,
		Source:       SourceRandom,
	}
}

// report pushes the single analytics record for an assignment. The sink
// boundary is best-effort: a missing sink reports nothing.
func (ev *Evaluator) report(a Assignment) {
	if ev.sink == nil {
		return
	}
	ev.sink.Push(reporting.Record{
		reporting.KeyEvent:      reporting.EventExperimentView,
		reporting.KeyExperiment: a.ExperimentID,
		reporting.KeyVariant:    a.VariantName,
		reporting.KeySource:     string(a.Source),
	})
}
