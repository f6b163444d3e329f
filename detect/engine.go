package detect

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"goshawk/core"
	"goshawk/ingest"
	"goshawk/metrics"
	"goshawk/output"
)

// Engine drives one scan: chunks arrive sequentially from the source,
// each chunk's events are normalized and matched in parallel on the
// worker pool, then reduced serially into the summary and the output
// sinks. Base-rule matches are retained in a global timeline; after the
// walk finishes a single correlation pass evaluates it, so windows
// spanning chunk and file boundaries are never missed. Contributing
// events of a matched group are emitted and counted during that pass,
// never during ingestion, so groups that stay below threshold leave no
// trace in the output or the statistics.
type Engine struct {
	RuleSet   *RuleSet
	Source    *core.LogSource
	Filter    *core.TimeFilter
	Pool      *core.WorkerPool
	Projector *output.Projector
	Writers   *output.Writers
	Summary   *core.DetectionSummary
	Evaluator core.CorrelationEvaluator
	Logger    *zap.SugaredLogger

	// baseRules is the name-sorted view of RuleSet.BaseRules so every
	// event tests base rules in a reproducible order.
	baseRules []*core.Rule
	// counted tracks timeline events already credited to EventWithHits,
	// so a contributor of a matched generate correlation that also hit a
	// standalone rule is not counted twice.
	counted map[*core.Event]struct{}

	mu       sync.Mutex
	timeline []*core.TimestampedEvent
	writeErr error
}

// eventOutcome is the parallel phase's per-record result, consumed in
// order by the serialized reduction.
type eventOutcome struct {
	raw      interface{}
	event    *core.Event
	ts       time.Time
	hasTS    bool
	hits     []*core.Rule
	baseHits []*core.Rule
}

// Scan runs the full pipeline over one source. The writers are left
// open on every return path; the caller owns FlushAll.
func (e *Engine) Scan(src ingest.Source) error {
	e.prepare()

	if err := e.Writers.WriteHeader(); err != nil {
		return err
	}
	if err := src.Walk(e.processChunk); err != nil {
		return err
	}
	if err := e.firstErr(); err != nil {
		return err
	}
	return e.correlate()
}

func (e *Engine) prepare() {
	names := make([]string, 0, len(e.RuleSet.BaseRules))
	for name := range e.RuleSet.BaseRules {
		names = append(names, name)
	}
	sort.Strings(names)
	e.baseRules = e.baseRules[:0]
	for _, name := range names {
		e.baseRules = append(e.baseRules, e.RuleSet.BaseRules[name])
	}

	e.counted = make(map[*core.Event]struct{})
}

// processChunk fans one chunk out across the pool, waits for the
// parallel phase, then reduces serially. The source delivers chunks
// one at a time, so reductions never overlap.
func (e *Engine) processChunk(records []interface{}) {
	if e.firstErr() != nil {
		return
	}

	outcomes := make([]eventOutcome, len(records))
	span := (len(records) + e.Pool.Workers() - 1) / e.Pool.Workers()
	if span < 1 {
		span = 1
	}

	var wg sync.WaitGroup
	for start := 0; start < len(records); start += span {
		end := start + span
		if end > len(records) {
			end = len(records)
		}
		lo, hi := start, end
		wg.Add(1)
		task := func() {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				outcomes[i] = e.evaluate(records[i])
			}
		}
		if err := e.Pool.Submit(task); err != nil {
			// Pool unavailable; degrade to inline execution.
			task()
		}
	}
	wg.Wait()

	e.reduce(outcomes)
}

// evaluate normalizes one raw record and tests it against every active
// rule. Read-only against shared state, safe for the parallel phase.
func (e *Engine) evaluate(raw interface{}) eventOutcome {
	out := eventOutcome{raw: raw}

	ev, err := core.NewEvent(raw)
	if err != nil {
		return out
	}

	ts, tsErr := ev.Timestamp(e.Source.TimestampField)
	if tsErr == nil {
		out.ts = ts
		out.hasTS = true
	}
	if e.Filter.Enabled() {
		// With a window configured, records whose time cannot be
		// established are excluded rather than guessed at.
		if tsErr != nil || !e.Filter.Keep(ts) {
			return out
		}
	}
	out.event = ev

	for _, rule := range e.RuleSet.Rules {
		if rule.Matches(ev) {
			out.hits = append(out.hits, rule)
		}
	}
	for _, base := range e.baseRules {
		if base.Matches(ev) {
			out.baseHits = append(out.baseHits, base)
		}
	}
	return out
}

// reduce folds one chunk's outcomes into the summary, the sinks and
// the correlation timeline, in record order.
func (e *Engine) reduce(outcomes []eventOutcome) {
	timer := prometheus.NewTimer(metrics.ChunkReductionDuration)
	defer timer.ObserveDuration()

	kept := 0
	eventsWithHits := 0
	for i := range outcomes {
		o := &outcomes[i]
		if o.event == nil {
			continue
		}
		kept++

		counted := false
		for _, rule := range o.hits {
			if err := e.emitMatch(o, rule); err != nil {
				e.setErr(err)
				return
			}
			counted = true
		}
		// Base-rule matches only feed the timeline here; whether they
		// surface at all is decided by the correlation pass.
		if o.hasTS {
			for _, base := range o.baseHits {
				e.appendTimeline(&core.TimestampedEvent{Event: o.event, Raw: o.raw, Timestamp: o.ts, Rule: base})
			}
			if counted && len(o.baseHits) > 0 {
				e.counted[o.event] = struct{}{}
			}
		}
		if counted {
			eventsWithHits++
		}
	}

	e.Summary.ObserveEvents(kept)
	e.Summary.ObserveEventWithHits(eventsWithHits)
	metrics.EventsProcessed.Add(float64(kept))
}

func (e *Engine) emitMatch(o *eventOutcome, rule *core.Rule) error {
	values := e.Projector.ProjectMatch(o.event, rule)
	if err := e.Writers.WriteRecord(values, o.raw, e.Projector.SigmaColumns(rule)); err != nil {
		return err
	}
	e.Summary.ObserveMatch(o.ts, rule, true)
	metrics.EventsMatched.WithLabelValues(rule.Level).Inc()
	return nil
}

func (e *Engine) appendTimeline(ev *core.TimestampedEvent) {
	e.mu.Lock()
	e.timeline = append(e.timeline, ev)
	e.mu.Unlock()
}

// correlate runs the single post-ingestion correlation pass. Each
// matched group emits its aggregated record, and with the generate
// flag set its contributing events as ordinary detection records too.
// Unmatched groups emit nothing and count nothing.
func (e *Engine) correlate() error {
	if e.Evaluator == nil || len(e.timeline) == 0 {
		return nil
	}
	results, err := e.Evaluator.Process(e.timeline)
	if err != nil {
		// Per-event results are already written and stay valid; only
		// the correlation output is forfeited.
		e.Logger.Errorw("correlation failed, skipping correlation results", "error", err)
		return nil
	}
	for _, res := range results {
		if !res.Matched {
			e.Logger.Debugw("correlation group below threshold",
				"rule", res.Rule.Title,
				"group", res.GroupKey,
				"events", len(res.Events))
			continue
		}
		if res.Rule.Correlation.Generate {
			if err := e.emitContributors(res.Events); err != nil {
				return err
			}
		} else {
			for _, ev := range res.Events {
				e.Summary.ObserveMatch(ev.Timestamp, ev.Rule, false)
			}
		}
		values := e.Projector.ProjectCorrelation(res.Events, res.Rule)
		if err := e.Writers.WriteRecord(values, nil, nil); err != nil {
			return err
		}
		var last time.Time
		if n := len(res.Events); n > 0 {
			last = res.Events[n-1].Timestamp
		}
		e.Summary.ObserveCorrelation(res.Rule, last)
		metrics.CorrelationMatches.Inc()
	}
	return nil
}

// emitContributors writes each contributing event of a matched
// generate-flagged group as a regular detection record, credited to
// the base rule that matched it.
func (e *Engine) emitContributors(events []*core.TimestampedEvent) error {
	fresh := 0
	for _, ev := range events {
		values := e.Projector.ProjectMatch(ev.Event, ev.Rule)
		if err := e.Writers.WriteRecord(values, ev.Raw, e.Projector.SigmaColumns(ev.Rule)); err != nil {
			return err
		}
		e.Summary.ObserveMatch(ev.Timestamp, ev.Rule, true)
		metrics.EventsMatched.WithLabelValues(ev.Rule.Level).Inc()
		if _, ok := e.counted[ev.Event]; !ok {
			e.counted[ev.Event] = struct{}{}
			fresh++
		}
	}
	e.Summary.ObserveEventWithHits(fresh)
	return nil
}

func (e *Engine) setErr(err error) {
	e.mu.Lock()
	if e.writeErr == nil {
		e.writeErr = err
	}
	e.mu.Unlock()
}

func (e *Engine) firstErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writeErr
}
