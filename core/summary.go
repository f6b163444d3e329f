package core

import (
	"sort"
	"time"
)

// histogramMinSamples is the minimum number of recorded detection
// timestamps needed to render the frequency timeline.
const histogramMinSamples = 5

// DetectionSummary is the single-owner running accumulator for a scan.
// It is mutated only during each chunk's serialized reduction phase
// and during the correlation-application pass, never concurrently.
type DetectionSummary struct {
	TotalEvents   int
	EventWithHits int

	// LevelWithHits maps level -> rule title -> hit count.
	LevelWithHits map[string]map[string]int
	// DatesWithHits maps level -> date (YYYY-MM-DD) -> hit count.
	DatesWithHits map[string]map[string]int
	// AuthorTitles maps rule author -> set of rule titles.
	AuthorTitles map[string]map[string]struct{}

	// Timestamps collects the unix time of every recorded hit, in
	// emission order, for the frequency timeline.
	Timestamps []int64

	FirstEventTime *time.Time
	LastEventTime  *time.Time
}

// NewDetectionSummary returns an empty summary.
func NewDetectionSummary() *DetectionSummary {
	return &DetectionSummary{
		LevelWithHits: make(map[string]map[string]int),
		DatesWithHits: make(map[string]map[string]int),
		AuthorTitles:  make(map[string]map[string]struct{}),
	}
}

// ObserveEvents counts records that survived normalization, matched or
// not.
func (s *DetectionSummary) ObserveEvents(n int) {
	s.TotalEvents += n
}

// ObserveEventWithHits counts events that matched at least one rule.
// An event counts once regardless of how many rules matched it.
func (s *DetectionSummary) ObserveEventWithHits(n int) {
	s.EventWithHits += n
}

// ObserveMatch records one (event, rule) hit. Maps are keyed by rule
// title: two rules sharing a title are indistinguishable here, which
// matches the report semantics. When counted is false (contributors of
// a matched generate=false correlation group) only the timestamp
// series and first/last times advance.
func (s *DetectionSummary) ObserveMatch(ts time.Time, rule *Rule, counted bool) {
	if counted {
		s.creditTitle(rule.Author, rule.Level, rule.Title)
	}
	if ts.IsZero() {
		return
	}
	s.observeTime(ts)
	if counted && rule.Level != "" {
		s.creditDate(rule.Level, ts)
	}
}

// ObserveCorrelation records one matched correlation group using the
// correlation rule's own metadata. lastEvent is the timestamp of the
// final contributing event.
func (s *DetectionSummary) ObserveCorrelation(rule *CorrelationRule, lastEvent time.Time) {
	s.creditTitle(rule.Author, rule.Level, rule.Title)
	if rule.Level != "" && !lastEvent.IsZero() {
		s.creditDate(rule.Level, lastEvent)
	}
}

func (s *DetectionSummary) creditTitle(author, level, title string) {
	if author != "" {
		set, ok := s.AuthorTitles[author]
		if !ok {
			set = make(map[string]struct{})
			s.AuthorTitles[author] = set
		}
		set[title] = struct{}{}
	}
	if level != "" {
		hits, ok := s.LevelWithHits[level]
		if !ok {
			hits = make(map[string]int)
			s.LevelWithHits[level] = hits
		}
		hits[title]++
	}
}

func (s *DetectionSummary) creditDate(level string, ts time.Time) {
	date := ts.UTC().Format("2006-01-02")
	dates, ok := s.DatesWithHits[level]
	if !ok {
		dates = make(map[string]int)
		s.DatesWithHits[level] = dates
	}
	dates[date]++
}

func (s *DetectionSummary) observeTime(ts time.Time) {
	s.Timestamps = append(s.Timestamps, ts.Unix())
	if s.FirstEventTime == nil || ts.Before(*s.FirstEventTime) {
		t := ts
		s.FirstEventTime = &t
	}
	if s.LastEventTime == nil || ts.After(*s.LastEventTime) {
		t := ts
		s.LastEventTime = &t
	}
}

// DataReduction returns how many events produced no detection and the
// percentage of the total they represent. A scan with zero events
// reduces nothing.
func (s *DetectionSummary) DataReduction() (int, float64) {
	reduced := s.TotalEvents - s.EventWithHits
	if s.TotalEvents == 0 {
		return 0, 0
	}
	return reduced, float64(reduced) * 100.0 / float64(s.TotalEvents)
}

// RuleHit is one (title, count) entry of a top-N view.
type RuleHit struct {
	Title string
	Count int
}

// TopRules returns up to n rule titles for a level, ordered by hit
// count descending. Ties break on title so output is stable across
// runs.
func (s *DetectionSummary) TopRules(level string, n int) []RuleHit {
	hits := s.LevelWithHits[level]
	out := make([]RuleHit, 0, len(hits))
	for title, count := range hits {
		out = append(out, RuleHit{Title: title, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Title < out[j].Title
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// BusiestDate returns the single date with the most hits for a level.
// Ties break on the earlier date for reproducibility.
func (s *DetectionSummary) BusiestDate(level string) (string, int, bool) {
	dates := s.DatesWithHits[level]
	if len(dates) == 0 {
		return "", 0, false
	}
	var bestDate string
	var bestCount int
	for date, count := range dates {
		if count > bestCount || (count == bestCount && (bestDate == "" || date < bestDate)) {
			bestDate, bestCount = date, count
		}
	}
	return bestDate, bestCount, true
}

// AuthorCounts returns each author's distinct detected rule-title
// count.
func (s *DetectionSummary) AuthorCounts() map[string]int {
	out := make(map[string]int, len(s.AuthorTitles))
	for author, titles := range s.AuthorTitles {
		out[author] = len(titles)
	}
	return out
}

// HistogramReady reports whether enough timestamps were recorded to
// draw the detection frequency timeline.
func (s *DetectionSummary) HistogramReady() bool {
	return len(s.Timestamps) >= histogramMinSamples
}
