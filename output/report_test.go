package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"goshawk/core"
)

func populatedSummary() *core.DetectionSummary {
	s := core.NewDetectionSummary()
	s.ObserveEvents(100)
	s.ObserveEventWithHits(10)
	s.LevelWithHits[core.LevelHigh] = map[string]int{"Root login": 7, "Trail deleted": 3}
	s.DatesWithHits[core.LevelHigh] = map[string]int{"2023-07-10": 6, "2023-07-11": 4}
	s.AuthorTitles["alice"] = map[string]struct{}{"Root login": {}, "Trail deleted": {}}
	return s
}

func renderReport(r *Report, s *core.DetectionSummary) string {
	var buf bytes.Buffer
	r.Out = &buf
	r.NoColor = true
	r.Print(s, 42, nil)
	return buf.String()
}

func TestReportPrint(t *testing.T) {
	out := renderReport(&Report{}, populatedSummary())

	assert.Contains(t, out, "Results Summary")
	assert.Contains(t, out, "Events analyzed: 100")
	assert.Contains(t, out, "Events with hits: 10")
	assert.Contains(t, out, "Data reduction: 90 events (90.00%)")
	assert.Contains(t, out, "Rules loaded: 42")
	assert.Contains(t, out, "Total | Unique high detections: 10 (100.00%) | 2 (100.00%)")
	assert.Contains(t, out, "Dates with most total high detections: 2023-07-10 (6)")
	assert.Contains(t, out, "Top high alerts:")
	assert.Contains(t, out, "Root login (7)")
	assert.Contains(t, out, "alice (2)")
	assert.Contains(t, out, "Not enough detections to draw a timeline.")
}

func TestReportEmptyScan(t *testing.T) {
	out := renderReport(&Report{}, core.NewDetectionSummary())
	// Division guards: an empty scan reports zero percentages.
	assert.Contains(t, out, "Data reduction: 0 events (0.00%)")
	assert.Contains(t, out, "Total | Unique critical detections: 0 (0.00%) | 0 (0.00%)")
	assert.NotContains(t, out, "Top")
	assert.NotContains(t, out, "First event time")
}

func TestReportNoSummary(t *testing.T) {
	out := renderReport(&Report{NoSummary: true}, populatedSummary())
	assert.Contains(t, out, "Events analyzed: 100")
	assert.NotContains(t, out, "Top high alerts:")
	assert.NotContains(t, out, "Rule authors:")
}

func TestReportNoFrequency(t *testing.T) {
	out := renderReport(&Report{NoFrequency: true}, populatedSummary())
	assert.NotContains(t, out, "timeline")
}

func TestReportFrequencyTimeline(t *testing.T) {
	s := populatedSummary()
	base := int64(1688986800) // 2023-07-10T11:00:00Z
	for i := int64(0); i < 10; i++ {
		s.Timestamps = append(s.Timestamps, base+i*600)
	}
	out := renderReport(&Report{}, s)
	assert.Contains(t, out, "Detection frequency timeline:")
	assert.NotContains(t, out, "Not enough detections")
	assert.Contains(t, out, "█")
}

func TestSparkline(t *testing.T) {
	line := sparkline([]int64{0, 0, 0, 50, 100}, 10)
	runes := []rune(line)
	assert.Len(t, runes, 10)
	assert.Equal(t, '█', runes[0], "busiest bucket renders the tallest tick")

	// A single instant still renders without dividing by zero.
	line = sparkline([]int64{42, 42}, 10)
	assert.Len(t, []rune(line), 10)
}

func TestReportOutputPaths(t *testing.T) {
	var buf bytes.Buffer
	r := &Report{Out: &buf, NoColor: true}
	r.Print(core.NewDetectionSummary(), 0, []string{"results.csv", "results.json"})
	out := buf.String()
	assert.Contains(t, out, "Saved results to results.csv")
	assert.Contains(t, out, "Saved results to results.json")
	assert.Equal(t, 1, strings.Count(out, "results.json"))
}
