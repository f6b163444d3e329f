package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"goshawk/core"
	"goshawk/util"
)

// topRulesPerLevel bounds the most-detected-rules listing.
const topRulesPerLevel = 5

// sparkTicks are the bar glyphs of the frequency timeline, lowest to
// highest.
var sparkTicks = []rune("▁▂▃▄▅▆▇█")

// sparkWidth is the number of buckets the frequency timeline is drawn
// with.
const sparkWidth = 50

// Report renders the end-of-scan results summary.
type Report struct {
	Out         io.Writer
	NoColor     bool
	NoSummary   bool
	NoFrequency bool
}

// Print writes the results summary for a finished scan.
func (r *Report) Print(sum *core.DetectionSummary, ruleCount int, outputPaths []string) {
	w := r.Out
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Results Summary")
	fmt.Fprintln(w)

	if !r.NoFrequency {
		r.printFrequency(sum)
	}

	if sum.FirstEventTime != nil {
		fmt.Fprintf(w, "First event time: %s\n", sum.FirstEventTime.UTC().Format("2006-01-02 15:04:05"))
	}
	if sum.LastEventTime != nil {
		fmt.Fprintf(w, "Last event time: %s\n", sum.LastEventTime.UTC().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Events analyzed: %s\n", util.FormatCount(sum.TotalEvents))
	fmt.Fprintf(w, "Events with hits: %s\n", util.FormatCount(sum.EventWithHits))
	reduced, pct := sum.DataReduction()
	fmt.Fprintf(w, "Data reduction: %s events (%.2f%%)\n", util.FormatCount(reduced), pct)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Rules loaded: %s\n", util.FormatCount(ruleCount))
	fmt.Fprintln(w)

	if !r.NoSummary {
		r.printLevelTotals(sum)
		r.printBusiestDates(sum)
		r.printTopRules(sum)
		r.printAuthors(sum)
	}

	for _, p := range outputPaths {
		fmt.Fprintf(w, "Saved results to %s\n", p)
	}
	if len(outputPaths) > 0 {
		fmt.Fprintln(w)
	}
}

// printLevelTotals prints total and unique detection counts per level,
// highest severity first.
func (r *Report) printLevelTotals(sum *core.DetectionSummary) {
	for _, level := range core.Levels {
		hits := sum.LevelWithHits[level]
		total := 0
		for _, c := range hits {
			total += c
		}
		pct := 0.0
		if sum.EventWithHits > 0 {
			pct = float64(total) * 100.0 / float64(sum.EventWithHits)
		}
		line := fmt.Sprintf("Total | Unique %s detections: %s (%.2f%%) | %s (%.2f%%)",
			level, util.FormatCount(total), pct,
			util.FormatCount(len(hits)), uniquePct(len(hits), sum))
		r.println(level, line)
	}
	fmt.Fprintln(r.Out)
}

func uniquePct(unique int, sum *core.DetectionSummary) float64 {
	totalUnique := 0
	for _, hits := range sum.LevelWithHits {
		totalUnique += len(hits)
	}
	if totalUnique == 0 {
		return 0
	}
	return float64(unique) * 100.0 / float64(totalUnique)
}

// printBusiestDates prints the single date with the most detections
// per level.
func (r *Report) printBusiestDates(sum *core.DetectionSummary) {
	printed := false
	for _, level := range core.Levels {
		date, count, ok := sum.BusiestDate(level)
		if !ok {
			continue
		}
		r.println(level, fmt.Sprintf("Dates with most total %s detections: %s (%s)",
			level, date, util.FormatCount(count)))
		printed = true
	}
	if printed {
		fmt.Fprintln(r.Out)
	}
}

// printTopRules prints the most-detected rule titles per level.
func (r *Report) printTopRules(sum *core.DetectionSummary) {
	printed := false
	for _, level := range core.Levels {
		top := sum.TopRules(level, topRulesPerLevel)
		if len(top) == 0 {
			continue
		}
		r.println(level, fmt.Sprintf("Top %s alerts:", level))
		for _, hit := range top {
			r.println(level, fmt.Sprintf("  %s (%s)", hit.Title, util.FormatCount(hit.Count)))
		}
		printed = true
	}
	if printed {
		fmt.Fprintln(r.Out)
	}
}

// printAuthors prints each rule author's distinct detected-rule count,
// most rules first.
func (r *Report) printAuthors(sum *core.DetectionSummary) {
	counts := sum.AuthorCounts()
	if len(counts) == 0 {
		return
	}
	type authorCount struct {
		author string
		count  int
	}
	rows := make([]authorCount, 0, len(counts))
	for author, count := range counts {
		rows = append(rows, authorCount{author, count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].author < rows[j].author
	})

	fmt.Fprintln(r.Out, "Rule authors:")
	for _, row := range rows {
		fmt.Fprintf(r.Out, "  %s (%s)\n", row.author, util.FormatCount(row.count))
	}
	fmt.Fprintln(r.Out)
}

// printFrequency draws the detection frequency timeline, or a notice
// when too few detections were recorded to bucket meaningfully.
func (r *Report) printFrequency(sum *core.DetectionSummary) {
	fmt.Fprintln(r.Out, "Detection frequency timeline:")
	if !sum.HistogramReady() {
		fmt.Fprintln(r.Out, "  Not enough detections to draw a timeline.")
		fmt.Fprintln(r.Out)
		return
	}
	fmt.Fprintf(r.Out, "  %s\n", sparkline(sum.Timestamps, sparkWidth))
	fmt.Fprintf(r.Out, "  %s%s%s\n",
		time.Unix(minInt64(sum.Timestamps), 0).UTC().Format("2006-01-02 15:04"),
		strings.Repeat(" ", sparkPadding),
		time.Unix(maxInt64(sum.Timestamps), 0).UTC().Format("2006-01-02 15:04"))
	fmt.Fprintln(r.Out)
}

// sparkPadding spaces the timeline's start and end labels apart.
const sparkPadding = 20

// sparkline buckets unix timestamps into width buckets and renders one
// tick per bucket scaled to the busiest bucket.
func sparkline(timestamps []int64, width int) string {
	lo, hi := minInt64(timestamps), maxInt64(timestamps)
	buckets := make([]int, width)
	span := hi - lo
	for _, ts := range timestamps {
		idx := 0
		if span > 0 {
			idx = int((ts - lo) * int64(width-1) / span)
		}
		buckets[idx]++
	}
	peak := 0
	for _, b := range buckets {
		if b > peak {
			peak = b
		}
	}
	out := make([]rune, width)
	for i, b := range buckets {
		if b == 0 {
			out[i] = sparkTicks[0]
			continue
		}
		tick := (b*(len(sparkTicks)-1) + peak - 1) / peak
		out[i] = sparkTicks[tick]
	}
	return string(out)
}

func minInt64(values []int64) int64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxInt64(values []int64) int64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func (r *Report) println(level, line string) {
	if r.NoColor {
		fmt.Fprintln(r.Out, line)
		return
	}
	c := levelColor(core.AbbreviateLevel(level))
	fmt.Fprintln(r.Out, c.Sprint(line))
}
