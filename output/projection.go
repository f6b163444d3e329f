package output

import (
	"sort"
	"strings"

	"goshawk/core"
	"goshawk/geoip"
)

// missingValue fills columns with no answer.
const missingValue = "-"

// correlationJoin separates deduplicated values concatenated into one
// aggregated correlation column.
const correlationJoin = " ¦ "

// Projector maps matched events and correlation groups onto the
// profile's ordered columns.
type Projector struct {
	Profile  Profile
	Source   *core.LogSource
	Enricher *geoip.Enricher
}

// ProjectMatch produces one ordered value per column for a matched
// (event, rule) pair.
func (p *Projector) ProjectMatch(event *core.Event, rule *core.Rule) []string {
	values := make([]string, len(p.Profile))
	for i, col := range p.Profile {
		values[i] = p.extract(col.Expr, event, ruleMeta(rule))
	}
	return values
}

// ProjectCorrelation produces the aggregated record for one matched
// correlation group: per column, the deduplicated sorted values of all
// contributing events joined together, except the timestamp column,
// which carries only the last contributing event's time.
func (p *Projector) ProjectCorrelation(events []*core.TimestampedEvent, rule *core.CorrelationRule) []string {
	tsExpr := "." + p.Source.TimestampField
	meta := correlationMeta(rule)
	values := make([]string, len(p.Profile))
	for i, col := range p.Profile {
		if col.Expr == tsExpr && len(events) > 0 {
			last := events[len(events)-1]
			values[i] = p.extract(col.Expr, last.Event, meta)
			continue
		}
		seen := make(map[string]struct{})
		var parts []string
		for _, ev := range events {
			v := p.extract(col.Expr, ev.Event, meta)
			if _, dup := seen[v]; !dup {
				seen[v] = struct{}{}
				parts = append(parts, v)
			}
		}
		sort.Strings(parts)
		if len(parts) == 0 {
			values[i] = missingValue
		} else {
			values[i] = strings.Join(parts, correlationJoin)
		}
	}
	return values
}

// SigmaColumns returns the profile's rule-metadata columns and their
// values for a rule, used by the raw output mode to augment original
// documents.
func (p *Projector) SigmaColumns(rule *core.Rule) map[string]string {
	meta := ruleMeta(rule)
	out := make(map[string]string)
	for _, col := range p.Profile {
		if key, ok := strings.CutPrefix(col.Expr, exprSigmaPrefix); ok {
			out[col.Name] = metaValue(meta, key)
		}
	}
	return out
}

func (p *Projector) extract(expr string, event *core.Event, meta map[string]string) string {
	switch {
	case strings.HasPrefix(expr, "."):
		path := strings.TrimPrefix(expr, ".")
		v := event.GetString(path)
		if v == "" {
			return missingValue
		}
		if path == p.Source.TimestampField {
			return formatTimestamp(v)
		}
		return v
	case strings.HasPrefix(expr, exprSigmaPrefix):
		return metaValue(meta, strings.TrimPrefix(expr, exprSigmaPrefix))
	case strings.HasPrefix(expr, exprGeoPrefix):
		return p.enrich(strings.TrimPrefix(expr, exprGeoPrefix), event)
	default:
		return missingValue
	}
}

func (p *Projector) enrich(field string, event *core.Event) string {
	if p.Enricher == nil {
		return missingValue
	}
	ip := event.GetString(p.Source.SourceIPField)
	if ip == "" {
		return missingValue
	}
	loc := p.Enricher.Enrich(ip)
	switch field {
	case "asn":
		return loc.ASN
	case "city":
		return loc.City
	case "country":
		return loc.Country
	default:
		return missingValue
	}
}

// formatTimestamp renders an RFC 3339 event time the way the console
// expects: date and time separated by a space, no zone suffix.
func formatTimestamp(v string) string {
	return strings.TrimSuffix(strings.Replace(v, "T", " ", 1), "Z")
}

func ruleMeta(rule *core.Rule) map[string]string {
	return map[string]string{
		"title":          rule.Title,
		"id":             rule.ID,
		"status":         strings.ToLower(rule.Status),
		"author":         rule.Author,
		"description":    rule.Description,
		"references":     strings.Join(rule.References, ", "),
		"date":           rule.Date,
		"modified":       rule.Modified,
		"tags":           strings.Join(rule.Tags, ", "),
		"falsepositives": strings.Join(rule.FalsePositives, ", "),
		"level":          strings.ToLower(rule.Level),
	}
}

func correlationMeta(rule *core.CorrelationRule) map[string]string {
	return map[string]string{
		"title":       rule.Title,
		"id":          rule.ID,
		"status":      strings.ToLower(rule.Status),
		"author":      rule.Author,
		"description": rule.Description,
		"references":  strings.Join(rule.References, ", "),
		"date":        rule.Date,
		"modified":    rule.Modified,
		"tags":        strings.Join(rule.Tags, ", "),
		"level":       strings.ToLower(rule.Level),
	}
}

func metaValue(meta map[string]string, key string) string {
	if v := meta[key]; v != "" {
		return v
	}
	return missingValue
}
