package output

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"goshawk/core"
)

// Column is one ordered output column: a display name and the
// extraction expression producing its value.
type Column struct {
	Name string
	Expr string
}

// Profile is the ordered column set projecting a detection into
// output records.
type Profile []Column

// Expression prefixes. A leading dot addresses an event field path;
// "sigma." addresses rule metadata; "geoip." addresses the synthetic
// enrichment columns.
const (
	exprSigmaPrefix = "sigma."
	exprGeoPrefix   = "geoip."
)

// Synthetic enrichment columns injected after the source-IP column.
const (
	ColSrcIP      = "SrcIP"
	ColSrcASN     = "SrcASN"
	ColSrcCity    = "SrcCity"
	ColSrcCountry = "SrcCountry"
)

// defaultProfiles holds the built-in per-log-source profiles used when
// no profile file is configured.
var defaultProfiles = map[string]string{
	"aws": `Timestamp: '.eventTime'
RuleTitle: 'sigma.title'
Level: 'sigma.level'
EventName: '.eventName'
EventSource: '.eventSource'
AWSRegion: '.awsRegion'
SrcIP: '.sourceIPAddress'
UserName: '.userIdentity.arn'
UserType: '.userIdentity.type'
UserAgent: '.userAgent'
RuleAuthor: 'sigma.author'
`,
	"azure": `Timestamp: '.time'
RuleTitle: 'sigma.title'
Level: 'sigma.level'
OperationName: '.operationName'
Category: '.category'
SrcIP: '.callerIpAddress'
Identity: '.identity'
ResourceId: '.resourceId'
RuleAuthor: 'sigma.author'
`,
}

// LoadProfile reads an ordered "Name: 'expression'" profile file, or
// the built-in profile for the log source when path is empty. With
// enrichment active, the three GeoIP columns are injected immediately
// after the source-IP column.
func LoadProfile(path string, source *core.LogSource, geoEnabled bool) (Profile, error) {
	var lines []string
	if path == "" {
		builtin, ok := defaultProfiles[source.Name]
		if !ok {
			return nil, fmt.Errorf("no built-in profile for log source %q", source.Name)
		}
		lines = strings.Split(builtin, "\n")
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open profile %s: %w", path, err)
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
		}
	}

	var profile Profile
	for _, line := range lines {
		name, expr, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		expr = strings.Trim(strings.TrimSpace(expr), "'")
		if name == "" || expr == "" {
			continue
		}
		profile = append(profile, Column{Name: name, Expr: expr})
		if name == ColSrcIP && geoEnabled {
			profile = append(profile,
				Column{Name: ColSrcASN, Expr: exprGeoPrefix + "asn"},
				Column{Name: ColSrcCity, Expr: exprGeoPrefix + "city"},
				Column{Name: ColSrcCountry, Expr: exprGeoPrefix + "country"},
			)
		}
	}
	if len(profile) == 0 {
		return nil, fmt.Errorf("profile defines no columns")
	}
	return profile, nil
}

// Names returns the ordered column names, the header row of every
// sink.
func (p Profile) Names() []string {
	names := make([]string, len(p))
	for i, c := range p {
		names[i] = c.Name
	}
	return names
}
