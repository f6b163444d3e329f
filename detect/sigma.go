package detect

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"

	"goshawk/core"
)

// sigmaMatcher is the compiled form of a rule's detection block. It
// implements core.RuleMatcher; the pipeline never sees past that
// interface.
type sigmaMatcher struct {
	selections map[string]selection
	condition  condNode
}

// CompileDetection compiles a Sigma detection block (selection maps
// plus a condition expression) into a matcher.
func CompileDetection(detection map[string]interface{}) (core.RuleMatcher, error) {
	if len(detection) == 0 {
		return nil, fmt.Errorf("detection block is empty")
	}
	m := &sigmaMatcher{selections: make(map[string]selection)}
	condRaw, ok := detection["condition"]
	if !ok {
		return nil, fmt.Errorf("detection block has no condition")
	}
	condStr, ok := condRaw.(string)
	if !ok {
		return nil, fmt.Errorf("condition must be a string")
	}
	for name, body := range detection {
		if name == "condition" {
			continue
		}
		sel, err := compileSelection(body)
		if err != nil {
			return nil, fmt.Errorf("selection %q: %w", name, err)
		}
		m.selections[name] = sel
	}
	node, err := parseCondition(condStr, m.selectionNames())
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", condStr, err)
	}
	m.condition = node
	return m, nil
}

func (m *sigmaMatcher) selectionNames() []string {
	names := make([]string, 0, len(m.selections))
	for name := range m.selections {
		names = append(names, name)
	}
	return names
}

// Matches evaluates the compiled condition against an event.
func (m *sigmaMatcher) Matches(event *core.Event) bool {
	return m.condition.eval(func(name string) bool {
		sel, ok := m.selections[name]
		if !ok {
			return false
		}
		return sel.matches(event)
	})
}

// selection is one named detection selection.
type selection interface {
	matches(event *core.Event) bool
}

// fieldSelection ANDs per-field matchers.
type fieldSelection struct {
	fields []fieldMatcher
}

func (s fieldSelection) matches(event *core.Event) bool {
	for _, f := range s.fields {
		if !f.matches(event) {
			return false
		}
	}
	return true
}

// orSelection ORs a list of selections (a YAML list of maps).
type orSelection struct {
	alts []selection
}

func (s orSelection) matches(event *core.Event) bool {
	for _, alt := range s.alts {
		if alt.matches(event) {
			return true
		}
	}
	return false
}

// keywordSelection matches when any event field value contains one of
// the keywords (a YAML list of scalars).
type keywordSelection struct {
	keywords []string
}

func (s keywordSelection) matches(event *core.Event) bool {
	for _, kw := range s.keywords {
		if eventContainsKeyword(event.Fields, kw) {
			return true
		}
	}
	return false
}

func eventContainsKeyword(v interface{}, kw string) bool {
	switch t := v.(type) {
	case map[string]interface{}:
		for _, child := range t {
			if eventContainsKeyword(child, kw) {
				return true
			}
		}
	case []interface{}:
		for _, child := range t {
			if eventContainsKeyword(child, kw) {
				return true
			}
		}
	case string:
		return strings.Contains(strings.ToLower(t), strings.ToLower(kw))
	}
	return false
}

func compileSelection(body interface{}) (selection, error) {
	switch t := body.(type) {
	case map[string]interface{}:
		return compileFieldSelection(t)
	case []interface{}:
		// A list of maps is an OR of selections; a list of scalars is
		// a keyword search.
		var alts []selection
		var keywords []string
		for _, item := range t {
			if m, ok := item.(map[string]interface{}); ok {
				sel, err := compileFieldSelection(m)
				if err != nil {
					return nil, err
				}
				alts = append(alts, sel)
			} else {
				keywords = append(keywords, fmt.Sprintf("%v", item))
			}
		}
		if len(alts) > 0 && len(keywords) > 0 {
			return nil, fmt.Errorf("selection mixes maps and scalars")
		}
		if len(alts) > 0 {
			return orSelection{alts: alts}, nil
		}
		return keywordSelection{keywords: keywords}, nil
	default:
		return nil, fmt.Errorf("unsupported selection shape %T", body)
	}
}

func compileFieldSelection(m map[string]interface{}) (selection, error) {
	sel := fieldSelection{}
	for key, raw := range m {
		fm, err := compileFieldMatcher(key, raw)
		if err != nil {
			return nil, err
		}
		sel.fields = append(sel.fields, fm)
	}
	return sel, nil
}

// fieldMatcher compares one event field against the rule's value(s)
// under the field's modifiers.
type fieldMatcher struct {
	path     string
	op       string // equals, contains, startswith, endswith, re
	all      bool   // AND the value list instead of OR
	values   []string
	patterns []*regexp2.Regexp // compiled for op == "re" or wildcard equals
	isNull   []bool
}

func compileFieldMatcher(key string, raw interface{}) (fieldMatcher, error) {
	parts := strings.Split(key, "|")
	fm := fieldMatcher{path: parts[0], op: "equals"}
	for _, mod := range parts[1:] {
		switch mod {
		case "contains":
			fm.op = "contains"
		case "startswith":
			fm.op = "startswith"
		case "endswith":
			fm.op = "endswith"
		case "re":
			fm.op = "re"
		case "all":
			fm.all = true
		default:
			return fm, fmt.Errorf("unsupported modifier %q", mod)
		}
	}

	var rawValues []interface{}
	if list, ok := raw.([]interface{}); ok {
		rawValues = list
	} else {
		rawValues = []interface{}{raw}
	}
	for _, rv := range rawValues {
		if rv == nil {
			fm.values = append(fm.values, "")
			fm.isNull = append(fm.isNull, true)
			fm.patterns = append(fm.patterns, nil)
			continue
		}
		s := fmt.Sprintf("%v", rv)
		fm.values = append(fm.values, s)
		fm.isNull = append(fm.isNull, false)
		var pat *regexp2.Regexp
		var err error
		switch {
		case fm.op == "re":
			pat, err = regexp2.Compile(s, regexp2.RE2)
		case fm.op == "equals" && strings.ContainsAny(s, "*?"):
			pat, err = regexp2.Compile(wildcardToRegex(s), regexp2.IgnoreCase)
		}
		if err != nil {
			return fm, fmt.Errorf("field %q: invalid pattern %q: %w", fm.path, s, err)
		}
		fm.patterns = append(fm.patterns, pat)
	}
	return fm, nil
}

func (fm fieldMatcher) matches(event *core.Event) bool {
	_, present := event.Get(fm.path)
	got := ""
	if present {
		got = event.GetString(fm.path)
	}

	matched := 0
	for i, want := range fm.values {
		ok := false
		switch {
		case fm.isNull[i]:
			ok = !present
		case !present:
			ok = false
		case fm.patterns[i] != nil:
			ok, _ = fm.patterns[i].MatchString(got)
		default:
			switch fm.op {
			case "contains":
				ok = strings.Contains(strings.ToLower(got), strings.ToLower(want))
			case "startswith":
				ok = strings.HasPrefix(strings.ToLower(got), strings.ToLower(want))
			case "endswith":
				ok = strings.HasSuffix(strings.ToLower(got), strings.ToLower(want))
			default:
				ok = strings.EqualFold(got, want)
			}
		}
		if ok {
			if !fm.all {
				return true
			}
			matched++
		}
	}
	return fm.all && matched == len(fm.values)
}

// wildcardToRegex translates Sigma * and ? wildcards into an anchored
// regex, escaping everything else.
func wildcardToRegex(s string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range s {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp2.Escape(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}
