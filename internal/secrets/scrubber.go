package secrets

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
)

// Scrubber detects and redacts secrets. New builds one from the compact
// rule table used for log and error messages; NewDetector builds one from
// the gitleaks rule set used for file contents.
type Scrubber interface {
	// Scrub returns content with every finding replaced.
	Scrub(content string) *Result

	// IsEnabled reports whether scrubbing does anything.
	IsEnabled() bool
}

// Result is the outcome of a Scrub call.
type Result struct {
	Scrubbed string
	Findings []Finding
}

// Finding locates a detected secret without carrying its value.
type Finding struct {
	RuleID string
	Line   int // 1-indexed
}

// HasFindings reports whether anything was redacted.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// ByRule counts findings per rule ID.
func (r *Result) ByRule() map[string]int {
	counts := make(map[string]int, len(r.Findings))
	for _, f := range r.Findings {
		counts[f.RuleID]++
	}
	return counts
}

type scrubber struct {
	redaction string
	rules     []*compiledRule
	allow     []*regexp.Regexp
}

type span struct{ start, end int }

// New compiles cfg into a Scrubber. A nil cfg means DefaultConfig; a
// disabled cfg yields a scrubber that returns content unchanged.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return Noop{}, nil
	}
	rules, allow, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	redaction := cfg.RedactionString
	if redaction == "" {
		redaction = "[REDACTED]"
	}
	return &scrubber{redaction: redaction, rules: rules, allow: allow}, nil
}

// MustNew is New that panics on error. Intended for DefaultConfig.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *scrubber) IsEnabled() bool { return true }

func (s *scrubber) Scrub(content string) *Result {
	result := &Result{Scrubbed: content}

	var spans []span
	for _, rule := range s.rules {
		if !rule.applies(content) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.allowed(content[m[0]:m[1]]) {
				continue
			}
			spans = append(spans, span{m[0], m[1]})
			result.Findings = append(result.Findings, Finding{
				RuleID: rule.ID,
				Line:   strings.Count(content[:m[0]], "\n") + 1,
			})
		}
	}
	if len(spans) == 0 {
		return result
	}

	slices.SortFunc(spans, func(a, b span) int { return cmp.Compare(a.start, b.start) })
	slices.SortStableFunc(result.Findings, func(a, b Finding) int { return cmp.Compare(a.Line, b.Line) })

	result.Scrubbed = redact(content, merge(spans), s.redaction)
	return result
}

// redact replaces each span with redaction. spans must be sorted and
// disjoint.
func redact(content string, spans []span, redaction string) string {
	var b strings.Builder
	b.Grow(len(content))
	pos := 0
	for _, sp := range spans {
		b.WriteString(content[pos:sp.start])
		b.WriteString(redaction)
		pos = sp.end
	}
	b.WriteString(content[pos:])
	return b.String()
}

func (r *compiledRule) applies(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

func (s *scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// merge collapses overlapping spans. spans must be sorted by start.
func merge(spans []span) []span {
	out := []span{spans[0]}
	for _, sp := range spans[1:] {
		last := &out[len(out)-1]
		if sp.start <= last.end {
			last.end = max(last.end, sp.end)
			continue
		}
		out = append(out, sp)
	}
	return out
}

// Noop returns content unchanged.
type Noop struct{}

func (Noop) Scrub(content string) *Result { return &Result{Scrubbed: content} }

func (Noop) IsEnabled() bool { return false }

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = Noop{}
)
