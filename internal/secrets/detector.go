package secrets

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// baseDetectorConfig is the gitleaks default rule set, built once.
var baseDetectorConfig = sync.OnceValues(func() (gitleaksConfig.Config, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return gitleaksConfig.Config{}, err
	}
	return d.Config, nil
})

// detector scrubs file contents with the gitleaks rule set.
type detector struct {
	redaction string
	cfg       gitleaksConfig.Config
}

// NewDetector returns a Scrubber backed by the gitleaks default rules,
// with cfg.AllowList merged in as a global allow-list. cfg.Rules are not
// used. A nil cfg means DefaultConfig; a disabled cfg yields Noop.
func NewDetector(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return Noop{}, nil
	}
	base, err := baseDetectorConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}

	gcfg := base
	gcfg.Allowlists = slices.Clone(base.Allowlists)
	if len(cfg.AllowList) > 0 {
		allow, err := allowList(cfg.AllowList)
		if err != nil {
			return nil, err
		}
		gcfg.Allowlists = append(gcfg.Allowlists, allow)
	}

	redaction := cfg.RedactionString
	if redaction == "" {
		redaction = "[REDACTED]"
	}
	return &detector{redaction: redaction, cfg: gcfg}, nil
}

// MustNewDetector is NewDetector that panics on error.
func MustNewDetector(cfg *Config) Scrubber {
	s, err := NewDetector(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func allowList(patterns []string) (*gitleaksConfig.Allowlist, error) {
	allow := &gitleaksConfig.Allowlist{Description: "repodigest allow-list"}
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		allow.Regexes = append(allow.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	return allow, nil
}

func (d *detector) IsEnabled() bool { return true }

// Scrub redacts every occurrence of each detected secret. The gitleaks
// detector keeps per-scan state, so each call gets its own.
func (d *detector) Scrub(content string) *Result {
	result := &Result{Scrubbed: content}

	var spans []span
	for _, f := range detect.NewDetector(d.cfg).DetectString(content) {
		if f.Secret == "" {
			continue
		}
		for from := 0; ; {
			i := strings.Index(content[from:], f.Secret)
			if i < 0 {
				break
			}
			start := from + i
			spans = append(spans, span{start, start + len(f.Secret)})
			result.Findings = append(result.Findings, Finding{
				RuleID: f.RuleID,
				Line:   strings.Count(content[:start], "\n") + 1,
			})
			from = start + len(f.Secret)
		}
	}
	if len(spans) == 0 {
		return result
	}

	slices.SortFunc(spans, func(a, b span) int { return cmp.Compare(a.start, b.start) })
	slices.SortStableFunc(result.Findings, func(a, b Finding) int { return cmp.Compare(a.Line, b.Line) })
	result.Scrubbed = redact(content, merge(spans), d.redaction)
	return result
}

var _ Scrubber = (*detector)(nil)
