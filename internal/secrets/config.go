package secrets

import (
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/repodigest/internal/config"
)

// Config configures the scrubber.
type Config struct {
	Enabled bool

	// RedactionString replaces every match. Defaults to "[REDACTED]".
	RedactionString string

	Rules []Rule

	// AllowList holds patterns for matches that are left in place, such as
	// well-known example keys in documentation.
	AllowList []string
}

// Rule defines a secret detection rule.
type Rule struct {
	ID          string
	Description string
	Pattern     string

	// Keywords, when set, must appear (case-insensitively) somewhere in the
	// content for the rule to run.
	Keywords []string
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// DefaultConfig returns the built-in rule set.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RedactionString: "[REDACTED]",
		Rules:           DefaultRules(),
	}
}

// ConfigFrom applies the application's secrets settings to DefaultConfig.
func ConfigFrom(app config.SecretsConfig) *Config {
	cfg := DefaultConfig()
	if app.RedactionString != "" {
		cfg.RedactionString = app.RedactionString
	}
	cfg.AllowList = append(cfg.AllowList, app.AllowList...)
	return cfg
}

func (c *Config) compile() ([]*compiledRule, []*regexp.Regexp, error) {
	rules := make([]*compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return nil, nil, fmt.Errorf("rule %d: ID is required", i)
		}
		if rule.Pattern == "" {
			return nil, nil, fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		cr := &compiledRule{Rule: rule, pattern: re}
		for _, kw := range rule.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		rules = append(rules, cr)
	}

	allow := make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, p := range c.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		allow = append(allow, re)
	}
	return rules, allow, nil
}
