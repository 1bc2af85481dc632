package secrets

import (
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/screenpilot/internal/config"
)

// DefaultRedaction replaces every detected secret.
const DefaultRedaction = "[REDACTED]"

// Config configures the scrubber.
type Config struct {
	Enabled bool

	// Gitleaks adds the gitleaks default ruleset to Rules.
	Gitleaks bool

	Rules           []Rule
	RedactionString string

	// AllowList holds patterns; a match of any of them is never redacted.
	AllowList []string

	compiledRules     []*compiledRule
	compiledAllowList []*regexp.Regexp
}

// Rule is one regexp detection rule.
type Rule struct {
	ID          string
	Description string
	Pattern     string
	// Keywords gate the rule: at least one must appear (case-insensitively)
	// in the content for the pattern to be tried.
	Keywords []string
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// DefaultConfig enables the built-in rules without gitleaks.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RedactionString: DefaultRedaction,
		Rules:           DefaultRules(),
	}
}

// FromSettings builds a Config from the application settings.
func FromSettings(s config.SecretsConfig) *Config {
	cfg := DefaultConfig()
	cfg.Enabled = s.Enabled
	cfg.Gitleaks = s.Gitleaks
	cfg.AllowList = append(cfg.AllowList, s.AllowList...)
	return cfg
}

// Validate compiles rules and allow-list patterns.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RedactionString == "" {
		c.RedactionString = DefaultRedaction
	}

	c.compiledRules = make([]*compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: ID is required", i)
		}
		if rule.Pattern == "" {
			return fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		compiled := &compiledRule{Rule: rule, pattern: pattern}
		for _, kw := range rule.Keywords {
			compiled.keywords = append(compiled.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		c.compiledRules = append(c.compiledRules, compiled)
	}

	c.compiledAllowList = make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, pattern := range c.AllowList {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		c.compiledAllowList = append(c.compiledAllowList, re)
	}
	return nil
}
