// Package secrets detects and redacts credentials in free text.
//
// Trail entries carry planner rationale, collaborator error messages and
// decision parameters, any of which may echo a warehouse DSN or an API key.
// They pass through a Scrubber before leaving the process.
package secrets

import (
	"fmt"
	"regexp"
)

// Config configures the scrubber.
type Config struct {
	Enabled   bool     `koanf:"enabled"`
	Rules     []Rule   `koanf:"rules"`
	AllowList []string `koanf:"allow_list"`
	// Gitleaks adds the gitleaks default rule set on top of Rules.
	Gitleaks bool `koanf:"gitleaks"`
}

// Rule is one detection pattern. When the pattern has a capture group only
// the first group is redacted, so context such as "password=" survives.
type Rule struct {
	ID      string `koanf:"id"`
	Pattern string `koanf:"pattern"`
}

// DefaultConfig returns an enabled config with DefaultRules.
func DefaultConfig() *Config {
	return &Config{Enabled: true, Rules: DefaultRules()}
}

type compiledRule struct {
	id      string
	pattern *regexp.Regexp
}

func (c *Config) compile() ([]compiledRule, []*regexp.Regexp, error) {
	rules := make([]compiledRule, 0, len(c.Rules))
	for i, r := range c.Rules {
		if r.ID == "" {
			return nil, nil, fmt.Errorf("rule %d: id is required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		rules = append(rules, compiledRule{id: r.ID, pattern: re})
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
