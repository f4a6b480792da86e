package secrets

import (
	"regexp"
	"sort"
)

// Redacted replaces each detected secret.
const Redacted = "[REDACTED]"

// Result is the outcome of one Scrub call. ByRule counts findings per rule
// id; matched values are never retained.
type Result struct {
	Scrubbed string
	ByRule   map[string]int
}

// Found reports whether anything was redacted.
func (r Result) Found() bool { return len(r.ByRule) > 0 }

// Scrubber redacts secrets. It is safe for concurrent use.
type Scrubber struct {
	enabled  bool
	rules    []compiledRule
	allow    []*regexp.Regexp
	gitleaks *gitleaksDetector
}

// New compiles cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config) (*Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	rules, allow, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	s := &Scrubber{enabled: cfg.Enabled, rules: rules, allow: allow}
	if cfg.Enabled && cfg.Gitleaks {
		if s.gitleaks, err = newGitleaksDetector(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

type span struct{ start, end int }

// Scrub redacts every match in content. Overlapping matches are merged.
func (s *Scrubber) Scrub(content string) Result {
	res := Result{Scrubbed: content}
	if s == nil || !s.enabled || content == "" {
		return res
	}

	var spans []span
	add := func(id string, sp span) {
		if s.allowed(content[sp.start:sp.end]) {
			return
		}
		if res.ByRule == nil {
			res.ByRule = make(map[string]int)
		}
		res.ByRule[id]++
		spans = append(spans, sp)
	}
	for _, r := range s.rules {
		for _, m := range r.pattern.FindAllStringSubmatchIndex(content, -1) {
			sp := span{m[0], m[1]}
			if len(m) >= 4 && m[2] >= 0 {
				sp = span{m[2], m[3]}
			}
			add(r.id, sp)
		}
	}
	if s.gitleaks != nil {
		for id, found := range s.gitleaks.spans(content) {
			for _, sp := range found {
				add(id, sp)
			}
		}
	}
	if len(spans) == 0 {
		return res
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := spans[:1]
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}

	out := make([]byte, 0, len(content))
	prev := 0
	for _, sp := range merged {
		out = append(out, content[prev:sp.start]...)
		out = append(out, Redacted...)
		prev = sp.end
	}
	out = append(out, content[prev:]...)
	res.Scrubbed = string(out)
	return res
}

// String is Scrub without the findings.
func (s *Scrubber) String(content string) string {
	return s.Scrub(content).Scrubbed
}

// Value scrubs strings inside v, descending into maps and slices as decoded
// from JSON. Other values are returned as is. Inputs are never mutated.
func (s *Scrubber) Value(v any) any {
	switch t := v.(type) {
	case string:
		return s.String(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = s.Value(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = s.Value(val)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, val := range t {
			out[i] = s.String(val)
		}
		return out
	default:
		return v
	}
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}
