package secrets

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Scrubber redacts secrets from text.
type Scrubber interface {
	Scrub(content string) (*Result, error)
	IsEnabled() bool
}

// Result is the outcome of one Scrub call. It never holds a secret value.
type Result struct {
	Scrubbed string         `json:"-"`
	Findings []Finding      `json:"findings,omitempty"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Finding locates one redacted secret in the original content.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	StartIndex  int    `json:"start_index"`
	EndIndex    int    `json:"end_index"`
	// Line is 1-indexed.
	Line int `json:"line"`
}

// HasFindings reports whether anything was redacted.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// RuleIDs returns the matched rule IDs in sorted order.
func (r *Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type scrubber struct {
	config *Config
}

type span struct {
	start, end int
}

// New creates a Scrubber. A nil cfg means DefaultConfig().
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &scrubber{config: cfg}, nil
}

func (s *scrubber) IsEnabled() bool {
	return s.config.Enabled
}

func (s *scrubber) Scrub(content string) (*Result, error) {
	start := time.Now()
	result := &Result{Scrubbed: content, ByRule: make(map[string]int)}
	if !s.config.Enabled || content == "" {
		result.Duration = time.Since(start)
		return result, nil
	}

	for _, rule := range s.config.compiledRules {
		if !rule.applies(content) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			s.add(result, content, rule.ID, rule.Description, m[0], m[1])
		}
	}

	if s.config.Gitleaks {
		if err := s.gitleaks(result, content); err != nil {
			return nil, err
		}
	}

	result.Scrubbed = redact(content, result.Findings, s.config.RedactionString)
	result.Duration = time.Since(start)
	return result, nil
}

// gitleaks runs the gitleaks default ruleset. Its findings carry line and
// column positions, so each secret is located by value instead.
func (s *scrubber) gitleaks(result *Result, content string) error {
	// A detector accumulates findings across scans, so each call gets its own.
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return fmt.Errorf("creating gitleaks detector: %w", err)
	}
	for _, f := range detector.DetectString(content) {
		if f.Secret == "" {
			continue
		}
		from := 0
		for {
			i := strings.Index(content[from:], f.Secret)
			if i < 0 {
				break
			}
			begin := from + i
			s.add(result, content, f.RuleID, f.Description, begin, begin+len(f.Secret))
			from = begin + len(f.Secret)
		}
	}
	return nil
}

func (s *scrubber) add(result *Result, content, ruleID, desc string, start, end int) {
	if start >= end || s.isAllowed(content[start:end]) {
		return
	}
	for _, f := range result.Findings {
		if f.StartIndex == start && f.EndIndex == end {
			return
		}
	}
	result.Findings = append(result.Findings, Finding{
		RuleID:      ruleID,
		Description: desc,
		StartIndex:  start,
		EndIndex:    end,
		Line:        strings.Count(content[:start], "\n") + 1,
	})
	result.ByRule[ruleID]++
}

func (s *scrubber) isAllowed(match string) bool {
	for _, re := range s.config.compiledAllowList {
		if re.MatchString(match) {
			return true
		}
	}
	return false
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

// redact replaces the union of all finding spans. Overlapping and adjacent
// spans collapse into a single replacement.
func redact(content string, findings []Finding, replacement string) string {
	if len(findings) == 0 {
		return content
	}
	spans := make([]span, 0, len(findings))
	for _, f := range findings {
		spans = append(spans, span{f.StartIndex, f.EndIndex})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	merged := []span{spans[0]}
	for _, cur := range spans[1:] {
		last := &merged[len(merged)-1]
		if cur.start <= last.end {
			last.end = max(last.end, cur.end)
			continue
		}
		merged = append(merged, cur)
	}

	var b strings.Builder
	b.Grow(len(content))
	prev := 0
	for _, sp := range merged {
		b.WriteString(content[prev:sp.start])
		b.WriteString(replacement)
		prev = sp.end
	}
	b.WriteString(content[prev:])
	return b.String()
}

// Nop passes content through unchanged.
type Nop struct{}

func (Nop) Scrub(content string) (*Result, error) {
	return &Result{Scrubbed: content, ByRule: map[string]int{}}, nil
}

func (Nop) IsEnabled() bool { return false }

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = Nop{}
)
