package config

import (
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/grailbio/readuntil/reads"
)

// Problem is one discovered configuration defect.
type Problem struct {
	Field  string
	Reason string
}

// InvalidError reports every problem found in a configuration, not just the
// first.
type InvalidError struct {
	Problems []Problem
}

func (e *InvalidError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid configuration (%d problem(s)):", len(e.Problems))
	for _, p := range e.Problems {
		fmt.Fprintf(&b, "\n  %s: %s", p.Field, p.Reason)
	}
	return b.String()
}

// suggest returns a "did you mean" suffix when token is within edit distance
// 2 of a known candidate, else "".
func suggest(token string, candidates []string) string {
	best := ""
	bestDist := 3
	for _, cand := range candidates {
		if d := matchr.Levenshtein(token, cand); d < bestDist {
			best, bestDist = cand, d
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf(" (did you mean %q?)", best)
}

func actionProblem(token string) string {
	return fmt.Sprintf("invalid action token %q%s", token, suggest(token, reads.ActionTokens))
}

// Validate checks the configuration structurally and semantically, returning
// an *InvalidError listing all discovered problems, or nil.
func (c *Config) Validate() error {
	if problems := c.problems(); len(problems) > 0 {
		return &InvalidError{Problems: problems}
	}
	return nil
}

func (c *Config) problems() []Problem {
	var problems []Problem
	add := func(field, format string, args ...interface{}) {
		problems = append(problems, Problem{field, fmt.Sprintf(format, args...)})
	}

	if c.SplitAxis != 0 && c.SplitAxis != 1 {
		add("split_axis", "must be 0 or 1, got %d", c.SplitAxis)
	}
	if c.Channels < 0 {
		add("channels", "must be positive, got %d", c.Channels)
	}
	if c.UnblockDuration < 0 {
		add("unblock_duration", "must be nonnegative, got %v", c.UnblockDuration)
	}

	checkSelector := func(field string, s PluginSelector) {
		if s.err != nil {
			add(field, "%v", s.err)
			return
		}
		if s.Name == "" {
			add(field, "required: exactly one plugin sub-table, e.g. [%s.no_op]", field)
		}
	}
	checkSelector("caller_settings", c.Caller)
	checkSelector("mapper_settings", c.Mapper)

	barcoding := len(c.Barcodes) > 0
	if !barcoding && len(c.Regions) == 0 {
		add("regions", "at least one region is required when barcoding is disabled")
	}
	if barcoding {
		for _, required := range []string{BarcodeClassified, BarcodeUnclassified} {
			if _, ok := c.Barcodes[required]; !ok {
				add("barcodes."+required, "required when barcoding is enabled")
			}
		}
	}

	for i := range c.Regions {
		problems = append(problems, conditionProblems(&c.Regions[i], fmt.Sprintf("regions[%d]", i))...)
	}
	for _, name := range sortedBarcodeNames(c.Barcodes) {
		cc := c.Barcodes[name]
		problems = append(problems, conditionProblems(&cc, "barcodes."+name)...)
	}
	return problems
}

func conditionProblems(cc *ConditionConfig, field string) []Problem {
	var problems []Problem
	add := func(key, format string, args ...interface{}) {
		problems = append(problems, Problem{field + "." + key, fmt.Sprintf(format, args...)})
	}
	if cc.Name == "" {
		add("name", "required")
	}
	if cc.MinChunks < 0 {
		add("min_chunks", "must be nonnegative, got %d", cc.MinChunks)
	}
	if cc.MaxChunks < cc.MinChunks {
		add("max_chunks", "must be >= min_chunks (%d), got %d", cc.MinChunks, cc.MaxChunks)
	}
	if !cc.Targets.set {
		add("targets", "required")
	} else if cc.Targets.err != nil {
		add("targets", "%v", cc.Targets.err)
	}
	required := []struct {
		key   string
		token string
	}{
		{"single_on", cc.SingleOn},
		{"multi_on", cc.MultiOn},
		{"single_off", cc.SingleOff},
		{"multi_off", cc.MultiOff},
		{"no_seq", cc.NoSeq},
		{"no_map", cc.NoMap},
	}
	for _, r := range required {
		if r.token == "" {
			add(r.key, "required action (one of %s)", strings.Join(reads.ActionTokens, "|"))
		} else if _, err := reads.ParseActionKind(r.token); err != nil {
			add(r.key, "%s", actionProblem(r.token))
		}
	}
	for _, o := range []struct {
		key   string
		token string
	}{
		{"above_max_chunks", cc.AboveMaxChunks},
		{"below_min_chunks", cc.BelowMinChunks},
	} {
		if o.token != "" {
			if _, err := reads.ParseActionKind(o.token); err != nil {
				add(o.key, "%s", actionProblem(o.token))
			}
		}
	}
	return problems
}
