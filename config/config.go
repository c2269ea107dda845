// Package config loads and validates the declarative experiment description
// driving adaptive sampling: flow-cell split, region and barcode conditions,
// per-outcome actions, targets, and plugin selection.  The parsed form is
// compiled into immutable lookup structures used on the hot path.
package config

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/grailbio/readuntil/interval"
	"github.com/grailbio/readuntil/reads"
)

// Barcode condition names that must be present whenever barcoding is
// enabled.
const (
	BarcodeClassified   = "classified"
	BarcodeUnclassified = "unclassified"
)

// Config is the experiment description as parsed from TOML.  It is not
// mutated after Load.  The package has no reload operation; loading again
// produces an independent Config.
type Config struct {
	// SplitAxis selects the flow-cell dimension regions divide: 0 splits
	// rows, 1 splits columns.
	SplitAxis int `toml:"split_axis"`
	// Channels overrides the flow-cell channel count.
	Channels int `toml:"channels"`
	// UnblockDuration is the voltage-flip duration in seconds attached to
	// unblock actions.  Zero means unset; the read-until command then uses
	// its -unblock-duration flag.
	UnblockDuration float64 `toml:"unblock_duration"`

	Caller PluginSelector `toml:"caller_settings"`
	Mapper PluginSelector `toml:"mapper_settings"`

	Regions  []ConditionConfig          `toml:"regions"`
	Barcodes map[string]ConditionConfig `toml:"barcodes"`
}

// PluginSelector names one plugin and carries its options verbatim, parsed
// from a TOML table of the form [caller_settings.<plugin>].
type PluginSelector struct {
	Name    string
	Options Options

	err error // recorded during decode, surfaced by Validate
}

// UnmarshalTOML implements toml.Unmarshaler.
func (s *PluginSelector) UnmarshalTOML(v interface{}) error {
	table, ok := v.(map[string]interface{})
	if !ok {
		s.err = fmt.Errorf("expected a table of the form settings.<plugin>")
		return nil
	}
	if len(table) != 1 {
		var names []string
		for name := range table {
			names = append(names, name)
		}
		sort.Strings(names)
		s.err = fmt.Errorf("exactly one plugin sub-table required, got %d (%s)", len(table), strings.Join(names, ", "))
		return nil
	}
	for name, opts := range table {
		s.Name = name
		if optsTable, ok := opts.(map[string]interface{}); ok {
			s.Options = Options(optsTable)
		} else {
			s.err = fmt.Errorf("plugin %s options must be a table", name)
		}
	}
	return nil
}

// TargetSpec is either a path to a BED/CSV target file or an inline array of
// "contig" / "contig,start,end,strand" specs.
type TargetSpec struct {
	Path   string
	Inline []string

	set bool
	err error
}

// UnmarshalTOML implements toml.Unmarshaler.
func (ts *TargetSpec) UnmarshalTOML(v interface{}) error {
	ts.set = true
	switch val := v.(type) {
	case string:
		ts.Path = val
	case []interface{}:
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				ts.err = fmt.Errorf("inline targets must be strings, got %T", item)
				return nil
			}
			ts.Inline = append(ts.Inline, str)
		}
		if ts.Inline == nil {
			ts.Inline = []string{}
		}
	default:
		ts.err = fmt.Errorf("targets must be a file path or an array of strings, got %T", v)
	}
	return nil
}

// Load builds the interval union described by the TargetSpec.
func (ts *TargetSpec) Load() (*interval.TargetUnion, error) {
	if ts.Path != "" {
		return interval.NewFromPath(ts.Path, interval.Opts{})
	}
	return interval.NewFromStrings(ts.Inline)
}

// ConditionConfig is one region or barcode condition as parsed from TOML.
type ConditionConfig struct {
	Name      string     `toml:"name"`
	Control   bool       `toml:"control"`
	MinChunks int        `toml:"min_chunks"`
	MaxChunks int        `toml:"max_chunks"`
	Targets   TargetSpec `toml:"targets"`

	SingleOn  string `toml:"single_on"`
	MultiOn   string `toml:"multi_on"`
	SingleOff string `toml:"single_off"`
	MultiOff  string `toml:"multi_off"`
	NoSeq     string `toml:"no_seq"`
	NoMap     string `toml:"no_map"`
	// Optional; default unblock.
	AboveMaxChunks string `toml:"above_max_chunks"`
	// Optional; default proceed.
	BelowMinChunks string `toml:"below_min_chunks"`
}

// Load parses the TOML experiment description at path.  The result is
// structurally decoded but not yet validated; call Validate next.
func Load(path string) (*Config, error) {
	c := &Config{}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse is Load for an already-read TOML document.
func Parse(r io.Reader) (*Config, error) {
	c := &Config{}
	if _, err := toml.DecodeReader(r, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Write serializes the configuration as TOML.  Loading the output yields a
// Config equal to the receiver.
func (c *Config) Write(w io.Writer) error {
	condTree := func(cc ConditionConfig) map[string]interface{} {
		t := map[string]interface{}{
			"name":       cc.Name,
			"min_chunks": cc.MinChunks,
			"max_chunks": cc.MaxChunks,
			"single_on":  cc.SingleOn,
			"multi_on":   cc.MultiOn,
			"single_off": cc.SingleOff,
			"multi_off":  cc.MultiOff,
			"no_seq":     cc.NoSeq,
			"no_map":     cc.NoMap,
		}
		if cc.Control {
			t["control"] = true
		}
		if cc.AboveMaxChunks != "" {
			t["above_max_chunks"] = cc.AboveMaxChunks
		}
		if cc.BelowMinChunks != "" {
			t["below_min_chunks"] = cc.BelowMinChunks
		}
		if cc.Targets.Path != "" {
			t["targets"] = cc.Targets.Path
		} else {
			t["targets"] = cc.Targets.Inline
		}
		return t
	}
	tree := map[string]interface{}{
		"split_axis":      c.SplitAxis,
		"caller_settings": map[string]interface{}{c.Caller.Name: c.Caller.Options},
		"mapper_settings": map[string]interface{}{c.Mapper.Name: c.Mapper.Options},
	}
	if c.Channels != 0 {
		tree["channels"] = c.Channels
	}
	if c.UnblockDuration != 0 {
		tree["unblock_duration"] = c.UnblockDuration
	}
	if len(c.Regions) > 0 {
		regions := make([]map[string]interface{}, len(c.Regions))
		for i, r := range c.Regions {
			regions[i] = condTree(r)
		}
		tree["regions"] = regions
	}
	if len(c.Barcodes) > 0 {
		barcodes := map[string]interface{}{}
		for name, b := range c.Barcodes {
			barcodes[name] = condTree(b)
		}
		tree["barcodes"] = barcodes
	}
	return toml.NewEncoder(w).Encode(tree)
}

// Condition is a compiled, immutable policy unit: a region or barcode
// condition with its action table and target index ready for the hot path.
type Condition struct {
	Name      string
	Control   bool
	MinChunks int
	MaxChunks int
	Targets   *interval.TargetUnion

	actions [reads.NumDecisions]reads.ActionKind
}

// Action returns the configured action for a decision.  Control conditions
// are not special-cased here; the caller applies the control override so the
// classified decision remains visible for statistics.
func (c *Condition) Action(d reads.Decision) reads.ActionKind {
	if d < reads.NumDecisions {
		return c.actions[d]
	}
	return reads.Proceed
}

// Experiment is the compiled configuration: conditions with parsed action
// tables and loaded target indexes.  Immutable once compiled; there is no
// shared handle or reload mechanism that swaps it at run time.
type Experiment struct {
	SplitAxis       int
	Channels        int
	UnblockDuration float64
	Caller          PluginSelector
	Mapper          PluginSelector
	Regions         []*Condition
	Barcodes        map[string]*Condition
}

// BarcodingEnabled reports whether any barcode condition is configured.
func (e *Experiment) BarcodingEnabled() bool { return len(e.Barcodes) > 0 }

// Compile validates c and builds the immutable Experiment, loading target
// files along the way.  All validation problems are reported together.
func (c *Config) Compile() (*Experiment, error) {
	problems := c.problems()
	e := &Experiment{
		SplitAxis:       c.SplitAxis,
		Channels:        c.Channels,
		UnblockDuration: c.UnblockDuration,
		Caller:          c.Caller,
		Mapper:          c.Mapper,
	}
	for i := range c.Regions {
		cond, errs := compileCondition(&c.Regions[i], fmt.Sprintf("regions[%d]", i))
		problems = append(problems, errs...)
		e.Regions = append(e.Regions, cond)
	}
	if len(c.Barcodes) > 0 {
		e.Barcodes = make(map[string]*Condition)
		for _, name := range sortedBarcodeNames(c.Barcodes) {
			cc := c.Barcodes[name]
			cond, errs := compileCondition(&cc, "barcodes."+name)
			problems = append(problems, errs...)
			e.Barcodes[name] = cond
		}
	}
	if len(problems) > 0 {
		return nil, &InvalidError{Problems: problems}
	}
	return e, nil
}

func compileCondition(cc *ConditionConfig, field string) (*Condition, []Problem) {
	var problems []Problem
	cond := &Condition{
		Name:      cc.Name,
		Control:   cc.Control,
		MinChunks: cc.MinChunks,
		MaxChunks: cc.MaxChunks,
	}
	if cc.Targets.set && cc.Targets.err == nil {
		targets, err := cc.Targets.Load()
		if err != nil {
			problems = append(problems, Problem{field + ".targets", err.Error()})
		} else {
			cond.Targets = targets
		}
	}
	// Token validity is reported by Validate; bad or missing tokens fall back
	// to proceed here and the aggregated error prevents use regardless.
	parse := func(token, def string) reads.ActionKind {
		if token == "" {
			token = def
		}
		kind, _ := reads.ParseActionKind(token)
		return kind
	}
	cond.actions[reads.SingleOn] = parse(cc.SingleOn, "")
	cond.actions[reads.MultiOn] = parse(cc.MultiOn, "")
	cond.actions[reads.SingleOff] = parse(cc.SingleOff, "")
	cond.actions[reads.MultiOff] = parse(cc.MultiOff, "")
	cond.actions[reads.NoSeq] = parse(cc.NoSeq, "")
	cond.actions[reads.NoMap] = parse(cc.NoMap, "")
	cond.actions[reads.AboveMaxChunks] = parse(cc.AboveMaxChunks, "unblock")
	cond.actions[reads.BelowMinChunks] = parse(cc.BelowMinChunks, "proceed")
	cond.actions[reads.NoDecision] = reads.Proceed
	return cond, problems
}

// NewCondition builds a compiled Condition directly, mainly for tests and
// programmatic setups.  Decisions absent from actions default to proceed.
func NewCondition(name string, control bool, minChunks, maxChunks int, targets *interval.TargetUnion, actions map[reads.Decision]reads.ActionKind) *Condition {
	cond := &Condition{
		Name:      name,
		Control:   control,
		MinChunks: minChunks,
		MaxChunks: maxChunks,
		Targets:   targets,
	}
	for d, k := range actions {
		cond.actions[d] = k
	}
	return cond
}

func sortedBarcodeNames(m map[string]ConditionConfig) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
