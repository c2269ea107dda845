// Package mapper defines the aligner plugin contract and the built-in
// plugins: a no-op, a serial in-process seed mapper ("mappy"), and its
// worker-pool variant ("mappy_rs").  Plugins attach alignment data to
// results flowing through the pipeline; they never decide anything.
package mapper

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/readuntil/config"
	"github.com/grailbio/readuntil/reads"
)

// Aligner attaches alignments to basecalled results.
type Aligner interface {
	// Align consumes results and emits each with Alignments populated
	// (possibly empty), in any order.  The returned channel closes once the
	// input is exhausted.
	Align(ctx context.Context, in <-chan reads.Result) <-chan reads.Result
	// Validate verifies preconditions (reference present, loadable) and
	// fails fast with a descriptive error.  A successful Validate leaves the
	// plugin initialized.
	Validate(ctx context.Context) error
	// Initialized reports whether the plugin is ready to align.
	Initialized() bool
	// Describe returns a human-readable summary for logs.
	Describe() string
	// Close releases resources.  Safe to call on all exit paths.
	Close(ctx context.Context) error
}

// Factory constructs an aligner from its configuration options.
type Factory func(opts config.Options) (Aligner, error)

var factories = map[string]Factory{
	"no_op":    newNoOp,
	"mappy":    newMappy,
	"mappy_rs": newMappyRS,
}

// Names returns the built-in aligner plugin names.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs the named aligner plugin.
func New(sel config.PluginSelector) (Aligner, error) {
	factory, ok := factories[sel.Name]
	if !ok {
		return nil, fmt.Errorf("unknown aligner plugin %q (built-in: %s)", sel.Name, strings.Join(Names(), ", "))
	}
	return factory(sel.Options)
}

// HeaderProvider is implemented by aligners that know the reference contig
// catalogue, letting target configurations be validated against it.
type HeaderProvider interface {
	Header() *sam.Header
}

// noOp passes results through without aligning.
type noOp struct{}

func newNoOp(config.Options) (Aligner, error) { return noOp{}, nil }

func (noOp) Align(ctx context.Context, in <-chan reads.Result) <-chan reads.Result {
	out := make(chan reads.Result, 64)
	go func() {
		defer close(out)
		for r := range in {
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (noOp) Validate(context.Context) error { return nil }

func (noOp) Initialized() bool { return true }

func (noOp) Describe() string { return "no-op aligner (attaches no alignments)" }

func (noOp) Close(context.Context) error { return nil }
