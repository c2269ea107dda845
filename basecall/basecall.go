// Package basecall defines the caller plugin contract and the built-in
// plugins: a no-op pass-through and a client for a remote basecaller
// reachable over a local socket.  Plugins are selected by name from the
// experiment configuration.
package basecall

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/readuntil/config"
	"github.com/grailbio/readuntil/reads"
)

// Caller turns raw signal chunks into basecalled results.
type Caller interface {
	// Basecall emits one Result per input chunk, in any order.  Each Result
	// carries the original channel and read number.  A chunk that fails to
	// call individually yields a Result with an empty sequence and Err set;
	// a transport-level failure additionally poisons the remaining chunks of
	// the batch the same way.
	Basecall(ctx context.Context, batch []reads.Chunk) <-chan reads.Result
	// Validate verifies preconditions (connectivity, permissions) and fails
	// fast with a descriptive error.
	Validate(ctx context.Context) error
	// Describe returns a human-readable summary for logs.
	Describe() string
	// Close releases resources.  Safe to call on all exit paths.
	Close(ctx context.Context) error
}

// Factory constructs a caller from its configuration options.
type Factory func(opts config.Options) (Caller, error)

var factories = map[string]Factory{
	"no_op": newNoOp,
	"real":  newRemote,
}

// Names returns the built-in caller plugin names.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs the named caller plugin.
func New(sel config.PluginSelector) (Caller, error) {
	factory, ok := factories[sel.Name]
	if !ok {
		return nil, fmt.Errorf("unknown caller plugin %q (built-in: %s)", sel.Name, strings.Join(Names(), ", "))
	}
	return factory(sel.Options)
}

// noOp passes chunks through without basecalling.  Every result has an empty
// sequence, so downstream classification lands on no_seq.
type noOp struct{}

func newNoOp(config.Options) (Caller, error) { return noOp{}, nil }

func (noOp) Basecall(ctx context.Context, batch []reads.Chunk) <-chan reads.Result {
	out := make(chan reads.Result, len(batch))
	for _, c := range batch {
		out <- reads.Result{Channel: c.Channel, Number: c.Number, ID: c.ID}
	}
	close(out)
	return out
}

func (noOp) Validate(context.Context) error { return nil }

func (noOp) Describe() string { return "no-op caller (passes chunks through without basecalling)" }

func (noOp) Close(context.Context) error { return nil }
