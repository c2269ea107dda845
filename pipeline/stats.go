package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/grailbio/readuntil/reads"
)

// Stats represents high-level statistics for a pipeline run.
type Stats struct {
	// Batches is the number of non-empty batches processed.
	Batches int
	// Chunks is the number of chunks analyzed (after terminal-read drops).
	Chunks int
	// SlowBatches counts batches whose wall-clock time exceeded the
	// instrument's chunk duration.
	SlowBatches int
	// TotalBatchTime accumulates wall-clock batch time.
	TotalBatchTime time.Duration
	// CallerErrors counts per-chunk basecall failures.
	CallerErrors int
	// TerminalDrops counts chunks discarded because their read already
	// received a terminal action or ended.
	TerminalDrops int
	// PhaseDrops counts chunks discarded outside the sequencing phase.
	PhaseDrops int
	// Decisions counts classifications by outcome.
	Decisions [reads.NumDecisions]int
	// Unblocks, StopReceives and Proceeds count dispatched (or, for
	// proceeds, withheld) actions after tracker suppression.
	Unblocks     int
	StopReceives int
	Proceeds     int
}

// Merge adds the field values of the two Stats objects and creates new
// Stats.
func (s Stats) Merge(o Stats) Stats {
	s.Batches += o.Batches
	s.Chunks += o.Chunks
	s.SlowBatches += o.SlowBatches
	s.TotalBatchTime += o.TotalBatchTime
	s.CallerErrors += o.CallerErrors
	s.TerminalDrops += o.TerminalDrops
	s.PhaseDrops += o.PhaseDrops
	for i, n := range o.Decisions {
		s.Decisions[i] += n
	}
	s.Unblocks += o.Unblocks
	s.StopReceives += o.StopReceives
	s.Proceeds += o.Proceeds
	return s
}

// Summary renders the run totals for the final log line.
func (s Stats) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "batches=%d chunks=%d slow=%d", s.Batches, s.Chunks, s.SlowBatches)
	if s.Batches > 0 {
		fmt.Fprintf(&b, " mean_batch=%v", s.TotalBatchTime/time.Duration(s.Batches))
	}
	fmt.Fprintf(&b, " unblock=%d stop_receiving=%d proceed=%d", s.Unblocks, s.StopReceives, s.Proceeds)
	for d := reads.Decision(1); d < reads.NumDecisions; d++ {
		if s.Decisions[d] > 0 {
			fmt.Fprintf(&b, " %s=%d", d, s.Decisions[d])
		}
	}
	if s.CallerErrors > 0 {
		fmt.Fprintf(&b, " caller_errors=%d", s.CallerErrors)
	}
	if s.TerminalDrops > 0 {
		fmt.Fprintf(&b, " terminal_drops=%d", s.TerminalDrops)
	}
	if s.PhaseDrops > 0 {
		fmt.Fprintf(&b, " phase_drops=%d", s.PhaseDrops)
	}
	return b.String()
}
