// Package decision implements the per-read policy core: classifying an
// aligned result into one of the named outcomes, and the action tracker that
// enforces at-most-one terminal action per read.
package decision

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/readuntil/config"
	"github.com/grailbio/readuntil/interval"
	"github.com/grailbio/readuntil/reads"
)

// maxCoord is the largest reference coordinate the target index can answer;
// anything beyond it is off-target by construction.
const maxCoord = int64(1<<31 - 2)

// Classify assigns a decision to a result under cond, given the cumulative
// chunk count for the read.  It is a pure function of its inputs and never
// fails: an alignment record with nonsensical fields reclassifies the result
// as no_map with a warning.
//
// The coordinate checked against the targets is the 3' end of each alignment
// on the sequencing strand (REnd on +, RStart on -): where the molecule is
// now, given what has already translocated through the pore.
func Classify(r *reads.Result, cond *config.Condition, nChunks int) reads.Decision {
	if nChunks < cond.MinChunks {
		return reads.BelowMinChunks
	}
	if nChunks > cond.MaxChunks {
		return reads.AboveMaxChunks
	}
	if r.Seq == "" {
		return reads.NoSeq
	}
	if len(r.Alignments) == 0 {
		return reads.NoMap
	}
	hits := 0
	for _, a := range r.Alignments {
		if a.Contig == "" || a.REnd < a.RStart || a.RStart < 0 {
			log.Error.Printf("decision: read %s: malformed alignment %+v, classifying as no_map", r.Key(), a)
			return reads.NoMap
		}
		if cond.Targets == nil {
			continue
		}
		coord := a.SequencingEnd()
		if coord > maxCoord {
			continue
		}
		strand := interval.Forward
		if a.Strand < 0 {
			strand = interval.Reverse
		}
		if cond.Targets.Contains(a.Contig, strand, interval.PosType(coord)) {
			hits++
		}
	}
	if len(r.Alignments) == 1 {
		if hits > 0 {
			return reads.SingleOn
		}
		return reads.SingleOff
	}
	if hits > 0 {
		return reads.MultiOn
	}
	return reads.MultiOff
}

// Act maps a decision to the dispatched action under cond.  A control
// condition observes only: its classification stands, but the action
// collapses to proceed.
func Act(cond *config.Condition, d reads.Decision) reads.ActionKind {
	if cond.Control {
		return reads.Proceed
	}
	return cond.Action(d)
}
