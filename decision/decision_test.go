package decision

import (
	"testing"

	"github.com/grailbio/readuntil/config"
	"github.com/grailbio/readuntil/interval"
	"github.com/grailbio/readuntil/reads"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func targets(t *testing.T, specs ...string) *interval.TargetUnion {
	u, err := interval.NewFromStrings(specs)
	require.NoError(t, err)
	return u
}

func policy(t *testing.T, control bool, minChunks, maxChunks int) *config.Condition {
	return config.NewCondition("test", control, minChunks, maxChunks,
		targets(t, "chr20,0,100000,+", "chr20,0,100000,-"),
		map[reads.Decision]reads.ActionKind{
			reads.SingleOn:       reads.StopReceiving,
			reads.MultiOn:        reads.StopReceiving,
			reads.SingleOff:      reads.Unblock,
			reads.MultiOff:       reads.Unblock,
			reads.NoSeq:          reads.Proceed,
			reads.NoMap:          reads.Proceed,
			reads.AboveMaxChunks: reads.Unblock,
			reads.BelowMinChunks: reads.Proceed,
		})
}

func result(seq string, alns ...reads.Alignment) *reads.Result {
	return &reads.Result{Channel: 100, Number: 1, ID: "r", Seq: seq, Alignments: alns}
}

func TestClassify(t *testing.T) {
	cond := policy(t, false, 0, 99)
	tests := []struct {
		name string
		r    *reads.Result
		want reads.Decision
	}{
		{"single_on", result("ACGT", reads.Alignment{Contig: "chr20", Strand: 1, RStart: 0, REnd: 500}), reads.SingleOn},
		{"single_off", result("ACGT", reads.Alignment{Contig: "chrX", Strand: 1, RStart: 0, REnd: 500}), reads.SingleOff},
		{"multi_on", result("ACGT",
			reads.Alignment{Contig: "chrX", Strand: 1, RStart: 0, REnd: 500},
			reads.Alignment{Contig: "chr20", Strand: 1, RStart: 100, REnd: 900}), reads.MultiOn},
		{"multi_off", result("ACGT",
			reads.Alignment{Contig: "chrX", Strand: 1, RStart: 0, REnd: 500},
			reads.Alignment{Contig: "chrY", Strand: 1, RStart: 0, REnd: 500}), reads.MultiOff},
		{"no_map", result("ACGT"), reads.NoMap},
		{"no_seq", result(""), reads.NoSeq},
	}
	for _, tt := range tests {
		expect.EQ(t, Classify(tt.r, cond, 1), tt.want)
	}
}

// The query coordinate is the 3' end on the sequencing strand: REnd on a
// forward alignment, RStart on a reverse one.
func TestCoordinateSemantics(t *testing.T) {
	cond := config.NewCondition("c", false, 0, 99,
		targets(t, "chr1,1000,2000,+", "chr1,1000,2000,-"),
		map[reads.Decision]reads.ActionKind{})

	// Forward: started before the window, 3' end inside it.
	fwd := result("ACGT", reads.Alignment{Contig: "chr1", Strand: 1, RStart: 0, REnd: 1500})
	expect.EQ(t, Classify(fwd, cond, 1), reads.SingleOn)
	// Forward: entirely before the window.
	fwdOff := result("ACGT", reads.Alignment{Contig: "chr1", Strand: 1, RStart: 0, REnd: 900})
	expect.EQ(t, Classify(fwdOff, cond, 1), reads.SingleOff)
	// Reverse: RStart inside the window even though REnd is outside.
	rev := result("ACGT", reads.Alignment{Contig: "chr1", Strand: -1, RStart: 1500, REnd: 3000})
	expect.EQ(t, Classify(rev, cond, 1), reads.SingleOn)
	// Reverse: RStart past the window.
	revOff := result("ACGT", reads.Alignment{Contig: "chr1", Strand: -1, RStart: 2500, REnd: 3000})
	expect.EQ(t, Classify(revOff, cond, 1), reads.SingleOff)
}

func TestChunkGating(t *testing.T) {
	cond := policy(t, false, 2, 4)
	on := result("ACGT", reads.Alignment{Contig: "chr20", Strand: 1, RStart: 0, REnd: 500})

	expect.EQ(t, Classify(on, cond, 1), reads.BelowMinChunks)
	expect.EQ(t, Classify(on, cond, 2), reads.SingleOn)
	expect.EQ(t, Classify(on, cond, 4), reads.SingleOn)
	// The max-chunks branch supersedes classification.
	expect.EQ(t, Classify(on, cond, 5), reads.AboveMaxChunks)
}

func TestMinChunksZeroNeverFires(t *testing.T) {
	cond := policy(t, false, 0, 99)
	for n := 1; n < 10; n++ {
		expect.True(t, Classify(result(""), cond, n) != reads.BelowMinChunks)
	}
}

func TestMalformedAlignment(t *testing.T) {
	cond := policy(t, false, 0, 99)
	r := result("ACGT", reads.Alignment{Contig: "", Strand: 1, RStart: 0, REnd: 500})
	expect.EQ(t, Classify(r, cond, 1), reads.NoMap)
	r = result("ACGT", reads.Alignment{Contig: "chr20", Strand: 1, RStart: 500, REnd: 100})
	expect.EQ(t, Classify(r, cond, 1), reads.NoMap)
}

func TestControlForcesProceed(t *testing.T) {
	control := policy(t, true, 0, 99)
	r := result("ACGT", reads.Alignment{Contig: "chr20", Strand: 1, RStart: 0, REnd: 500})
	// Classification still runs for statistics...
	expect.EQ(t, Classify(r, control, 1), reads.SingleOn)
	// ...but the dispatched action collapses to proceed.
	expect.EQ(t, Act(control, reads.SingleOn), reads.Proceed)
	expect.EQ(t, Act(control, reads.AboveMaxChunks), reads.Proceed)

	live := policy(t, false, 0, 99)
	expect.EQ(t, Act(live, reads.SingleOn), reads.StopReceiving)
	expect.EQ(t, Act(live, reads.SingleOff), reads.Unblock)
}
