// Package reads defines the data model shared across the adaptive-sampling
// pipeline: raw signal chunks delivered by the instrument, basecalled and
// aligned results, the decisions assigned to them, and the actions sent back
// to the flow cell.
package reads

import "fmt"

// Chunk is one delivery of raw signal from the instrument for an in-progress
// read.  Chunks for the same read share Channel, Number and ID; only the most
// recent chunk on a channel is ever analyzed.
type Chunk struct {
	// Channel is the pore position, in [1, channel count].
	Channel int
	// Number is the instrument-assigned read number.  It increases
	// monotonically per channel but is not contiguous.
	Number uint32
	// ID is the instrument-assigned read identifier (a UUID-like string).
	ID string
	// Signal is the raw signal payload for this chunk.
	Signal []byte
	// StartSample is the sample offset of this chunk within the read.
	StartSample uint64
	// ChunkLength is the number of samples in Signal.
	ChunkLength uint64
	// Median and MedianBefore are the instrument's current-level summaries.
	Median       float32
	MedianBefore float32
	// Classifications are the instrument-side chunk classifications, passed
	// through untouched.
	Classifications []string
}

// Key returns the read identity key for the chunk.
func (c Chunk) Key() Key { return MakeKey(c.Channel, c.Number) }

// Key identifies a read as (channel, read number) packed into one word.
// Read numbers are unique within a channel, so the pair is unique per run.
type Key uint64

// MakeKey packs a (channel, read number) pair.
func MakeKey(channel int, number uint32) Key {
	return Key(uint64(channel)<<32 | uint64(number))
}

// Channel returns the channel component of the key.
func (k Key) Channel() int { return int(k >> 32) }

// Number returns the read-number component of the key.
func (k Key) Number() uint32 { return uint32(k) }

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.Channel(), k.Number())
}

// Alignment is a single mapping of a basecalled sequence against the
// reference.  Coordinates are zero-based half-open on the reference.
type Alignment struct {
	Contig string
	// Strand is +1 for a forward-strand alignment, -1 for reverse.
	Strand int8
	RStart int64
	REnd   int64
	// MapQ is the mapping quality reported by the aligner.
	MapQ int
}

// SequencingEnd returns the reference coordinate of the 3' end of the
// alignment on the sequencing strand: REnd for a forward alignment, RStart
// for a reverse one.  This is where the molecule currently is, given what has
// already translocated through the pore.
func (a Alignment) SequencingEnd() int64 {
	if a.Strand < 0 {
		return a.RStart
	}
	return a.REnd
}

// Result is a basecalled chunk, optionally extended with alignments and a
// decision as it moves down the pipeline.
type Result struct {
	Channel int
	Number  uint32
	ID      string
	// Barcode is the basecaller-reported barcode name, "" when barcoding is
	// off and "unclassified" when no barcode was called.
	Barcode string
	Seq     string
	Qual    string
	// Err is set when basecalling this particular chunk failed; the sequence
	// is empty in that case and classification proceeds as no_seq.
	Err error
	// Alignments is ordered primary-first.  Empty means no mapping.
	Alignments []Alignment
	Decision   Decision
}

// Key returns the read identity key for the result.
func (r *Result) Key() Key { return MakeKey(r.Channel, r.Number) }

// Decision is the classification outcome assigned to a result by the
// decision engine.
type Decision uint8

const (
	NoDecision Decision = iota
	SingleOn
	MultiOn
	SingleOff
	MultiOff
	NoSeq
	NoMap
	AboveMaxChunks
	BelowMinChunks

	// NumDecisions sizes per-decision tables.
	NumDecisions
)

var decisionNames = [NumDecisions]string{
	NoDecision:     "none",
	SingleOn:       "single_on",
	MultiOn:        "multi_on",
	SingleOff:      "single_off",
	MultiOff:       "multi_off",
	NoSeq:          "no_seq",
	NoMap:          "no_map",
	AboveMaxChunks: "above_max_chunks",
	BelowMinChunks: "below_min_chunks",
}

func (d Decision) String() string {
	if d < NumDecisions {
		return decisionNames[d]
	}
	return fmt.Sprintf("decision(%d)", uint8(d))
}

// ActionKind is the command issued back to the instrument for a read.
type ActionKind uint8

const (
	// Proceed waits for more signal before re-deciding.  No command is sent.
	Proceed ActionKind = iota
	// Unblock reverses the pore voltage and ejects the molecule.
	Unblock
	// StopReceiving lets the read finish but stops streaming its chunks.
	StopReceiving
)

func (k ActionKind) String() string {
	switch k {
	case Proceed:
		return "proceed"
	case Unblock:
		return "unblock"
	case StopReceiving:
		return "stop_receiving"
	}
	return fmt.Sprintf("action(%d)", uint8(k))
}

// ParseActionKind parses a configuration action token.
func ParseActionKind(token string) (ActionKind, error) {
	switch token {
	case "proceed":
		return Proceed, nil
	case "unblock":
		return Unblock, nil
	case "stop_receiving":
		return StopReceiving, nil
	}
	return Proceed, fmt.Errorf("invalid action token %q", token)
}

// ActionTokens lists the valid configuration action tokens.
var ActionTokens = []string{"unblock", "stop_receiving", "proceed"}

// Action is a command for one read, ready for dispatch.
type Action struct {
	Kind    ActionKind
	Channel int
	Number  uint32
	// Duration is the unblock voltage-flip duration in seconds.  Zero lets
	// the instrument use its default.  Ignored for StopReceiving.
	Duration float64
}
