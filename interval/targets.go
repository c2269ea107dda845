package interval

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
	"github.com/klauspost/compress/gzip"
)

// PosType is TargetUnion's coordinate type.
type PosType int32

const posTypeMax = math.MaxInt32

// Strand identifies the reference strand an interval applies to.
type Strand int8

const (
	// Forward is the + strand.
	Forward Strand = 1
	// Reverse is the - strand.
	Reverse Strand = -1
)

func (s Strand) String() string {
	if s == Reverse {
		return "-"
	}
	return "+"
}

// ParseStrand parses a "+" or "-" strand token.
func ParseStrand(token string) (Strand, error) {
	switch token {
	case "+":
		return Forward, nil
	case "-":
		return Reverse, nil
	}
	return Forward, fmt.Errorf("invalid strand %q (must be + or -)", token)
}

// bothStrands is the strand set for intervals that apply regardless of
// orientation.
var bothStrands = []Strand{Forward, Reverse}

// Entry is a single target interval before merging, with 0-based half-open
// coordinates.  A whole-contig target has Start 0 and End WholeContigEnd.
type Entry struct {
	Contig  string
	Start   PosType
	End     PosType
	Strands []Strand
}

// WholeContigEnd is the End value denoting an open-ended (whole contig)
// target.
const WholeContigEnd = PosType(posTypeMax)

// WholeContig returns an Entry covering all of contig on both strands.
func WholeContig(contig string) Entry {
	return Entry{Contig: contig, Start: 0, End: WholeContigEnd, Strands: bothStrands}
}

type strandKey struct {
	contig string
	strand Strand
}

// TargetUnion stores, per (contig, strand), a merged set of disjoint target
// intervals as a sorted length-2N sequence: element [2k] is the (0-based)
// start of interval #k and [2k+1] its end.  This flat representation keeps
// containment queries to a binary search over []PosType and makes
// whole-contig markers a degenerate [-1, posTypeMax) span that any position
// falls inside.
type TargetUnion struct {
	m map[strandKey][]PosType
	// contigs is the sorted set of contig names with at least one target.
	contigs []string
	// nIntervals counts stored intervals across all (contig, strand) sets.
	nIntervals int
}

// NewFromEntries builds a TargetUnion from entries in any order.  Entries on
// the same (contig, strand) are merged when they touch or overlap, and empty
// intervals are dropped.  A whole-contig entry subsumes every other interval
// on its (contig, strand).
func NewFromEntries(entries []Entry) (*TargetUnion, error) {
	grouped := make(map[strandKey][]Entry)
	for _, e := range entries {
		if e.Contig == "" {
			return nil, fmt.Errorf("interval.NewFromEntries: empty contig name")
		}
		if e.Start < 0 {
			return nil, fmt.Errorf("interval.NewFromEntries: negative start coordinate %d on %s", e.Start, e.Contig)
		}
		if e.End < e.Start {
			return nil, fmt.Errorf("interval.NewFromEntries: invalid coordinate pair [%d, %d) on %s", e.Start, e.End, e.Contig)
		}
		strands := e.Strands
		if len(strands) == 0 {
			strands = bothStrands
		}
		for _, s := range strands {
			grouped[strandKey{e.Contig, s}] = append(grouped[strandKey{e.Contig, s}], e)
		}
	}

	u := &TargetUnion{m: make(map[strandKey][]PosType)}
	contigSet := make(map[string]bool)
	for key, group := range grouped {
		sort.Slice(group, func(i, j int) bool { return group[i].Start < group[j].Start })
		var spans []PosType
		whole := false
		var prevStart, prevEnd PosType = -1, -1
		for _, e := range group {
			if e.End == WholeContigEnd && e.Start == 0 {
				whole = true
				break
			}
			if e.End == e.Start {
				continue
			}
			if prevEnd == -1 {
				prevStart, prevEnd = e.Start, e.End
				continue
			}
			if e.Start > prevEnd {
				spans = append(spans, prevStart, prevEnd)
				prevStart, prevEnd = e.Start, e.End
			} else if e.End > prevEnd {
				prevEnd = e.End
			}
		}
		if whole {
			spans = []PosType{-1, posTypeMax}
		} else {
			if prevEnd == -1 {
				continue
			}
			spans = append(spans, prevStart, prevEnd)
		}
		u.m[key] = spans
		u.nIntervals += len(spans) / 2
		contigSet[key.contig] = true
	}
	for contig := range contigSet {
		u.contigs = append(u.contigs, contig)
	}
	sort.Strings(u.contigs)
	return u, nil
}

// Contains checks whether the (0-based) position [pos, pos+1) on
// (contig, strand) falls within any target.  An unknown contig answers
// false.  The spans for a key are disjoint sorted endpoints, so the position
// is on-target exactly when an odd number of endpoints lie at or before it.
// The union is read-only after construction; Contains is safe for
// concurrent callers.
func (u *TargetUnion) Contains(contig string, strand Strand, pos PosType) bool {
	spans := u.m[strandKey{contig, strand}]
	if spans == nil {
		return false
	}
	i := sort.Search(len(spans), func(i int) bool { return spans[i] > pos })
	return i&1 == 1
}

// Contigs returns the sorted contig names with at least one target.
func (u *TargetUnion) Contigs() []string { return u.contigs }

// NumIntervals returns the number of stored merged intervals.
func (u *TargetUnion) NumIntervals() int { return u.nIntervals }

// ValidateContigs checks that every target contig exists in the reference
// described by header, returning an error naming all unknown contigs.
func (u *TargetUnion) ValidateContigs(header *sam.Header) error {
	known := make(map[string]bool)
	for _, ref := range header.Refs() {
		known[ref.Name()] = true
	}
	var missing []string
	for _, contig := range u.contigs {
		if !known[contig] {
			missing = append(missing, contig)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("target contig(s) not present in reference: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Opts defines behavior of this package's target-loading functions.
type Opts struct {
	// OneBasedInput interprets interval boundaries as one-based [start, end]
	// instead of the usual zero-based [start, end).
	OneBasedInput bool
}

// NewFromBED loads targets from a six-column BED
// (contig, start, end, name, score, strand).  Intervals need not be sorted;
// overlapping intervals on one (contig, strand) are merged.
func NewFromBED(reader io.Reader, opts Opts) (*TargetUnion, error) {
	var startSubtract PosType
	if opts.OneBasedInput {
		startSubtract = 1
	}
	scanner := bufio.NewScanner(reader)
	var entries []Entry
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		// The first six columns are meaningful; BED6+ annotation columns are
		// ignored.
		fields := bytes.Fields(scanner.Bytes())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 6 {
			return nil, fmt.Errorf("interval.NewFromBED: line %d has %d column(s), need 6 (contig start end name score strand)", lineIdx, len(fields))
		}
		start, err := strconv.Atoi(gunsafe.BytesToString(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("interval.NewFromBED: bad start on line %d: %v", lineIdx, err)
		}
		end, err := strconv.Atoi(gunsafe.BytesToString(fields[2]))
		if err != nil {
			return nil, fmt.Errorf("interval.NewFromBED: bad end on line %d: %v", lineIdx, err)
		}
		if end >= posTypeMax || start < 0 {
			return nil, fmt.Errorf("interval.NewFromBED: coordinate out of range on line %d", lineIdx)
		}
		strand, err := ParseStrand(gunsafe.BytesToString(fields[5]))
		if err != nil {
			return nil, fmt.Errorf("interval.NewFromBED: line %d: %v", lineIdx, err)
		}
		entries = append(entries, Entry{
			Contig:  string(fields[0]),
			Start:   PosType(start) - startSubtract,
			End:     PosType(end),
			Strands: []Strand{strand},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	u, err := NewFromEntries(entries)
	if err != nil {
		return nil, err
	}
	log.Debug.Printf("BED targets loaded: %d merged interval(s) on %d contig(s)", u.NumIntervals(), len(u.Contigs()))
	return u, nil
}

// parseSpec parses one CSV-style target spec: either "contig" (whole contig,
// both strands) or "contig,start,end,strand".
func parseSpec(spec string) (Entry, error) {
	fields := strings.Split(spec, ",")
	switch len(fields) {
	case 1:
		if fields[0] == "" {
			return Entry{}, fmt.Errorf("empty contig name")
		}
		return WholeContig(fields[0]), nil
	case 4:
		start, err := strconv.Atoi(fields[1])
		if err != nil {
			return Entry{}, fmt.Errorf("bad start %q: %v", fields[1], err)
		}
		end, err := strconv.Atoi(fields[2])
		if err != nil {
			return Entry{}, fmt.Errorf("bad end %q: %v", fields[2], err)
		}
		if start < 0 || end >= posTypeMax {
			return Entry{}, fmt.Errorf("coordinate out of range in %q", spec)
		}
		strand, err := ParseStrand(fields[3])
		if err != nil {
			return Entry{}, err
		}
		return Entry{Contig: fields[0], Start: PosType(start), End: PosType(end), Strands: []Strand{strand}}, nil
	}
	return Entry{}, fmt.Errorf("target spec %q must be contig or contig,start,end,strand", spec)
}

// NewFromCSV loads targets from headerless CSV lines of the form "contig" or
// "contig,start,end,strand".
func NewFromCSV(reader io.Reader) (*TargetUnion, error) {
	scanner := bufio.NewScanner(reader)
	var entries []Entry
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		e, err := parseSpec(line)
		if err != nil {
			return nil, fmt.Errorf("interval.NewFromCSV: line %d: %v", lineIdx, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewFromEntries(entries)
}

// NewFromStrings loads targets from inline specs, each "contig" or
// "contig,start,end,strand".
func NewFromStrings(specs []string) (*TargetUnion, error) {
	entries := make([]Entry, 0, len(specs))
	for _, spec := range specs {
		e, err := parseSpec(strings.TrimSpace(spec))
		if err != nil {
			return nil, fmt.Errorf("interval.NewFromStrings: %v", err)
		}
		entries = append(entries, e)
	}
	return NewFromEntries(entries)
}

// NewFromPath loads a target file, dispatching on extension: .bed for BED,
// .csv for CSV, each optionally gzipped.
func NewFromPath(path string, opts Opts) (u *TargetUnion, err error) {
	ctx := vcontext.Background()
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader := io.Reader(infile.Reader(ctx))
	name := path
	if fileio.DetermineType(path) == fileio.Gzip {
		if reader, err = gzip.NewReader(reader); err != nil {
			return
		}
		name = strings.TrimSuffix(path, ".gz")
	}
	switch {
	case strings.HasSuffix(name, ".bed"):
		return NewFromBED(reader, opts)
	case strings.HasSuffix(name, ".csv"):
		return NewFromCSV(reader)
	}
	return nil, fmt.Errorf("interval.NewFromPath: %s: unsupported target file type (need .bed or .csv, optionally gzipped)", path)
}
