// Package flowcell maps sequencing channels to the experiment condition that
// governs them.  The map is a pure function of the flow-cell layout, the
// split axis, and the region count; barcode conditions, when configured,
// take precedence over the spatial regions.
package flowcell

import (
	"fmt"

	"github.com/grailbio/readuntil/config"
)

// Layout describes the physical arrangement of channels on a flow cell.
// Channel c (1-based) sits at cell Perm[c-1] in row-major order; a nil Perm
// means channels are numbered row-major already.  Vendor-specific numbering
// is supplied as a permutation table obtained out-of-band.
type Layout struct {
	Rows int
	Cols int
	Perm []int
}

// NewLayout derives a near-square row-major layout for a channel count, the
// default when no vendor geometry is supplied.
func NewLayout(channels int) (Layout, error) {
	if channels <= 0 {
		return Layout{}, fmt.Errorf("flowcell.NewLayout: channel count must be positive, got %d", channels)
	}
	rows := 1
	for d := 2; d*d <= channels; d++ {
		if channels%d == 0 {
			rows = d
		}
	}
	return Layout{Rows: rows, Cols: channels / rows}, nil
}

// Channels returns the number of channels in the layout.
func (l Layout) Channels() int { return l.Rows * l.Cols }

// Cell returns the (row, col) of a 1-based channel number.
func (l Layout) Cell(channel int) (row, col int, err error) {
	if channel < 1 || channel > l.Channels() {
		return 0, 0, fmt.Errorf("flowcell: channel %d out of range [1, %d]", channel, l.Channels())
	}
	idx := channel - 1
	if l.Perm != nil {
		if len(l.Perm) != l.Channels() {
			return 0, 0, fmt.Errorf("flowcell: permutation table has %d entries for %d channels", len(l.Perm), l.Channels())
		}
		idx = l.Perm[idx]
		if idx < 0 || idx >= l.Channels() {
			return 0, 0, fmt.Errorf("flowcell: permutation entry %d out of range", idx)
		}
	}
	return idx / l.Cols, idx % l.Cols, nil
}

// Axis values for region splits.
const (
	// AxisRows splits the flow cell into R horizontal bands.
	AxisRows = 0
	// AxisCols splits the flow cell into R vertical bands.
	AxisCols = 1
)

// Map resolves channels (and barcodes) to conditions.  It is immutable after
// New and safe for concurrent readers.
type Map struct {
	regionOf []int // channel-1 -> region index; nil when no regions
	regions  []*config.Condition
	barcodes map[string]*config.Condition
}

// New precomputes the channel→condition map for an experiment.  The region
// count must divide the flow-cell dimension selected by the split axis.
func New(layout Layout, exp *config.Experiment) (*Map, error) {
	m := &Map{regions: exp.Regions, barcodes: exp.Barcodes}
	nRegion := len(exp.Regions)
	if nRegion == 0 {
		if !exp.BarcodingEnabled() {
			return nil, fmt.Errorf("flowcell.New: no regions and no barcode conditions configured")
		}
		return m, nil
	}
	var dim int
	switch exp.SplitAxis {
	case AxisRows:
		dim = layout.Rows
	case AxisCols:
		dim = layout.Cols
	default:
		return nil, fmt.Errorf("flowcell.New: split axis must be 0 or 1, got %d", exp.SplitAxis)
	}
	if dim%nRegion != 0 {
		return nil, fmt.Errorf("flowcell.New: %d region(s) do not evenly divide the %d-unit split dimension", nRegion, dim)
	}
	band := dim / nRegion
	m.regionOf = make([]int, layout.Channels())
	for channel := 1; channel <= layout.Channels(); channel++ {
		row, col, err := layout.Cell(channel)
		if err != nil {
			return nil, err
		}
		pos := col
		if exp.SplitAxis == AxisRows {
			pos = row
		}
		m.regionOf[channel-1] = pos / band
	}
	return m, nil
}

// ConditionFor returns the condition governing (channel, barcode).  When any
// barcode condition is configured it wins: an exact name match selects that
// condition, an empty or "unclassified" barcode selects the unclassified
// condition, and any other name falls back to the classified condition.
// Otherwise the channel's region applies.  The result is deterministic; ok
// is false only for an out-of-range channel.
func (m *Map) ConditionFor(channel int, barcode string) (cond *config.Condition, ok bool) {
	if len(m.barcodes) > 0 {
		if barcode == "" {
			barcode = config.BarcodeUnclassified
		}
		if c, found := m.barcodes[barcode]; found {
			return c, true
		}
		return m.barcodes[config.BarcodeClassified], true
	}
	if channel < 1 || channel > len(m.regionOf) {
		return nil, false
	}
	return m.regions[m.regionOf[channel-1]], true
}

// RegionIndex returns the region index for a channel, for reporting.  It
// returns -1 when regions are not configured or the channel is out of range.
func (m *Map) RegionIndex(channel int) int {
	if channel < 1 || channel > len(m.regionOf) {
		return -1
	}
	return m.regionOf[channel-1]
}
