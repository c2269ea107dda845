// Package pipeline wires the adaptive-sampling hot path together: drain the
// chunk cache in batches, run caller and aligner over each batch, decide and
// dispatch actions, and keep per-batch timing honest against the
// instrument's chunk cadence.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/readuntil/basecall"
	"github.com/grailbio/readuntil/chunkcache"
	"github.com/grailbio/readuntil/decision"
	"github.com/grailbio/readuntil/device"
	"github.com/grailbio/readuntil/flowcell"
	"github.com/grailbio/readuntil/mapper"
	"github.com/grailbio/readuntil/reads"
)

// Opts tunes the driver.  Zero values select the defaults noted per field.
type Opts struct {
	// Throttle is the sleep after an empty drain.  Default 100ms.
	Throttle time.Duration
	// ChunkDuration is the instrument's advertised chunk cadence; a batch
	// slower than this is a slow batch.  Default 1s.
	ChunkDuration time.Duration
	// SlowBatchWindow and SlowBatchWarnRatio control the rolling slow-batch
	// warning: when more than the ratio of the last window batches were
	// slow, a warning is logged.  Defaults 100 and 0.5.
	SlowBatchWindow    int
	SlowBatchWarnRatio float64
	// UnblockDuration is attached to unblock actions, in seconds.
	UnblockDuration float64
	// GCInterval and GCTTL control tracker sweeps.  Defaults 30s and 5m.
	GCInterval time.Duration
	GCTTL      time.Duration
	// MaxFailedBatches bounds consecutive batches in which every chunk came
	// back with a caller error before the run is aborted as a lost caller
	// transport.  Default 3.
	MaxFailedBatches int
}

func (o *Opts) setDefaults() {
	if o.Throttle == 0 {
		o.Throttle = 100 * time.Millisecond
	}
	if o.ChunkDuration == 0 {
		o.ChunkDuration = time.Second
	}
	if o.SlowBatchWindow == 0 {
		o.SlowBatchWindow = 100
	}
	if o.SlowBatchWarnRatio == 0 {
		o.SlowBatchWarnRatio = 0.5
	}
	if o.GCInterval == 0 {
		o.GCInterval = 30 * time.Second
	}
	if o.GCTTL == 0 {
		o.GCTTL = 5 * time.Minute
	}
	if o.MaxFailedBatches == 0 {
		o.MaxFailedBatches = 3
	}
}

// Driver runs the pipeline loop for the duration of the sequencing phase.
type Driver struct {
	conn    device.Conn
	caller  basecall.Caller
	aligner mapper.Aligner
	cmap    *flowcell.Map
	opts    Opts

	cache   *chunkcache.Cache
	tracker *decision.Tracker

	// sequencing is 1 while the instrument advertises the sequencing phase.
	// The driver starts optimistic; the phase watch corrects it.
	sequencing int32

	mu    sync.Mutex
	stats Stats

	slowRing []bool
	slowIdx  int

	failedBatches int
}

// New assembles a driver.  The driver owns the cache and the tracker; the
// connection and plugins are borrowed.  Run closes both plugins on exit; the
// connection is left open for its owner to close.
func New(conn device.Conn, caller basecall.Caller, aligner mapper.Aligner, cmap *flowcell.Map, opts Opts) *Driver {
	opts.setDefaults()
	return &Driver{
		conn:       conn,
		caller:     caller,
		aligner:    aligner,
		cmap:       cmap,
		opts:       opts,
		cache:      chunkcache.New(),
		tracker:    decision.NewTracker(),
		sequencing: 1,
		slowRing:   make([]bool, opts.SlowBatchWindow),
	}
}

// Stats returns a snapshot of the run statistics.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Driver) addStats(delta Stats) {
	d.mu.Lock()
	d.stats = d.stats.Merge(delta)
	d.mu.Unlock()
}

func (d *Driver) isSequencing() bool { return atomic.LoadInt32(&d.sequencing) == 1 }

// Run executes the pipeline until the context is cancelled, the instrument
// completes, or the transport is lost beyond its reconnection budget.  Both
// plugins are closed on every exit path and a final stats summary is
// logged.
func (d *Driver) Run(ctx context.Context) (err error) {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var phaseComplete int32

	closeOnce := errors.Once{}
	defer func() {
		// Scoped teardown: plugin disconnects happen on all exit paths,
		// including panics unwinding through here.
		closeCtx := context.Background()
		closeOnce.Set(d.caller.Close(closeCtx))
		closeOnce.Set(d.aligner.Close(closeCtx))
		if err == nil {
			err = closeOnce.Err()
		}
		log.Printf("pipeline: final stats: %s", d.Stats().Summary())
	}()

	phases, err := d.conn.Phases(ctx)
	if err != nil {
		return errors.E(err, "opening phase stream")
	}
	go func() {
		for p := range phases {
			seq := int32(0)
			if p == device.PhaseSequencing {
				seq = 1
			}
			atomic.StoreInt32(&d.sequencing, seq)
			log.Printf("pipeline: instrument phase now %s", p)
			if p == device.PhaseComplete {
				atomic.StoreInt32(&phaseComplete, 1)
				cancel()
				return
			}
		}
	}()

	chunks, err := d.conn.Reads(ctx)
	if err != nil {
		return errors.E(err, "opening read stream")
	}
	transportLost := make(chan struct{})
	go func() {
		for c := range chunks {
			if !d.isSequencing() {
				d.addStats(Stats{PhaseDrops: 1})
				continue
			}
			if d.tracker.Terminal(c.Key()) {
				d.addStats(Stats{TerminalDrops: 1})
				continue
			}
			d.cache.Put(c)
		}
		close(transportLost)
		cancel()
	}()

	lastGC := time.Now()
	for ctx.Err() == nil {
		if time.Since(lastGC) >= d.opts.GCInterval {
			d.tracker.Sweep(d.opts.GCTTL)
			lastGC = time.Now()
		}
		if !d.isSequencing() {
			d.cache.Drain() // discard out-of-phase leftovers
			d.sleep(ctx)
			continue
		}
		batch := d.cache.Drain()
		if len(batch) == 0 {
			d.sleep(ctx)
			continue
		}
		if err := d.processBatch(ctx, batch); err != nil {
			return err
		}
	}

	select {
	case <-transportLost:
		if parent.Err() == nil && atomic.LoadInt32(&phaseComplete) == 0 {
			return errors.E("instrument transport lost")
		}
	default:
	}
	return nil
}

func (d *Driver) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(d.opts.Throttle):
	}
}

func (d *Driver) processBatch(ctx context.Context, batch []chunkcache.Entry) error {
	start := time.Now()
	delta := Stats{}

	chunks := make([]reads.Chunk, 0, len(batch))
	counts := make(map[reads.Key]int, len(batch))
	for _, e := range batch {
		key := e.Chunk.Key()
		if d.tracker.Terminal(key) {
			delta.TerminalDrops++
			continue
		}
		counts[key] = d.tracker.NoteChunks(key, e.NChunks)
		chunks = append(chunks, e.Chunk)
	}
	if len(chunks) == 0 {
		d.addStats(delta)
		return nil
	}

	results := d.aligner.Align(ctx, d.caller.Basecall(ctx, chunks))
	nResults, nErrors := 0, 0
	for r := range results {
		nResults++
		if r.Err != nil {
			nErrors++
			delta.CallerErrors++
		}
		cond, ok := d.cmap.ConditionFor(r.Channel, r.Barcode)
		if !ok {
			log.Error.Printf("pipeline: read %s: no condition for channel %d, skipping", r.ID, r.Channel)
			continue
		}
		dec := decision.Classify(&r, cond, counts[r.Key()])
		r.Decision = dec
		delta.Decisions[dec]++
		kind := decision.Act(cond, dec)
		if d.tracker.Record(r.Key(), kind) {
			action := reads.Action{Kind: kind, Channel: r.Channel, Number: r.Number}
			if kind == reads.Unblock {
				action.Duration = d.opts.UnblockDuration
				delta.Unblocks++
			} else {
				delta.StopReceives++
			}
			if err := d.conn.Submit(ctx, action); err != nil {
				return errors.E(err, "submitting action")
			}
		} else if kind == reads.Proceed {
			delta.Proceeds++
		}
	}

	elapsed := time.Since(start)
	delta.Batches = 1
	delta.Chunks = len(chunks)
	delta.TotalBatchTime = elapsed
	slow := elapsed > d.opts.ChunkDuration
	if slow {
		delta.SlowBatches++
	}
	d.noteSlow(slow)
	d.addStats(delta)
	log.Debug.Printf("pipeline: batch of %d chunk(s) in %v", len(chunks), elapsed)

	if nResults > 0 && nErrors == nResults {
		d.failedBatches++
		if d.failedBatches >= d.opts.MaxFailedBatches {
			return errors.E("caller transport lost:", d.failedBatches, "consecutive fully-failed batches")
		}
	} else {
		d.failedBatches = 0
	}
	return nil
}

// noteSlow maintains the rolling slow-batch window and logs a warning when
// the slow fraction crosses the threshold.  Observational only; behavior
// does not change.
func (d *Driver) noteSlow(slow bool) {
	d.slowRing[d.slowIdx] = slow
	d.slowIdx++
	if d.slowIdx < len(d.slowRing) {
		return
	}
	d.slowIdx = 0
	n := 0
	for _, s := range d.slowRing {
		if s {
			n++
		}
	}
	ratio := float64(n) / float64(len(d.slowRing))
	if ratio > d.opts.SlowBatchWarnRatio {
		log.Error.Printf("pipeline: %d of last %d batches exceeded the %v chunk duration; decisions are lagging the pore",
			n, len(d.slowRing), d.opts.ChunkDuration)
	}
}
