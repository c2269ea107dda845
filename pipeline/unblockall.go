package pipeline

import (
	"context"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/readuntil/decision"
	"github.com/grailbio/readuntil/device"
	"github.com/grailbio/readuntil/reads"
)

// UnblockAll dispatches an unblock for the first chunk of every read seen,
// bypassing caller and aligner entirely.  It measures the floor of the
// receive→dispatch latency path and is only useful as a diagnostic drill.
// It returns when the context is cancelled or the chunk stream closes.
func UnblockAll(ctx context.Context, conn device.Conn, unblockDuration float64) (Stats, error) {
	tracker := decision.NewTracker()
	stats := Stats{}
	chunks, err := conn.Reads(ctx)
	if err != nil {
		return stats, err
	}
	lastGC := time.Now()
	for {
		select {
		case <-ctx.Done():
			log.Printf("pipeline: unblock-all done: %s", stats.Summary())
			return stats, nil
		case c, ok := <-chunks:
			if !ok {
				log.Printf("pipeline: unblock-all done: %s", stats.Summary())
				return stats, nil
			}
			stats.Chunks++
			if tracker.Record(c.Key(), reads.Unblock) {
				stats.Unblocks++
				a := reads.Action{
					Kind:     reads.Unblock,
					Channel:  c.Channel,
					Number:   c.Number,
					Duration: unblockDuration,
				}
				if err := conn.Submit(ctx, a); err != nil {
					return stats, err
				}
			} else {
				stats.TerminalDrops++
			}
			if time.Since(lastGC) > time.Minute {
				tracker.Sweep(time.Minute)
				lastGC = time.Now()
			}
		}
	}
}
