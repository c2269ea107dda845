package decision

import (
	"sync"
	"time"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/log"
	"github.com/grailbio/readuntil/reads"
)

// readState is the tracker's per-read record.
type readState struct {
	// cumulative chunk count across batches.
	nChunks int
	// terminal is Proceed while the read is live, else the terminal action
	// already dispatched.
	terminal reads.ActionKind
	ended    bool
	// lastTouch is the last time the read was seen.
	lastTouch time.Time
}

// touchKey orders tracker entries by touch time for the GC sweep.  Entries
// are inserted once and allowed to go stale; the sweep consults the live
// state before evicting and re-queues entries touched since.
type touchKey struct {
	at  int64 // UnixNano
	key reads.Key
}

// Compare implements llrb.Comparable.
func (k touchKey) Compare(c llrb.Comparable) int {
	k2 := c.(touchKey)
	if k.at != k2.at {
		if k.at < k2.at {
			return -1
		}
		return 1
	}
	switch {
	case k.key < k2.key:
		return -1
	case k.key > k2.key:
		return 1
	}
	return 0
}

// Tracker records, per (channel, read number), the cumulative chunk count
// and whether a terminal action has been dispatched.  It never fails:
// repeated or conflicting actions are suppressed silently.
type Tracker struct {
	mu      sync.Mutex
	reads   map[reads.Key]*readState
	byTouch llrb.Tree
	now     func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		reads: make(map[reads.Key]*readState),
		now:   time.Now,
	}
}

func (t *Tracker) state(key reads.Key) *readState {
	s, ok := t.reads[key]
	if !ok {
		s = &readState{terminal: reads.Proceed, lastTouch: t.now()}
		t.reads[key] = s
		t.byTouch.Insert(touchKey{at: s.lastTouch.UnixNano(), key: key})
	}
	return s
}

// NoteChunks accumulates n freshly drained chunks for a read and returns the
// cumulative count.  The count survives cache drains, so min/max-chunk
// gating sees the whole read, not one batch.
func (t *Tracker) NoteChunks(key reads.Key, n int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(key)
	s.nChunks += n
	s.lastTouch = t.now()
	return s.nChunks
}

// Terminal reports whether a terminal action was already dispatched for the
// read, or its end was signalled by the instrument.  Late chunks for such
// reads are discarded without analysis.
func (t *Tracker) Terminal(key reads.Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.reads[key]
	return ok && (s.terminal != reads.Proceed || s.ended)
}

// Record applies a decided action for a read and reports whether it should
// be dispatched.  Proceed never dispatches.  The first terminal action wins;
// everything after it — including a later above-max-chunks unblock once a
// stop-receiving was sent — is suppressed.
func (t *Tracker) Record(key reads.Key, kind reads.ActionKind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(key)
	s.lastTouch = t.now()
	if s.terminal != reads.Proceed || s.ended {
		return false
	}
	if kind == reads.Proceed {
		return false
	}
	s.terminal = kind
	return true
}

// ReadEnded notes the instrument's read-end signal, making any late chunks
// for the read discardable.
func (t *Tracker) ReadEnded(key reads.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(key)
	s.ended = true
	s.lastTouch = t.now()
}

// Len returns the number of tracked reads.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.reads)
}

// Sweep evicts reads untouched for at least ttl and returns the number
// evicted.  Stale queue entries for reads touched since are re-queued at
// their current touch time.
func (t *Tracker) Sweep(ttl time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-ttl).UnixNano()
	evicted := 0
	for {
		min := t.byTouch.Min()
		if min == nil {
			break
		}
		tk := min.(touchKey)
		if tk.at > cutoff {
			break
		}
		t.byTouch.Delete(tk)
		s, ok := t.reads[tk.key]
		if !ok {
			continue
		}
		if s.lastTouch.UnixNano() > tk.at {
			if s.lastTouch.UnixNano() > cutoff {
				// Touched since this queue entry was written; re-queue.
				t.byTouch.Insert(touchKey{at: s.lastTouch.UnixNano(), key: tk.key})
				continue
			}
		}
		delete(t.reads, tk.key)
		evicted++
	}
	if evicted > 0 {
		log.Debug.Printf("decision: tracker swept %d read(s), %d live", evicted, len(t.reads))
	}
	return evicted
}
