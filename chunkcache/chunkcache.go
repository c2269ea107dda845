// Package chunkcache implements the bounded cache between the instrument
// reader and the pipeline driver.  It holds at most one in-flight chunk per
// channel: new signal for the same read replaces the pending payload, and a
// new read on the channel displaces the previous one.  Draining atomically
// removes every pending entry as one batch.
package chunkcache

import (
	"encoding/binary"
	"sync"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/readuntil/reads"
)

const nShards = 64

// Entry is one pending chunk together with the number of chunks folded into
// it since the entry was created.  The counter survives same-read
// replacement but not a drain; the decision tracker adds each drained count
// to the read's running total used for min/max-chunk gating.
type Entry struct {
	Chunk   reads.Chunk
	NChunks int
}

// PutOutcome describes what an insert did, for accounting.
type PutOutcome int

const (
	// PutStarted began tracking a read on an idle channel.
	PutStarted PutOutcome = iota
	// PutReplaced swapped the payload for a newer chunk of the pending read.
	PutReplaced
	// PutDisplaced evicted a previous read's pending chunk for a new read.
	PutDisplaced
)

type shard struct {
	mu      sync.Mutex
	pending map[int]*Entry
}

// Cache is safe for concurrent producers and one draining consumer.
// Operations are atomic per channel.
type Cache struct {
	shards [nShards]shard
}

// New returns an empty cache.
func New() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i].pending = make(map[int]*Entry)
	}
	return c
}

// shardFor picks a shard by hashing the channel number.  Channel numbers
// arrive spatially clustered (neighboring pores fire together), so a plain
// modulo would hotspot shards.
func (c *Cache) shardFor(channel int) *shard {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(channel))
	return &c.shards[seahash.Sum64(buf[:])%nShards]
}

// Put inserts a chunk, replacing or displacing any pending entry on the same
// channel per the cache policy.
func (c *Cache) Put(chunk reads.Chunk) PutOutcome {
	s := c.shardFor(chunk.Channel)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[chunk.Channel]
	if !ok {
		s.pending[chunk.Channel] = &Entry{Chunk: chunk, NChunks: 1}
		return PutStarted
	}
	if e.Chunk.Number == chunk.Number {
		// Same read: analyze only the newest chunk, keep the running count.
		e.Chunk = chunk
		e.NChunks++
		return PutReplaced
	}
	s.pending[chunk.Channel] = &Entry{Chunk: chunk, NChunks: 1}
	return PutDisplaced
}

// Drain atomically removes and returns all pending entries.  A chunk
// inserted concurrently with a drain lands wholly in this batch or the next,
// never both and never neither.
func (c *Cache) Drain() []Entry {
	var batch []Entry
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		if len(s.pending) > 0 {
			for _, e := range s.pending {
				batch = append(batch, *e)
			}
			s.pending = make(map[int]*Entry)
		}
		s.mu.Unlock()
	}
	return batch
}

// Len returns the number of pending entries.
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.pending)
		s.mu.Unlock()
	}
	return n
}
