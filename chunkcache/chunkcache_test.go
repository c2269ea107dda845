package chunkcache

import (
	"sync"
	"testing"

	"github.com/grailbio/readuntil/reads"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func chunk(channel int, number uint32, signal string) reads.Chunk {
	return reads.Chunk{Channel: channel, Number: number, ID: "r", Signal: []byte(signal)}
}

func TestReplaceSameRead(t *testing.T) {
	c := New()
	expect.EQ(t, c.Put(chunk(100, 1, "aa")), PutStarted)
	expect.EQ(t, c.Put(chunk(100, 1, "bb")), PutReplaced)
	expect.EQ(t, c.Put(chunk(100, 1, "cc")), PutReplaced)
	expect.EQ(t, c.Len(), 1)

	batch := c.Drain()
	require.Equal(t, 1, len(batch))
	// Only the latest payload is analyzed; the counter is cumulative.
	expect.EQ(t, string(batch[0].Chunk.Signal), "cc")
	expect.EQ(t, batch[0].NChunks, 3)
	expect.EQ(t, c.Len(), 0)
}

func TestDisplaceNewRead(t *testing.T) {
	c := New()
	c.Put(chunk(7, 1, "old"))
	c.Put(chunk(7, 1, "old2"))
	expect.EQ(t, c.Put(chunk(7, 2, "new")), PutDisplaced)

	batch := c.Drain()
	require.Equal(t, 1, len(batch))
	expect.EQ(t, batch[0].Chunk.Number, uint32(2))
	expect.EQ(t, string(batch[0].Chunk.Signal), "new")
	expect.EQ(t, batch[0].NChunks, 1)
}

func TestDrainBatches(t *testing.T) {
	c := New()
	for channel := 1; channel <= 512; channel++ {
		c.Put(chunk(channel, 1, "x"))
	}
	expect.EQ(t, c.Len(), 512)
	batch := c.Drain()
	expect.EQ(t, len(batch), 512)
	expect.EQ(t, len(c.Drain()), 0)

	seen := make(map[int]bool)
	for _, e := range batch {
		expect.False(t, seen[e.Chunk.Channel])
		seen[e.Chunk.Channel] = true
	}
}

// TestConcurrentPutDrain checks that every inserted chunk is accounted for
// exactly once across drained batches: an insert concurrent with a drain is
// in that batch or a later one, never dropped, never duplicated.
func TestConcurrentPutDrain(t *testing.T) {
	c := New()
	const nChannels = 128
	const nPerChannel = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < nPerChannel; i++ {
			for channel := 1; channel <= nChannels; channel++ {
				c.Put(chunk(channel, 1, "s"))
			}
		}
	}()

	counted := make(map[int]int) // channel -> chunks accounted for
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	drain := func() {
		for _, e := range c.Drain() {
			counted[e.Chunk.Channel] += e.NChunks
		}
	}
	for {
		select {
		case <-done:
			drain()
			for channel := 1; channel <= nChannels; channel++ {
				expect.EQ(t, counted[channel], nPerChannel)
			}
			return
		default:
			drain()
		}
	}
}
