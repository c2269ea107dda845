package device

import (
	"context"
	"testing"

	"github.com/gogo/protobuf/proto"
	"github.com/grailbio/readuntil/readpb"
	"github.com/grailbio/readuntil/reads"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func TestLoopback(t *testing.T) {
	l := NewLoopback()
	ctx := context.Background()

	chunks, err := l.Reads(ctx)
	require.NoError(t, err)
	l.PushChunk(reads.Chunk{Channel: 3, Number: 7, ID: "r"})
	c := <-chunks
	expect.EQ(t, c.Channel, 3)
	expect.EQ(t, c.Number, uint32(7))

	require.NoError(t, l.Submit(ctx, reads.Action{Kind: reads.Unblock, Channel: 3, Number: 7, Duration: 0.1}))
	require.NoError(t, l.Submit(ctx, reads.Action{Kind: reads.StopReceiving, Channel: 4, Number: 1}))
	actions := l.Actions()
	require.Equal(t, 2, len(actions))
	expect.EQ(t, actions[0].Kind, reads.Unblock)
	expect.EQ(t, actions[1].Kind, reads.StopReceiving)

	phases, err := l.Phases(ctx)
	require.NoError(t, err)
	l.SetPhase(PhaseSequencing)
	expect.EQ(t, <-phases, PhaseSequencing)
	expect.NoError(t, l.Close(ctx))
}

func TestMessageConversion(t *testing.T) {
	msg := &readpb.ReadChunk{
		Channel:          42,
		Number:           9,
		Id:               "uuid-1",
		RawSignal:        []byte{1, 2, 3},
		ChunkStartSample: 4000,
		ChunkLength:      3,
		Median:           80.5,
		MedianBefore:     91.25,
		Classifications:  []string{"strand"},
	}
	// The wire form survives a marshal round trip and converts faithfully.
	data, err := proto.Marshal(msg)
	require.NoError(t, err)
	decoded := &readpb.ReadChunk{}
	require.NoError(t, proto.Unmarshal(data, decoded))
	c := chunkFromMsg(decoded)
	expect.EQ(t, c.Channel, 42)
	expect.EQ(t, c.Number, uint32(9))
	expect.EQ(t, c.ID, "uuid-1")
	expect.EQ(t, c.Signal, []byte{1, 2, 3})
	expect.EQ(t, c.StartSample, uint64(4000))
	expect.EQ(t, c.Median, float32(80.5))
	expect.EQ(t, c.Classifications, []string{"strand"})

	a := actionToMsg(reads.Action{Kind: reads.Unblock, Channel: 8, Number: 2, Duration: 0.1})
	expect.EQ(t, a.Kind, readpb.ActionKind_UNBLOCK)
	expect.EQ(t, a.UnblockDuration, 0.1)
	s := actionToMsg(reads.Action{Kind: reads.StopReceiving, Channel: 8, Number: 3})
	expect.EQ(t, s.Kind, readpb.ActionKind_STOP_RECEIVING)
}
