// Package device abstracts the instrument's streaming RPC surface: a chunk
// stream in, an action stream out, and run-phase signalling.  The concrete
// transport is a single bidirectional gRPC stream; a loopback implementation
// serves tests and latency drills.
package device

import (
	"context"

	"github.com/grailbio/readuntil/readpb"
	"github.com/grailbio/readuntil/reads"
)

// Phase is the instrument's advertised run phase.  The pipeline only runs
// during PhaseSequencing.
type Phase int32

const (
	PhaseUnknown      = Phase(readpb.Phase_UNKNOWN)
	PhaseInitialising = Phase(readpb.Phase_INITIALISING)
	PhaseMuxScan      = Phase(readpb.Phase_MUX_SCAN)
	PhaseSequencing   = Phase(readpb.Phase_SEQUENCING)
	PhaseComplete     = Phase(readpb.Phase_COMPLETE)
)

func (p Phase) String() string { return readpb.Phase(p).String() }

// Conn is a connection to the instrument.
//
// Reads and Phases may each be called once; the returned channels close when
// the transport is lost for good (after bounded reconnection) or the context
// is cancelled.  Submit enqueues an action for the dispatcher and blocks
// only when the outbound queue is full.
type Conn interface {
	Reads(ctx context.Context) (<-chan reads.Chunk, error)
	Submit(ctx context.Context, a reads.Action) error
	Phases(ctx context.Context) (<-chan Phase, error)
	Close(ctx context.Context) error
}

func chunkFromMsg(m *readpb.ReadChunk) reads.Chunk {
	return reads.Chunk{
		Channel:         int(m.Channel),
		Number:          m.Number,
		ID:              m.Id,
		Signal:          m.RawSignal,
		StartSample:     m.ChunkStartSample,
		ChunkLength:     m.ChunkLength,
		Median:          m.Median,
		MedianBefore:    m.MedianBefore,
		Classifications: m.Classifications,
	}
}

func actionToMsg(a reads.Action) *readpb.Action {
	kind := readpb.ActionKind_PROCEED
	switch a.Kind {
	case reads.Unblock:
		kind = readpb.ActionKind_UNBLOCK
	case reads.StopReceiving:
		kind = readpb.ActionKind_STOP_RECEIVING
	}
	return &readpb.Action{
		Channel:         uint32(a.Channel),
		Number:          a.Number,
		Kind:            kind,
		UnblockDuration: a.Duration,
	}
}
