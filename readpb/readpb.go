// Package readpb defines the wire messages exchanged with the instrument's
// streaming RPC service and with the remote basecaller.  The messages are
// maintained by hand; keep field numbers stable.
package readpb

import (
	"github.com/gogo/protobuf/proto"
)

// Phase is the instrument's advertised run phase.
type Phase int32

const (
	Phase_UNKNOWN      Phase = 0
	Phase_INITIALISING Phase = 1
	Phase_MUX_SCAN     Phase = 2
	Phase_SEQUENCING   Phase = 3
	Phase_COMPLETE     Phase = 4
)

var phaseNames = map[Phase]string{
	Phase_UNKNOWN:      "UNKNOWN",
	Phase_INITIALISING: "INITIALISING",
	Phase_MUX_SCAN:     "MUX_SCAN",
	Phase_SEQUENCING:   "SEQUENCING",
	Phase_COMPLETE:     "COMPLETE",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "UNKNOWN"
}

// ActionKind is the command kind carried by an Action message.
type ActionKind int32

const (
	ActionKind_PROCEED        ActionKind = 0
	ActionKind_UNBLOCK        ActionKind = 1
	ActionKind_STOP_RECEIVING ActionKind = 2
)

// ReadChunk is one inbound delivery of raw signal for an in-progress read.
type ReadChunk struct {
	Channel          uint32   `protobuf:"varint,1,opt,name=channel,proto3" json:"channel,omitempty"`
	Number           uint32   `protobuf:"varint,2,opt,name=number,proto3" json:"number,omitempty"`
	Id               string   `protobuf:"bytes,3,opt,name=id,proto3" json:"id,omitempty"`
	RawSignal        []byte   `protobuf:"bytes,4,opt,name=raw_signal,json=rawSignal,proto3" json:"raw_signal,omitempty"`
	ChunkStartSample uint64   `protobuf:"varint,5,opt,name=chunk_start_sample,json=chunkStartSample,proto3" json:"chunk_start_sample,omitempty"`
	ChunkLength      uint64   `protobuf:"varint,6,opt,name=chunk_length,json=chunkLength,proto3" json:"chunk_length,omitempty"`
	Median           float32  `protobuf:"fixed32,7,opt,name=median,proto3" json:"median,omitempty"`
	MedianBefore     float32  `protobuf:"fixed32,8,opt,name=median_before,json=medianBefore,proto3" json:"median_before,omitempty"`
	Classifications  []string `protobuf:"bytes,9,rep,name=classifications,proto3" json:"classifications,omitempty"`
}

func (m *ReadChunk) Reset()         { *m = ReadChunk{} }
func (m *ReadChunk) String() string { return proto.CompactTextString(m) }
func (*ReadChunk) ProtoMessage()    {}

// ReadChunkBatch is the inbound stream frame.
type ReadChunkBatch struct {
	Chunks []*ReadChunk `protobuf:"bytes,1,rep,name=chunks,proto3" json:"chunks,omitempty"`
}

func (m *ReadChunkBatch) Reset()         { *m = ReadChunkBatch{} }
func (m *ReadChunkBatch) String() string { return proto.CompactTextString(m) }
func (*ReadChunkBatch) ProtoMessage()    {}

// Action is one outbound command for a read.
type Action struct {
	Channel uint32     `protobuf:"varint,1,opt,name=channel,proto3" json:"channel,omitempty"`
	Number  uint32     `protobuf:"varint,2,opt,name=number,proto3" json:"number,omitempty"`
	Kind    ActionKind `protobuf:"varint,3,opt,name=kind,proto3,enum=readpb.ActionKind" json:"kind,omitempty"`
	// UnblockDuration is the voltage-flip duration in seconds; zero lets the
	// instrument choose.  Meaningful only for UNBLOCK.
	UnblockDuration float64 `protobuf:"fixed64,4,opt,name=unblock_duration,json=unblockDuration,proto3" json:"unblock_duration,omitempty"`
}

func (m *Action) Reset()         { *m = Action{} }
func (m *Action) String() string { return proto.CompactTextString(m) }
func (*Action) ProtoMessage()    {}

// ActionBatch is the outbound stream frame.
type ActionBatch struct {
	Actions []*Action `protobuf:"bytes,1,rep,name=actions,proto3" json:"actions,omitempty"`
}

func (m *ActionBatch) Reset()         { *m = ActionBatch{} }
func (m *ActionBatch) String() string { return proto.CompactTextString(m) }
func (*ActionBatch) ProtoMessage()    {}

// PhaseRequest opens a phase watch stream.
type PhaseRequest struct{}

func (m *PhaseRequest) Reset()         { *m = PhaseRequest{} }
func (m *PhaseRequest) String() string { return proto.CompactTextString(m) }
func (*PhaseRequest) ProtoMessage()    {}

// PhaseUpdate is one phase transition notification.
type PhaseUpdate struct {
	Phase Phase `protobuf:"varint,1,opt,name=phase,proto3,enum=readpb.Phase" json:"phase,omitempty"`
}

func (m *PhaseUpdate) Reset()         { *m = PhaseUpdate{} }
func (m *PhaseUpdate) String() string { return proto.CompactTextString(m) }
func (*PhaseUpdate) ProtoMessage()    {}

// BasecallRequest asks the basecaller to call one chunk.  Signal is
// snappy-compressed raw signal.
type BasecallRequest struct {
	Id      string `protobuf:"bytes,1,opt,name=id,proto3" json:"id,omitempty"`
	Channel uint32 `protobuf:"varint,2,opt,name=channel,proto3" json:"channel,omitempty"`
	Number  uint32 `protobuf:"varint,3,opt,name=number,proto3" json:"number,omitempty"`
	Signal  []byte `protobuf:"bytes,4,opt,name=signal,proto3" json:"signal,omitempty"`
	Samples uint64 `protobuf:"varint,5,opt,name=samples,proto3" json:"samples,omitempty"`
}

func (m *BasecallRequest) Reset()         { *m = BasecallRequest{} }
func (m *BasecallRequest) String() string { return proto.CompactTextString(m) }
func (*BasecallRequest) ProtoMessage()    {}

// BasecallResponse is the basecaller's answer for one chunk.  A per-read
// failure sets Error and leaves Sequence empty.
type BasecallResponse struct {
	Id       string `protobuf:"bytes,1,opt,name=id,proto3" json:"id,omitempty"`
	Channel  uint32 `protobuf:"varint,2,opt,name=channel,proto3" json:"channel,omitempty"`
	Number   uint32 `protobuf:"varint,3,opt,name=number,proto3" json:"number,omitempty"`
	Sequence string `protobuf:"bytes,4,opt,name=sequence,proto3" json:"sequence,omitempty"`
	Qual     string `protobuf:"bytes,5,opt,name=qual,proto3" json:"qual,omitempty"`
	Barcode  string `protobuf:"bytes,6,opt,name=barcode,proto3" json:"barcode,omitempty"`
	Error    string `protobuf:"bytes,7,opt,name=error,proto3" json:"error,omitempty"`
}

func (m *BasecallResponse) Reset()         { *m = BasecallResponse{} }
func (m *BasecallResponse) String() string { return proto.CompactTextString(m) }
func (*BasecallResponse) ProtoMessage()    {}
