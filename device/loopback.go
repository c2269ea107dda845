package device

import (
	"context"
	"sync"

	"github.com/grailbio/readuntil/reads"
)

// Loopback is an in-memory Conn for tests and the unblock-all latency
// drill: chunks are pushed by the test or driver harness and submitted
// actions are recorded.  Its chunk and phase channels close only through
// FinishReads and EndPhases; cancelling the context does not close them.
type Loopback struct {
	chunks chan reads.Chunk
	phases chan Phase

	mu      sync.Mutex
	actions []reads.Action
}

var _ Conn = (*Loopback)(nil)

// NewLoopback returns an idle loopback connection.
func NewLoopback() *Loopback {
	return &Loopback{
		chunks: make(chan reads.Chunk, 4096),
		phases: make(chan Phase, 16),
	}
}

// Reads implements Conn.
func (l *Loopback) Reads(ctx context.Context) (<-chan reads.Chunk, error) {
	return l.chunks, nil
}

// Submit implements Conn.
func (l *Loopback) Submit(ctx context.Context, a reads.Action) error {
	l.mu.Lock()
	l.actions = append(l.actions, a)
	l.mu.Unlock()
	return nil
}

// Phases implements Conn.
func (l *Loopback) Phases(ctx context.Context) (<-chan Phase, error) {
	return l.phases, nil
}

// Close implements Conn.
func (l *Loopback) Close(ctx context.Context) error { return nil }

// PushChunk delivers a chunk as if received from the instrument.
func (l *Loopback) PushChunk(c reads.Chunk) { l.chunks <- c }

// FinishReads closes the chunk stream, as a lost transport would.
func (l *Loopback) FinishReads() { close(l.chunks) }

// SetPhase delivers a phase transition.
func (l *Loopback) SetPhase(p Phase) { l.phases <- p }

// EndPhases closes the phase stream.
func (l *Loopback) EndPhases() { close(l.phases) }

// Actions returns a copy of the recorded actions in submission order.
func (l *Loopback) Actions() []reads.Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]reads.Action, len(l.actions))
	copy(out, l.actions)
	return out
}
