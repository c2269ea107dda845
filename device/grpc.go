package device

import (
	"context"
	"sync"
	"time"

	"github.com/grailbio/readuntil/readpb"
	"github.com/grailbio/readuntil/reads"
	"google.golang.org/grpc"
	"v.io/x/lib/vlog"
)

const (
	liveReadsMethod   = "/readuntil.Instrument/LiveReads"
	watchPhasesMethod = "/readuntil.Instrument/WatchPhases"

	// maxActionsPerFrame bounds one outbound ActionBatch.
	maxActionsPerFrame = 512
)

var (
	liveReadsDesc = grpc.StreamDesc{
		StreamName:    "LiveReads",
		ClientStreams: true,
		ServerStreams: true,
	}
	watchPhasesDesc = grpc.StreamDesc{
		StreamName:    "WatchPhases",
		ServerStreams: true,
	}
)

// DialOpts tunes the gRPC transport.
type DialOpts struct {
	// MaxReconnects bounds consecutive stream re-opens after a transport
	// failure before the connection is declared lost.
	MaxReconnects int
	// ReconnectDelay is the pause between re-opens.
	ReconnectDelay time.Duration
	// SendQueue is the outbound action queue depth.
	SendQueue int
}

func (o *DialOpts) setDefaults() {
	if o.MaxReconnects == 0 {
		o.MaxReconnects = 5
	}
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = time.Second
	}
	if o.SendQueue == 0 {
		o.SendQueue = 2048
	}
}

// GRPCConn is a Conn over a single bidirectional gRPC stream.  The reader
// goroutine owns the stream lifecycle; the dispatcher goroutine drains the
// action queue onto whichever stream is currently live.
type GRPCConn struct {
	cc      *grpc.ClientConn
	opts    DialOpts
	actions chan reads.Action

	mu     sync.Mutex
	stream grpc.ClientStream // nil while (re)connecting
}

var _ Conn = (*GRPCConn)(nil)

// Dial connects to the instrument's RPC endpoint.
func Dial(ctx context.Context, target string, opts DialOpts) (*GRPCConn, error) {
	opts.setDefaults()
	cc, err := grpc.DialContext(ctx, target, grpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	return &GRPCConn{
		cc:      cc,
		opts:    opts,
		actions: make(chan reads.Action, opts.SendQueue),
	}, nil
}

func (c *GRPCConn) setStream(s grpc.ClientStream) {
	c.mu.Lock()
	c.stream = s
	c.mu.Unlock()
}

func (c *GRPCConn) currentStream() grpc.ClientStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

// Reads opens the live-reads stream and starts the reader and dispatcher.
// The returned channel closes when the stream dies for good.
func (c *GRPCConn) Reads(ctx context.Context) (<-chan reads.Chunk, error) {
	out := make(chan reads.Chunk, 4096)
	go c.readLoop(ctx, out)
	go c.dispatchLoop(ctx)
	return out, nil
}

func (c *GRPCConn) readLoop(ctx context.Context, out chan<- reads.Chunk) {
	defer close(out)
	attempts := 0
	for {
		stream, err := c.cc.NewStream(ctx, &liveReadsDesc, liveReadsMethod)
		if err != nil {
			attempts++
			if attempts > c.opts.MaxReconnects || ctx.Err() != nil {
				vlog.Errorf("device: live-reads stream lost for good: %v", err)
				return
			}
			vlog.Errorf("device: live-reads open failed (attempt %d/%d): %v", attempts, c.opts.MaxReconnects, err)
			time.Sleep(c.opts.ReconnectDelay)
			continue
		}
		c.setStream(stream)
		for {
			batch := &readpb.ReadChunkBatch{}
			if err := stream.RecvMsg(batch); err != nil {
				c.setStream(nil)
				attempts++
				if attempts > c.opts.MaxReconnects || ctx.Err() != nil {
					vlog.Errorf("device: live-reads stream lost for good: %v", err)
					return
				}
				vlog.Errorf("device: live-reads recv failed (attempt %d/%d): %v", attempts, c.opts.MaxReconnects, err)
				time.Sleep(c.opts.ReconnectDelay)
				break
			}
			attempts = 0
			for _, m := range batch.Chunks {
				select {
				case out <- chunkFromMsg(m):
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (c *GRPCConn) dispatchLoop(ctx context.Context) {
	for {
		var first reads.Action
		select {
		case <-ctx.Done():
			return
		case first = <-c.actions:
		}
		frame := &readpb.ActionBatch{Actions: []*readpb.Action{actionToMsg(first)}}
	fill:
		for len(frame.Actions) < maxActionsPerFrame {
			select {
			case a := <-c.actions:
				frame.Actions = append(frame.Actions, actionToMsg(a))
			default:
				break fill
			}
		}
		for {
			stream := c.currentStream()
			if stream == nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}
			if err := stream.SendMsg(frame); err != nil {
				// The reader notices the dead stream and reconnects; retry
				// the frame on the next one.
				vlog.Errorf("device: action send failed, will retry: %v", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.opts.ReconnectDelay):
					continue
				}
			}
			vlog.VI(2).Infof("device: dispatched %d action(s)", len(frame.Actions))
			break
		}
	}
}

// Submit enqueues an action, blocking only when the outbound queue is full.
func (c *GRPCConn) Submit(ctx context.Context, a reads.Action) error {
	select {
	case c.actions <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Phases opens the phase watch stream.
func (c *GRPCConn) Phases(ctx context.Context) (<-chan Phase, error) {
	stream, err := c.cc.NewStream(ctx, &watchPhasesDesc, watchPhasesMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&readpb.PhaseRequest{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	out := make(chan Phase, 16)
	go func() {
		defer close(out)
		for {
			update := &readpb.PhaseUpdate{}
			if err := stream.RecvMsg(update); err != nil {
				if ctx.Err() == nil {
					vlog.Errorf("device: phase stream closed: %v", err)
				}
				return
			}
			select {
			case out <- Phase(update.Phase):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close tears down the underlying gRPC connection.
func (c *GRPCConn) Close(ctx context.Context) error {
	return c.cc.Close()
}
