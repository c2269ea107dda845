package basecall

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/readuntil/config"
	"github.com/grailbio/readuntil/readpb"
	"github.com/grailbio/readuntil/reads"
	"golang.org/x/sys/unix"
)

// maxFrame bounds a single response frame.
const maxFrame = 64 << 20

// remote is a client for a long-running basecaller reachable over a unix
// domain socket.  The wire format is length-prefixed protobuf: one
// BasecallRequest per chunk, one BasecallResponse per request, responses in
// any order.  Signal payloads are snappy-compressed.
type remote struct {
	socket  string
	timeout time.Duration

	conn net.Conn
	br   *bufio.Reader
}

func newRemote(opts config.Options) (Caller, error) {
	socket, err := opts.String("socket", "")
	if err != nil {
		return nil, err
	}
	if socket == "" {
		return nil, fmt.Errorf("caller plugin real: option socket is required")
	}
	timeoutSec, err := opts.Float("timeout", 10)
	if err != nil {
		return nil, err
	}
	return &remote{socket: socket, timeout: time.Duration(timeoutSec * float64(time.Second))}, nil
}

func (r *remote) Describe() string {
	return fmt.Sprintf("remote caller at unix:%s", r.socket)
}

// Validate checks that the socket exists, is a socket, is accessible, and
// accepts connections.
func (r *remote) Validate(ctx context.Context) error {
	info, err := os.Stat(r.socket)
	if err != nil {
		return errors.E(err, "caller socket", r.socket)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("caller socket %s: not a socket", r.socket)
	}
	if err := unix.Access(r.socket, unix.R_OK|unix.W_OK); err != nil {
		return errors.E(err, "caller socket permissions", r.socket)
	}
	conn, err := net.DialTimeout("unix", r.socket, r.timeout)
	if err != nil {
		return errors.E(err, "caller socket dial", r.socket)
	}
	return conn.Close()
}

func (r *remote) dial() error {
	if r.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("unix", r.socket, r.timeout)
	if err != nil {
		return err
	}
	r.conn = conn
	r.br = bufio.NewReader(conn)
	return nil
}

func (r *remote) dropConn() {
	if r.conn != nil {
		r.conn.Close() // nolint: errcheck
		r.conn = nil
		r.br = nil
	}
}

func writeFrame(w io.Writer, m proto.Message) error {
	data, err := proto.Marshal(m)
	if err != nil {
		return err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func readFrame(br *bufio.Reader, m proto.Message) error {
	var hdr [4]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrame {
		return fmt.Errorf("basecall: oversized %d-byte frame", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(br, data); err != nil {
		return err
	}
	return proto.Unmarshal(data, m)
}

// Basecall writes one request per chunk, then collects one response per
// request.  On a transport error the connection is dropped (the next batch
// redials) and the unanswered chunks are emitted with Err set.
func (r *remote) Basecall(ctx context.Context, batch []reads.Chunk) <-chan reads.Result {
	out := make(chan reads.Result, len(batch))
	go func() {
		defer close(out)
		answered := make(map[reads.Key]bool)
		// Responses arrive in any order, so on a transport failure only the
		// still-unanswered chunks are poisoned.
		poison := func(err error) {
			r.dropConn()
			n := 0
			for _, c := range batch {
				if !answered[c.Key()] {
					out <- reads.Result{Channel: c.Channel, Number: c.Number, ID: c.ID, Err: err}
					n++
				}
			}
			log.Error.Printf("basecall: transport failure, %d chunk(s) unanswered: %v", n, err)
		}
		if err := r.dial(); err != nil {
			poison(err)
			return
		}
		if deadline, ok := ctx.Deadline(); ok {
			r.conn.SetDeadline(deadline) // nolint: errcheck
		} else {
			r.conn.SetDeadline(time.Now().Add(r.timeout)) // nolint: errcheck
		}
		bw := bufio.NewWriter(r.conn)
		for _, c := range batch {
			req := &readpb.BasecallRequest{
				Id:      c.ID,
				Channel: uint32(c.Channel),
				Number:  c.Number,
				Signal:  snappy.Encode(nil, c.Signal),
				Samples: c.ChunkLength,
			}
			if err := writeFrame(bw, req); err != nil {
				poison(err)
				return
			}
		}
		if err := bw.Flush(); err != nil {
			poison(err)
			return
		}
		for range batch {
			resp := &readpb.BasecallResponse{}
			if err := readFrame(r.br, resp); err != nil {
				poison(err)
				return
			}
			res := reads.Result{
				Channel: int(resp.Channel),
				Number:  resp.Number,
				ID:      resp.Id,
				Barcode: resp.Barcode,
				Seq:     resp.Sequence,
				Qual:    resp.Qual,
			}
			if resp.Error != "" {
				res.Err = fmt.Errorf("basecall: %s", resp.Error)
				res.Seq = ""
			}
			answered[res.Key()] = true
			out <- res
		}
	}()
	return out
}

func (r *remote) Close(ctx context.Context) error {
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	r.br = nil
	return err
}
