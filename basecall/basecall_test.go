package basecall

import (
	"bufio"
	"context"
	"io"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/snappy"
	"github.com/grailbio/readuntil/config"
	"github.com/grailbio/readuntil/readpb"
	"github.com/grailbio/readuntil/reads"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func TestNoOp(t *testing.T) {
	caller, err := New(config.PluginSelector{Name: "no_op"})
	require.NoError(t, err)
	expect.NoError(t, caller.Validate(context.Background()))

	batch := []reads.Chunk{
		{Channel: 1, Number: 10, ID: "a", Signal: []byte("xx")},
		{Channel: 2, Number: 20, ID: "b", Signal: []byte("yy")},
	}
	var results []reads.Result
	for r := range caller.Basecall(context.Background(), batch) {
		results = append(results, r)
	}
	require.Equal(t, 2, len(results))
	for i, r := range results {
		expect.EQ(t, r.Channel, batch[i].Channel)
		expect.EQ(t, r.Number, batch[i].Number)
		expect.EQ(t, r.Seq, "")
		expect.Nil(t, r.Err)
	}
	expect.NoError(t, caller.Close(context.Background()))
}

func TestUnknownPlugin(t *testing.T) {
	_, err := New(config.PluginSelector{Name: "guppy"})
	require.Error(t, err)
	expect.HasSubstr(t, err.Error(), "no_op")
	expect.HasSubstr(t, err.Error(), "real")
}

// echoServer answers each request with the decompressed signal as the
// sequence, in reverse request order to exercise reordering tolerance.  It
// keeps accepting so Validate's probe connection doesn't starve the real
// one.
func echoServer(t *testing.T, ln net.Listener, perBatch int) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go serveConn(t, conn, perBatch)
	}
}

func serveConn(t *testing.T, conn net.Conn, perBatch int) {
	defer conn.Close() // nolint: errcheck
	br := bufio.NewReader(conn)
	for {
		var batch []*readpb.BasecallRequest
		for i := 0; i < perBatch; i++ {
			req := &readpb.BasecallRequest{}
			if err := readFrame(br, req); err != nil {
				if err != io.EOF {
					t.Logf("server read: %v", err)
				}
				return
			}
			batch = append(batch, req)
		}
		for i := len(batch) - 1; i >= 0; i-- {
			req := batch[i]
			signal, err := snappy.Decode(nil, req.Signal)
			if err != nil {
				t.Errorf("server snappy: %v", err)
				return
			}
			resp := &readpb.BasecallResponse{
				Id:       req.Id,
				Channel:  req.Channel,
				Number:   req.Number,
				Sequence: string(signal),
			}
			if req.Id == "bad" {
				resp.Sequence = ""
				resp.Error = "model rejected read"
			}
			if err := writeFrame(conn, resp); err != nil {
				t.Errorf("server write: %v", err)
				return
			}
		}
	}
}

func TestRemote(t *testing.T) {
	dir, err := ioutil.TempDir("", "basecall")
	require.NoError(t, err)
	defer os.RemoveAll(dir) // nolint: errcheck
	socket := filepath.Join(dir, "caller.sock")
	ln, err := net.Listen("unix", socket)
	require.NoError(t, err)
	defer ln.Close() // nolint: errcheck
	go echoServer(t, ln, 3)

	caller, err := New(config.PluginSelector{
		Name:    "real",
		Options: config.Options{"socket": socket},
	})
	require.NoError(t, err)
	require.NoError(t, caller.Validate(context.Background()))
	defer caller.Close(context.Background()) // nolint: errcheck

	batch := []reads.Chunk{
		{Channel: 100, Number: 1, ID: "r1", Signal: []byte("ACGT")},
		{Channel: 101, Number: 2, ID: "bad", Signal: []byte("TTTT")},
		{Channel: 102, Number: 3, ID: "r3", Signal: []byte("GGCC")},
	}
	byID := make(map[string]reads.Result)
	for r := range caller.Basecall(context.Background(), batch) {
		byID[r.ID] = r
	}
	require.Equal(t, 3, len(byID))
	expect.EQ(t, byID["r1"].Seq, "ACGT")
	expect.EQ(t, byID["r1"].Channel, 100)
	expect.EQ(t, byID["r3"].Seq, "GGCC")
	expect.EQ(t, byID["bad"].Seq, "")
	expect.NotNil(t, byID["bad"].Err)
}

func TestRemoteValidateMissingSocket(t *testing.T) {
	caller, err := New(config.PluginSelector{
		Name:    "real",
		Options: config.Options{"socket": "/nonexistent/caller.sock"},
	})
	require.NoError(t, err)
	expect.NotNil(t, caller.Validate(context.Background()))
}

func TestRemoteValidateNotASocket(t *testing.T) {
	f, err := ioutil.TempFile("", "notasocket")
	require.NoError(t, err)
	defer os.Remove(f.Name()) // nolint: errcheck
	require.NoError(t, f.Close())

	caller, err := New(config.PluginSelector{
		Name:    "real",
		Options: config.Options{"socket": f.Name()},
	})
	require.NoError(t, err)
	err = caller.Validate(context.Background())
	require.Error(t, err)
	expect.HasSubstr(t, err.Error(), "not a socket")
}
