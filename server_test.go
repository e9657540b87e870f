package echomux

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestServer(t *testing.T, config ServerConfig) *EchoServer {
	t.Helper()
	stats, err := NewStatsManager()
	require.NoError(t, err)
	t.Cleanup(stats.Close)
	server, err := NewEchoServer(config, stats)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = server.dispatcher.Selector().Close()
	})
	return server
}

// fillSendBuffer writes until the kernel pushes back.
func fillSendBuffer(t *testing.T, ch *Channel) {
	t.Helper()
	junk := make([]byte, 4096)
	for {
		_, err := ch.Write(junk)
		if errors.Is(err, ErrWouldBlock) || errors.Is(err, io.ErrShortWrite) {
			return
		}
		require.NoError(t, err)
	}
}

func drainChannel(t *testing.T, ch *Channel) []byte {
	t.Helper()
	buf := make([]byte, 8192)
	var got []byte
	for {
		read, err := ch.Read(buf)
		if errors.Is(err, ErrWouldBlock) || errors.Is(err, io.EOF) {
			return got
		}
		require.NoError(t, err)
		got = append(got, buf[:read]...)
	}
}

func TestEchoWriteWouldBlockParksChunk(t *testing.T) {
	server := newTestServer(t, ServerConfig{ChunkSize: 64, MaxClients: 1})
	left, right := socketpairChannels(t)
	sc := &serverConn{srv: server}
	selector := server.dispatcher.Selector()
	require.NoError(t, selector.Register(left, Readable, sc.handle))

	require.NoError(t, unix.SetsockoptInt(left.Fd(), unix.SOL_SOCKET, unix.SO_SNDBUF, 4096))
	fillSendBuffer(t, left)

	_, err := right.Write([]byte("parked payload"))
	require.NoError(t, err)

	// a full send buffer is "no data yet", never a broken channel
	require.NoError(t, sc.handle(left, Readable))

	assert.Equal(t, int64(0), server.Served())
	assert.NotEmpty(t, sc.pending)
	reg, ok := selector.lookup(left.Fd())
	require.True(t, ok)
	assert.Equal(t, Readable|Writable, reg.Interest())

	// once the peer drains, the writable event flushes the backlog
	drainChannel(t, right)
	require.NoError(t, sc.handle(left, Writable))
	assert.Empty(t, sc.pending)
	reg, ok = selector.lookup(left.Fd())
	require.True(t, ok)
	assert.Equal(t, Readable, reg.Interest())

	echoed := drainChannel(t, right)
	assert.True(t, bytes.HasSuffix(echoed, []byte("parked payload")))
}

func TestBrokenConnNotCountedServed(t *testing.T) {
	server := newTestServer(t, ServerConfig{MaxClients: 1})
	left, right := socketpairChannels(t)
	sc := &serverConn{srv: server}
	selector := server.dispatcher.Selector()
	require.NoError(t, selector.Register(left, Readable, sc.handle))

	_, err := right.Write([]byte("doomed"))
	require.NoError(t, err)
	require.NoError(t, right.Close())

	// the buffered bytes still read fine, the echo write hits EPIPE
	require.NoError(t, sc.handle(left, Readable))

	assert.Equal(t, int64(0), server.Served())
	_, ok := selector.lookup(left.Fd())
	assert.False(t, ok)
}

func TestOrderlyShutdownCountsServed(t *testing.T) {
	server := newTestServer(t, ServerConfig{MaxClients: 1})
	left, right := socketpairChannels(t)
	sc := &serverConn{srv: server}
	selector := server.dispatcher.Selector()
	require.NoError(t, selector.Register(left, Readable, sc.handle))

	require.NoError(t, right.Close())
	require.NoError(t, sc.handle(left, Readable))

	assert.Equal(t, int64(1), server.Served())
	_, ok := selector.lookup(left.Fd())
	assert.False(t, ok)
}
