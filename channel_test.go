package echomux

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelReadWouldBlock(t *testing.T) {
	left, _ := socketpairChannels(t)
	buf := make([]byte, 16)
	_, err := left.Read(buf)
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestChannelReadEOF(t *testing.T) {
	left, right := socketpairChannels(t)
	require.NoError(t, right.Close())
	buf := make([]byte, 16)
	_, err := left.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestChannelEventMaskString(t *testing.T) {
	assert.Equal(t, "readable", Readable.String())
	assert.Equal(t, "writable", Writable.String())
	assert.Equal(t, "readable|writable", (Readable | Writable).String())
	assert.Equal(t, "none", EventMask(0).String())
}

func TestListenAcceptDialRoundTrip(t *testing.T) {
	listener, err := Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	conn, err := Dial("tcp", listener.Addr())
	require.NoError(t, err)
	defer conn.Close()

	accepted := acceptRetry(t, listener)
	defer accepted.Close()

	_, err = conn.Write([]byte("over the wire"))
	require.NoError(t, err)

	got := readRetry(t, accepted, len("over the wire"))
	assert.Equal(t, "over the wire", string(got))
}

func TestAcceptWouldBlockWhenIdle(t *testing.T) {
	listener, err := Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	_, err = listener.Accept()
	assert.ErrorIs(t, err, ErrWouldBlock)
}

// acceptRetry polls a non-blocking listener until the pending
// connection arrives.
func acceptRetry(t *testing.T, listener *Channel) *Channel {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := listener.Accept()
		if errors.Is(err, ErrWouldBlock) {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		require.NoError(t, err)
		return conn
	}
	t.Fatal("no connection accepted")
	return nil
}

func readRetry(t *testing.T, ch *Channel, want int) []byte {
	t.Helper()
	buf := make([]byte, want)
	got := make([]byte, 0, want)
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < want && time.Now().Before(deadline) {
		read, err := ch.Read(buf)
		if errors.Is(err, ErrWouldBlock) {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		require.NoError(t, err)
		got = append(got, buf[:read]...)
	}
	require.Equal(t, want, len(got))
	return got
}
