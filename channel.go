package echomux

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const defSocketBufferSize = 8192

// Channel is a non-blocking TCP endpoint addressed by raw file
// descriptor. Once registered with a selector the dispatcher owns the
// channel; it must be unregistered before Close, and Close is called
// exactly once.
type Channel struct {
	fd   int
	file *os.File // keeps the descriptor alive for channels built from a net.Conn
	addr string
}

func newChannel(fd int, addr string) *Channel {
	return &Channel{fd: fd, addr: addr}
}

// Listen binds a listening channel. The underlying socket is switched
// to non-blocking mode so a registered accept handler never stalls the
// loop.
func Listen(network, address string) (*Channel, error) {
	listener, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	tcpListener, ok := listener.(*net.TCPListener)
	if !ok {
		_ = listener.Close()
		return nil, errors.New("can't cast net.Listener to *net.TCPListener")
	}
	boundAddr := tcpListener.Addr().String()
	file, err := tcpListener.File()
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	// the socket lives on through the duplicated descriptor
	_ = listener.Close()
	fd := int(file.Fd())
	if err := applySocketOptions(fd); err != nil {
		_ = file.Close()
		return nil, err
	}
	return &Channel{fd: fd, file: file, addr: boundAddr}, nil
}

// Dial opens a client channel. The connect itself is blocking; the
// channel is switched to non-blocking mode before it is handed to the
// selector, which is the mode the readiness loop requires.
func Dial(network, address string) (*Channel, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		_ = conn.Close()
		return nil, errors.New("can't cast net.Conn to *net.TCPConn")
	}
	remote := tcpConn.RemoteAddr().String()
	file, err := tcpConn.File()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.Close()
	fd := int(file.Fd())
	if err := applySocketOptions(fd); err != nil {
		_ = file.Close()
		return nil, err
	}
	return &Channel{fd: fd, file: file, addr: remote}, nil
}

// Accept takes one pending connection off a listening channel and
// returns it as a new non-blocking channel. ErrWouldBlock means no
// connection is pending right now.
func (c *Channel) Accept() (*Channel, error) {
	nfd, sa, err := unix.Accept(c.fd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, ErrWouldBlock
		}
		return nil, os.NewSyscallError("accept", err)
	}
	if err := applySocketOptions(nfd); err != nil {
		_ = unix.Close(nfd)
		return nil, err
	}
	return newChannel(nfd, sockaddrString(sa)), nil
}

// Read reads available bytes without blocking. A zero-length read is
// the peer's orderly shutdown and is reported as io.EOF; "no data right
// now" is reported as ErrWouldBlock.
func (c *Channel) Read(buf []byte) (int, error) {
	read, err := unix.Read(c.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, os.NewSyscallError("read", err)
	}
	if read == 0 && len(buf) > 0 {
		return 0, io.EOF
	}
	return read, nil
}

// Write sends b without blocking. A short write leaves the channel in
// an undefined position for the echo protocol and is surfaced as
// io.ErrShortWrite; callers tear the channel down.
func (c *Channel) Write(b []byte) (int, error) {
	written, err := unix.Write(c.fd, b)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, os.NewSyscallError("write", err)
	}
	if written < len(b) {
		return written, io.ErrShortWrite
	}
	return written, nil
}

func (c *Channel) Close() error {
	if c.file != nil {
		return c.file.Close()
	}
	return os.NewSyscallError("close", unix.Close(c.fd))
}

func (c *Channel) Fd() int {
	return c.fd
}

// Addr is the bound address for a listening channel and the remote
// address for a connected one.
func (c *Channel) Addr() string {
	return c.addr
}

func applySocketOptions(fd int) error {
	err := unix.SetNonblock(fd, true)
	if err != nil {
		return os.NewSyscallError("set O_NONBLOCK", err)
	}
	err = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, defSocketBufferSize)
	if err != nil {
		log.Error().Msgf("got error while setting socket options SO_RCVBUF: %+v", err)
	}
	err = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, defSocketBufferSize)
	if err != nil {
		log.Error().Msgf("got error while setting socket options SO_SNDBUF: %+v", err)
	}
	return nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%s:%d", net.IP(addr.Addr[:]), addr.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%s]:%d", net.IP(addr.Addr[:]), addr.Port)
	case *unix.SockaddrUnix:
		return addr.Name
	}
	return "unknown"
}
