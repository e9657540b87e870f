package echomux

import (
	"errors"
	"io"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// EchoServer accepts TCP connections and writes every received chunk
// straight back to its sender. Whatever bytes arrive are echoed
// verbatim; message boundaries are the caller's business.
type EchoServer struct {
	config     ServerConfig
	dispatcher *Dispatcher
	stats      *StatsManager
	listener   *Channel
	buffer     []byte
	served     *atomic.Int64
}

func NewEchoServer(config ServerConfig, stats *StatsManager) (*EchoServer, error) {
	if config.Net == "" {
		config.Net = "tcp"
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = defChunkSize
	}
	dispatcher, err := NewDispatcher(DispatcherConfig{
		Name:            "EchoServer",
		EventBufferSize: config.EventBufferSize,
	})
	if err != nil {
		return nil, err
	}
	return &EchoServer{
		config:     config,
		dispatcher: dispatcher,
		stats:      stats,
		buffer:     make([]byte, config.ChunkSize),
		served:     atomic.NewInt64(0),
	}, nil
}

// Listen binds the listening channel and registers it for accept
// readiness. Addr reports the bound address afterwards, which matters
// when the config asked for port 0.
func (s *EchoServer) Listen() error {
	listener, err := Listen(s.config.Net, s.config.Address)
	if err != nil {
		return err
	}
	if err := s.dispatcher.Selector().Register(listener, Readable, s.acceptEvent); err != nil {
		_ = listener.Close()
		return err
	}
	s.listener = listener
	log.Info().Msgf("echo server listening on %s", listener.Addr())
	return nil
}

func (s *EchoServer) Addr() string {
	return s.listener.Addr()
}

// Serve runs the dispatcher until MaxClients clients have disconnected
// (0 means serve forever) or Stop is called.
func (s *EchoServer) Serve() error {
	err := s.dispatcher.Serve(nil)
	if closeErr := s.listener.Close(); closeErr != nil {
		log.Error().Msgf("got error while closing listener: %+v", closeErr)
	}
	return err
}

func (s *EchoServer) Stop() {
	s.dispatcher.Stop()
}

// Served is the number of client connections that reached orderly
// shutdown. Connections torn down on I/O errors are not counted.
func (s *EchoServer) Served() int64 {
	return s.served.Load()
}

func (s *EchoServer) acceptEvent(listener *Channel, events EventMask) error {
	conn, err := listener.Accept()
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return nil
		}
		// accept failure on the listening channel is fatal to the loop
		return err
	}
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] accepted connection from %s", conn.Fd(), conn.Addr())
	}
	s.stats.RecordAccept(conn.Addr())
	sc := &serverConn{srv: s}
	if err := s.dispatcher.Selector().Register(conn, Readable, sc.handle); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

// serverConn carries the per-connection echo state: bytes already read
// but not yet written back while the peer's receive side is full.
type serverConn struct {
	srv     *EchoServer
	pending []byte
}

func (sc *serverConn) handle(conn *Channel, events EventMask) error {
	if events&Writable != 0 {
		if err := sc.flush(conn); err != nil {
			return err
		}
	}
	if events&Readable != 0 {
		return sc.echo(conn)
	}
	return nil
}

func (sc *serverConn) echo(conn *Channel) error {
	s := sc.srv
	if len(sc.pending) > 0 {
		// new data stays queued in the kernel until the backlog drains
		return nil
	}
	read, err := conn.Read(s.buffer)
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return s.closeConn(conn)
		}
		log.Error().Msgf("[%d] got error while reading from %s: %+v", conn.Fd(), conn.Addr(), err)
		return s.dropConn(conn)
	}
	written, err := conn.Write(s.buffer[:read])
	if err != nil && !errors.Is(err, ErrWouldBlock) && !errors.Is(err, io.ErrShortWrite) {
		log.Error().Msgf("[%d] got error while echoing to %s: %+v", conn.Fd(), conn.Addr(), err)
		return s.dropConn(conn)
	}
	s.stats.RecordEcho(conn.Addr(), read, written)
	if written < read {
		// a full send buffer is "no room right now", not a broken
		// channel: park the rest and wait for a writable event
		sc.pending = append(sc.pending, s.buffer[written:read]...)
		return s.dispatcher.Selector().Modify(conn, Readable|Writable, sc.handle)
	}
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] echoed %d bytes to %s", conn.Fd(), written, conn.Addr())
	}
	return nil
}

func (sc *serverConn) flush(conn *Channel) error {
	s := sc.srv
	if len(sc.pending) == 0 {
		return nil
	}
	written, err := conn.Write(sc.pending)
	if err != nil && !errors.Is(err, ErrWouldBlock) && !errors.Is(err, io.ErrShortWrite) {
		log.Error().Msgf("[%d] got error while flushing echo backlog to %s: %+v", conn.Fd(), conn.Addr(), err)
		return s.dropConn(conn)
	}
	s.stats.RecordEcho(conn.Addr(), 0, written)
	sc.pending = sc.pending[written:]
	if len(sc.pending) == 0 {
		sc.pending = nil
		return s.dispatcher.Selector().Modify(conn, Readable, sc.handle)
	}
	return nil
}

// closeConn finishes a connection that reached orderly peer shutdown
// and counts it towards the MaxClients bound.
func (s *EchoServer) closeConn(conn *Channel) error {
	if err := s.teardown(conn); err != nil {
		return err
	}
	served := s.served.Inc()
	if s.config.MaxClients > 0 && served >= int64(s.config.MaxClients) {
		s.dispatcher.Stop()
	}
	return nil
}

// dropConn tears a broken connection down without counting it served.
func (s *EchoServer) dropConn(conn *Channel) error {
	return s.teardown(conn)
}

func (s *EchoServer) teardown(conn *Channel) error {
	if err := s.dispatcher.Selector().Unregister(conn); err != nil {
		return err
	}
	if err := conn.Close(); err != nil {
		log.Error().Msgf("[%d] got error while closing channel: %+v", conn.Fd(), err)
	}
	return nil
}
