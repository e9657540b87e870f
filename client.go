package echomux

import (
	"errors"
	"io"

	"github.com/eapache/queue"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// DefaultMessages is the bounded demo payload: two messages whose
// echoes the client waits for before disconnecting.
var DefaultMessages = []string{
	"It will be repeated.",
	"This is the message.  ",
}

// EchoClient drives the client half of the bounded echo demo: it sends
// each queued message in order and stops once every sent byte has been
// echoed back, or once the peer closes the connection.
type EchoClient struct {
	config     ClientConfig
	dispatcher *Dispatcher
	outbound   *queue.Queue
	buffer     []byte
	received   []byte

	bytesSent     *atomic.Uint64
	bytesReceived *atomic.Uint64
	writable      bool
}

func NewEchoClient(config ClientConfig) (*EchoClient, error) {
	if config.Net == "" {
		config.Net = "tcp"
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = defChunkSize
	}
	if len(config.Messages) == 0 {
		config.Messages = DefaultMessages
	}
	dispatcher, err := NewDispatcher(DispatcherConfig{
		Name: "EchoClient",
	})
	if err != nil {
		return nil, err
	}
	outbound := queue.New()
	for _, message := range config.Messages {
		outbound.Add([]byte(message))
	}
	return &EchoClient{
		config:        config,
		dispatcher:    dispatcher,
		outbound:      outbound,
		buffer:        make([]byte, config.ChunkSize),
		bytesSent:     atomic.NewUint64(0),
		bytesReceived: atomic.NewUint64(0),
	}, nil
}

// Run connects, registers the connection for read|write interest and
// loops until the interaction is complete.
func (c *EchoClient) Run() error {
	conn, err := Dial(c.config.Net, c.config.Address)
	if err != nil {
		return err
	}
	c.writable = true
	if err := c.dispatcher.Selector().Register(conn, Readable|Writable, c.connEvent); err != nil {
		_ = conn.Close()
		return err
	}
	return c.dispatcher.Serve(nil)
}

func (c *EchoClient) BytesSent() uint64 {
	return c.bytesSent.Load()
}

func (c *EchoClient) BytesReceived() uint64 {
	return c.bytesReceived.Load()
}

// Received is every byte echoed back so far, in arrival order.
func (c *EchoClient) Received() []byte {
	return c.received
}

func (c *EchoClient) connEvent(conn *Channel, events EventMask) error {
	if events&Writable != 0 {
		if err := c.writeEvent(conn); err != nil {
			return err
		}
	}
	if events&Readable != 0 {
		if err := c.readEvent(conn); err != nil {
			return err
		}
	}
	return nil
}

func (c *EchoClient) writeEvent(conn *Channel) error {
	if c.outbound.Length() == 0 {
		if !c.writable {
			return nil
		}
		// all outgoing data flushed, drop write interest for good
		if err := c.dispatcher.Selector().Modify(conn, Readable, c.connEvent); err != nil {
			return err
		}
		c.writable = false
		return nil
	}
	message := c.outbound.Peek().([]byte)
	written, err := conn.Write(message)
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			// send buffer full, same message is retried on the next writable event
			return nil
		}
		return err
	}
	c.outbound.Remove()
	c.bytesSent.Add(uint64(written))
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] sent %d bytes to %s", conn.Fd(), written, conn.Addr())
	}
	return nil
}

func (c *EchoClient) readEvent(conn *Channel) error {
	read, err := conn.Read(c.buffer)
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return c.shutdown(conn)
		}
		return err
	}
	c.received = append(c.received, c.buffer[:read]...)
	received := c.bytesReceived.Add(uint64(read))
	if log.Debug().Enabled() {
		log.Debug().Msgf("[%d] received %d bytes from %s", conn.Fd(), read, conn.Addr())
	}
	if c.outbound.Length() == 0 && received > 0 && received == c.bytesSent.Load() {
		return c.shutdown(conn)
	}
	return nil
}

func (c *EchoClient) shutdown(conn *Channel) error {
	if err := c.dispatcher.Selector().Unregister(conn); err != nil {
		return err
	}
	if err := conn.Close(); err != nil {
		log.Error().Msgf("[%d] got error while closing channel: %+v", conn.Fd(), err)
	}
	c.dispatcher.Stop()
	return nil
}
