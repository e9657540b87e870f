package echomux

// EventMask describes which readiness kinds a caller is interested in,
// or which kinds were observed on a ready channel.
type EventMask uint8

const (
	Readable EventMask = 1 << iota
	Writable
)

func (m EventMask) String() string {
	switch {
	case m&Readable != 0 && m&Writable != 0:
		return "readable|writable"
	case m&Readable != 0:
		return "readable"
	case m&Writable != 0:
		return "writable"
	}
	return "none"
}

// Handler is invoked by the dispatcher when a registered channel becomes
// ready. A handler must not block: every channel handed to the selector
// is non-blocking and a stalled handler stalls the whole loop.
type Handler func(ch *Channel, events EventMask) error

// Registration ties a channel to its interest mask and payload. The
// payload is either a Handler or nil; nil means the caller inspects
// observed masks itself and the dispatcher falls back to the handler
// passed to Serve.
type Registration struct {
	ch       *Channel
	interest EventMask
	handler  Handler
}

func (r *Registration) Channel() *Channel {
	return r.ch
}

func (r *Registration) Interest() EventMask {
	return r.interest
}

// Ready is one entry of a poll result: a registration together with the
// events observed on its channel. Ready lists are built fresh on every
// poll and must not be retained across polls.
type Ready struct {
	Reg    *Registration
	Events EventMask
}
