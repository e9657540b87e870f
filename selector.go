package echomux

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Selector multiplexes readiness notifications for a set of registered
// non-blocking channels. It is not safe for concurrent use: the
// registration table belongs to the single dispatcher thread, and
// handlers mutate it only inline from that thread.
type Selector struct {
	poller        *epoll
	registrations map[int]*Registration
	closed        bool
}

func NewSelector(eventBufferSize int) (*Selector, error) {
	poller, err := openPoller(eventBufferSize)
	if err != nil {
		return nil, err
	}
	return &Selector{
		poller:        poller,
		registrations: make(map[int]*Registration),
	}, nil
}

// Register makes ch eligible to appear in future Select results when
// one of its interest events becomes true. Registering a channel twice
// without an intervening Unregister fails with ErrDuplicateRegistration.
func (s *Selector) Register(ch *Channel, interest EventMask, handler Handler) error {
	if s.closed {
		return ErrSelectorClosed
	}
	fd := ch.Fd()
	if _, ok := s.registrations[fd]; ok {
		return ErrDuplicateRegistration
	}
	if err := s.poller.add(fd, interest); err != nil {
		return err
	}
	s.registrations[fd] = &Registration{ch: ch, interest: interest, handler: handler}
	return nil
}

// Modify replaces the interest mask and payload of an existing
// registration. It never duplicates an entry.
func (s *Selector) Modify(ch *Channel, interest EventMask, handler Handler) error {
	if s.closed {
		return ErrSelectorClosed
	}
	reg, ok := s.registrations[ch.Fd()]
	if !ok {
		return ErrNotRegistered
	}
	if err := s.poller.mod(ch.Fd(), interest); err != nil {
		return err
	}
	reg.interest = interest
	reg.handler = handler
	return nil
}

// Unregister removes the registration. Callers must unregister before
// closing a channel, or the selector is left referencing a dead
// descriptor. Double-unregister fails with ErrNotRegistered.
func (s *Selector) Unregister(ch *Channel) error {
	if s.closed {
		return ErrSelectorClosed
	}
	fd := ch.Fd()
	if _, ok := s.registrations[fd]; !ok {
		return ErrNotRegistered
	}
	if err := s.poller.del(fd); err != nil {
		return err
	}
	delete(s.registrations, fd)
	return nil
}

// Select blocks up to timeout waiting for at least one registered
// channel to become ready. A negative timeout blocks indefinitely, zero
// probes without blocking. Timeouts and EINTR both yield an empty list.
func (s *Selector) Select(timeout time.Duration) ([]Ready, error) {
	if s.closed {
		return nil, ErrSelectorClosed
	}
	evCount, err := s.poller.wait(timeout)
	if err != nil {
		return nil, err
	}
	ready := make([]Ready, 0, evCount)
	for i := 0; i < evCount; i++ {
		fd, events := s.poller.event(i)
		reg, ok := s.registrations[fd]
		if !ok {
			// stale event for a departed descriptor
			if err := s.poller.del(fd); err != nil {
				log.Debug().Msgf("[%d] error occurs while detaching fd from epoll: %v", fd, err)
			}
			continue
		}
		ready = append(ready, Ready{Reg: reg, Events: events})
	}
	return ready, nil
}

func (s *Selector) Len() int {
	return len(s.registrations)
}

// lookup reports the current registration for fd; dispatch re-checks it
// so a handler that dropped another channel mid-batch does not leave a
// stale ready entry executable.
func (s *Selector) lookup(fd int) (*Registration, bool) {
	reg, ok := s.registrations[fd]
	return reg, ok
}

// Close releases the OS resources backing the selector. The selector
// must not be polled afterwards.
func (s *Selector) Close() error {
	if s.closed {
		return ErrSelectorClosed
	}
	s.closed = true
	return s.poller.close()
}
