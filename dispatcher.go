package echomux

import (
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

const defPollTimeout = time.Second

type DispatcherConfig struct {
	Name            string
	LockOsThread    bool
	PollTimeout     time.Duration
	EventBufferSize int
}

// Dispatcher is the single-threaded readiness loop. It owns exclusive
// authority over when a registered channel's handler runs: one handler
// at a time, to completion, between polls. Handlers stop the loop
// through Stop, never through a shared global.
type Dispatcher struct {
	Name         string
	lockOsThread bool
	pollTimeout  time.Duration
	isRunning    *atomic.Bool
	selector     *Selector
}

func NewDispatcher(config DispatcherConfig) (*Dispatcher, error) {
	if log.Debug().Enabled() {
		log.Debug().Msgf("init dispatcher:%+v", config)
	} else {
		log.Info().Msgf("init dispatcher:%s", config.Name)
	}
	selector, err := NewSelector(config.EventBufferSize)
	if err != nil {
		log.Error().Msgf("can't open selector: %+v", err)
		return nil, err
	}
	pollTimeout := config.PollTimeout
	if pollTimeout == 0 {
		pollTimeout = defPollTimeout
	}
	return &Dispatcher{
		Name:         config.Name,
		lockOsThread: config.LockOsThread,
		pollTimeout:  pollTimeout,
		isRunning:    atomic.NewBool(false),
		selector:     selector,
	}, nil
}

func (d *Dispatcher) Selector() *Selector {
	return d.selector
}

// Serve polls the selector until Stop is called or a handler fails.
// Registrations without a handler of their own are dispatched to
// fallback; handler errors are not swallowed, the first one stops the
// loop and is returned.
func (d *Dispatcher) Serve(fallback Handler) error {
	if d.lockOsThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	defer func() {
		if err := d.selector.Close(); err != nil {
			log.Error().Msgf("got error while closing selector: %+v", err)
		}
	}()
	d.isRunning.Store(true)
	for d.isRunning.Load() {
		ready, err := d.selector.Select(d.pollTimeout)
		if err != nil {
			log.Error().Msgf("got error while waiting for the net events: %+v", err)
			return err
		}
		for _, r := range ready {
			current, ok := d.selector.lookup(r.Reg.ch.Fd())
			if !ok || current != r.Reg {
				// an earlier handler in this batch dropped the registration
				continue
			}
			handler := current.handler
			if handler == nil {
				handler = fallback
			}
			if handler == nil {
				continue
			}
			if err := handler(r.Reg.ch, r.Events); err != nil {
				log.Error().Msgf("[%d] error occurs in event-loop: %+v", r.Reg.ch.Fd(), err)
				d.isRunning.Store(false)
				return err
			}
		}
	}
	return nil
}

// Stop signals the loop to exit; it takes effect once the in-flight
// poll returns, bounded by the poll timeout.
func (d *Dispatcher) Stop() {
	d.isRunning.Store(false)
}
