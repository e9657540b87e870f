package echomux

import (
	"math"
	"os"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	readEvents  = unix.EPOLLPRI | unix.EPOLLIN
	writeEvents = unix.EPOLLOUT
	errorEvents = unix.EPOLLERR | unix.EPOLLHUP
)

const defEventsBufferSize = 32
const blocked = -1

type epoll struct {
	eventBufferSize int
	fd              int
	events          []unix.EpollEvent
}

func openPoller(eventsBufferSize int) (*epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	bufferSize := int(math.Max(float64(eventsBufferSize), defEventsBufferSize))
	return &epoll{
		eventBufferSize: bufferSize,
		fd:              fd,
		events:          make([]unix.EpollEvent, bufferSize),
	}, nil
}

func (p *epoll) close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}

func (p *epoll) add(fd int, interest EventMask) error {
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: sysEvents(interest)})
	if err != nil {
		return os.NewSyscallError("epoll_ctl add", err)
	}
	return nil
}

func (p *epoll) mod(fd int, interest EventMask) error {
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: sysEvents(interest)})
	if err != nil {
		return os.NewSyscallError("epoll_ctl mod", err)
	}
	return nil
}

func (p *epoll) del(fd int) error {
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil {
		return os.NewSyscallError("epoll_ctl del", err)
	}
	return nil
}

func (p *epoll) wait(timeout time.Duration) (int, error) {
	msec := blocked
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}
	evCount, err := epollWait(p.fd, p.events, msec)
	if evCount < 0 && err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, os.NewSyscallError("epoll_wait", err)
	}
	return evCount, nil
}

func (p *epoll) event(i int) (int, EventMask) {
	event := p.events[i]
	return int(event.Fd), appEvents(event.Events)
}

func sysEvents(interest EventMask) uint32 {
	// error conditions are always reported, callers observe them as
	// readable and discover the failure on the next read
	var events uint32 = errorEvents
	if interest&Readable != 0 {
		events |= readEvents
	}
	if interest&Writable != 0 {
		events |= writeEvents
	}
	return events
}

func appEvents(events uint32) EventMask {
	var mask EventMask
	if events&(readEvents|errorEvents) > 0 {
		mask |= Readable
	}
	if events&writeEvents > 0 {
		mask |= Writable
	}
	return mask
}

func epollWait(epollFd int, events []unix.EpollEvent, msec int) (count int, err error) {
	var eventCount uintptr
	var eventsPointer = unsafe.Pointer(&events[0])
	if msec == 0 {
		eventCount, _, err = syscall.RawSyscall6(syscall.SYS_EPOLL_PWAIT, uintptr(epollFd), uintptr(eventsPointer), uintptr(len(events)), 0, 0, 0)
	} else {
		eventCount, _, err = syscall.Syscall6(syscall.SYS_EPOLL_PWAIT, uintptr(epollFd), uintptr(eventsPointer), uintptr(len(events)), uintptr(msec), 0, 0)
	}
	if err == syscall.Errno(0) {
		err = nil
	}
	return int(eventCount), err
}
