//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation and factory.

package reactor

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// linuxReactor is a level-triggered epoll reactor with an eventfd for wake-ups.
type linuxReactor struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent
}

// NewReactor constructs a new platform-specific EventReactor for Linux.
func NewReactor(maxEvents int) (EventReactor, error) {
	if maxEvents <= 0 {
		maxEvents = 128
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	r := &linuxReactor{
		epfd:   epfd,
		wakefd: wakefd,
		raw:    make([]unix.EpollEvent, maxEvents),
	}
	if err := r.ctl(unix.EPOLL_CTL_ADD, wakefd, TokenWake, EventRead); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, err
	}
	return r, nil
}

// Add adds file descriptor to epoll.
func (r *linuxReactor) Add(fd int, token uint64, events EventMask) error {
	if token == TokenWake {
		return errors.New("reactor: token is reserved")
	}
	return r.ctl(unix.EPOLL_CTL_ADD, fd, token, events)
}

// Modify changes the interest set of fd.
func (r *linuxReactor) Modify(fd int, token uint64, events EventMask) error {
	return r.ctl(unix.EPOLL_CTL_MOD, fd, token, events)
}

// Remove deletes fd from the interest list.
func (r *linuxReactor) Remove(fd int) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

func (r *linuxReactor) ctl(op, fd int, token uint64, events EventMask) error {
	ev := unix.EpollEvent{Events: toEpoll(events)}
	// The 64-bit epoll user data is split across Fd and Pad.
	ev.Fd = int32(uint32(token))
	ev.Pad = int32(uint32(token >> 32))
	if err := unix.EpollCtl(r.epfd, op, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl %d fd %d: %w", op, fd, err)
	}
	return nil
}

// Wait waits for epoll events and fills the result into events slice.
func (r *linuxReactor) Wait(events []Event, timeout time.Duration) (int, error) {
	max := len(events)
	if max > len(r.raw) {
		max = len(r.raw)
	}
	n, err := unix.EpollWait(r.epfd, r.raw[:max], timeoutMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil // interrupted by signal — normal
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		raw := r.raw[i]
		token := uint64(uint32(raw.Fd)) | uint64(uint32(raw.Pad))<<32
		if token == TokenWake {
			r.drainWake()
		}
		events[i] = Event{Token: token, Mask: fromEpoll(raw.Events)}
	}
	return n, nil
}

// Wake bumps the eventfd counter.
func (r *linuxReactor) Wake() error {
	var one [8]byte
	one[0] = 1 // little-endian 1; eventfd only cares that the value is non-zero
	if _, err := unix.Write(r.wakefd, one[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (r *linuxReactor) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(r.wakefd, buf[:]); err != nil {
			return
		}
	}
}

// Close closes the epoll instance and the wake descriptor.
func (r *linuxReactor) Close() error {
	errWake := unix.Close(r.wakefd)
	errEpoll := unix.Close(r.epfd)
	if errEpoll != nil {
		return errEpoll
	}
	return errWake
}

func toEpoll(events EventMask) uint32 {
	var out uint32 = unix.EPOLLRDHUP
	if events&EventRead != 0 {
		out |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		out |= unix.EPOLLOUT
	}
	return out
}

func fromEpoll(raw uint32) EventMask {
	var m EventMask
	if raw&unix.EPOLLIN != 0 {
		m |= EventRead
	}
	if raw&unix.EPOLLOUT != 0 {
		m |= EventWrite
	}
	if raw&unix.EPOLLERR != 0 {
		m |= EventError
	}
	if raw&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		m |= EventHangup
	}
	return m
}
