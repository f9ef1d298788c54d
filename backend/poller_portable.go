//go:build !linux

package backend

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// PollBackend is the portable IOBackend fallback for platforms without
// epoll, built on a short-timeout unix.Poll sweep over every registered
// descriptor (spec §4.11 — keeps the module compiling/linking off
// Linux, at the cost of the O(n) scan epoll avoids).
type PollBackend struct {
	mu    sync.Mutex
	descs map[int]*fdDesc
}

type fdDesc struct {
	fd         int
	readToken  any
	writeToken any
	registered Interest
}

// NewPollBackend creates the portable fallback poller.
func NewPollBackend() (*PollBackend, error) {
	return &PollBackend{descs: make(map[int]*fdDesc)}, nil
}

// New constructs the platform-default Poller (unix.Poll fallback off Linux).
func New() (Poller, error) {
	return NewPollBackend()
}

func (b *PollBackend) Register(fd int, interest Interest, token any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.descs[fd]
	if !ok {
		d = &fdDesc{fd: fd}
		b.descs[fd] = d
	}
	if interest&InterestRead != 0 {
		d.readToken = token
	}
	if interest&InterestWrite != 0 {
		d.writeToken = token
	}
	d.registered |= interest
	return nil
}

func (b *PollBackend) Unregister(fd int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.descs, fd)
	return nil
}

// Poll sweeps every registered fd with unix.Poll using the caller's
// timeout, since there's no single portable readiness primitive covering
// all non-Linux unix targets that scales like epoll.
func (b *PollBackend) Poll(timeout time.Duration, ready func(token any)) {
	b.mu.Lock()
	fds := make([]unix.PollFd, 0, len(b.descs))
	descs := make([]*fdDesc, 0, len(b.descs))
	for _, d := range b.descs {
		var events int16
		if d.registered&InterestRead != 0 {
			events |= unix.POLLIN
		}
		if d.registered&InterestWrite != 0 {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(d.fd), Events: events})
		descs = append(descs, d)
	}
	b.mu.Unlock()

	if len(fds) == 0 {
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return
	}

	ms := int(timeout / time.Millisecond)
	if timeout < 0 {
		ms = -1
	}
	n, err := unix.Poll(fds, ms)
	if err != nil || n <= 0 {
		return
	}

	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		d := descs[i]
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 && d.readToken != nil {
			ready(d.readToken)
		}
		if pfd.Revents&unix.POLLOUT != 0 && d.writeToken != nil {
			ready(d.writeToken)
		}
	}
}

// Close is a no-op; PollBackend owns no kernel resources beyond the fds
// callers already manage themselves.
func (b *PollBackend) Close() error { return nil }
