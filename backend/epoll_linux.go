//go:build linux

package backend

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// fdDesc tracks the read/write tokens currently registered against one
// descriptor, mirroring gaio's per-fd readers/writers split (watcher.go)
// adapted from gaio's request lists down to a single pending token per
// interest, since the scheduler only ever needs "is this fd ready", not
// a queue of in-flight read/write ops.
type fdDesc struct {
	fd         int
	readToken  any
	writeToken any
	registered Interest
}

// EpollBackend is the Linux IOBackend: one epoll instance, registered
// descriptors tracked in a small map guarded by a mutex (the scheduler
// loop is the only reader of Poll, but Register/Unregister can be called
// from any fiber's goroutine while that fiber runs).
type EpollBackend struct {
	epfd int

	mu    sync.Mutex
	descs map[int]*fdDesc
}

// NewEpollBackend creates a Linux epoll-backed poller.
func NewEpollBackend() (*EpollBackend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &EpollBackend{epfd: epfd, descs: make(map[int]*fdDesc)}, nil
}

// New constructs the platform-default Poller (epoll on Linux).
func New() (Poller, error) {
	return NewEpollBackend()
}

func epollEvents(interest Interest) uint32 {
	var ev uint32
	if interest&InterestRead != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&InterestWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Register arms fd for the given interest, delivering token through
// Poll's ready callback once it fires. Registering the same fd again
// modifies its single epoll registration (epoll_ctl MOD) rather than
// adding a second one: the new interest is added to the interest already
// registered, and the token replaces the old one for that interest.
func (b *EpollBackend) Register(fd int, interest Interest, token any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, exists := b.descs[fd]
	if !exists {
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

	ev := &unix.EpollEvent{Events: epollEvents(d.registered), Fd: int32(fd)}
	op := unix.EPOLL_CTL_ADD
	if exists {
		op = unix.EPOLL_CTL_MOD
	}
	return unix.EpollCtl(b.epfd, op, fd, ev)
}

// Unregister removes fd from the epoll set entirely, dropping both its
// read and write interest.
func (b *EpollBackend) Unregister(fd int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.descs[fd]
	if !ok {
		return nil
	}
	delete(b.descs, fd)
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{Fd: int32(fd), Events: epollEvents(d.registered)})
}

// Poll implements fiber.IOBackend: waits up to timeout for ready
// descriptors and invokes ready once per fired interest's token.
func (b *EpollBackend) Poll(timeout time.Duration, ready func(token any)) {
	ms := int(timeout / time.Millisecond)
	if timeout < 0 {
		ms = -1
	}
	var events [64]unix.EpollEvent
	n, err := unix.EpollWait(b.epfd, events[:], ms)
	if err != nil || n <= 0 {
		return
	}

	b.mu.Lock()
	fired := make([]struct {
		tokens []any
	}, 0, n)
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		d, ok := b.descs[fd]
		if !ok {
			continue
		}
		var tokens []any
		if events[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 && d.readToken != nil {
			tokens = append(tokens, d.readToken)
		}
		if events[i].Events&unix.EPOLLOUT != 0 && d.writeToken != nil {
			tokens = append(tokens, d.writeToken)
		}
		fired = append(fired, struct{ tokens []any }{tokens})
	}
	b.mu.Unlock()

	for _, f := range fired {
		for _, tok := range f.tokens {
			ready(tok)
		}
	}
}

// Close releases the epoll file descriptor.
func (b *EpollBackend) Close() error {
	return unix.Close(b.epfd)
}
