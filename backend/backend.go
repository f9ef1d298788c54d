// Package backend supplies the concrete I/O readiness pollers that the
// fiber scheduler consumes through its IOBackend contract, plus the
// connection wrappers fiber bodies call to perform cooperative I/O
// against a socket, pipe, or file descriptor.
package backend

import (
	"errors"
	"io"
)

// Interest is the set of readiness events a registration cares about.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite
)

// ErrClosed is returned by Conn operations performed after Close.
var ErrClosed = errors.New("polyphony/backend: connection closed")

// Feed is the capability interface FeedLoop drives: anything that can
// hand back a chunk of bytes on demand. Conn implements it directly;
// callers can also wrap an arbitrary io.Reader with FeedFunc to avoid
// requiring every source to implement the full Conn surface (spec
// §4.6/§6 "feed_loop" resolved without reflection — Design Notes §9).
type Feed interface {
	Feed(buf []byte) (n int, err error)
}

// FeedFunc adapts a plain function to the Feed interface.
type FeedFunc func(buf []byte) (int, error)

func (f FeedFunc) Feed(buf []byte) (int, error) { return f(buf) }

// FeedReader wraps any io.Reader as a Feed, for sources that never need
// the full cooperative Conn machinery (e.g. bytes.Reader in tests).
func FeedReader(r io.Reader) Feed {
	return FeedFunc(func(buf []byte) (int, error) { return r.Read(buf) })
}
