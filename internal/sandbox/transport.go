package sandbox

import (
	"errors"
	"sync"
)

// ErrTransportClosed reports a send on a closed transport.
var ErrTransportClosed = errors.New("transport closed")

// Inbound is a received frame tagged with the sender's origin. The
// origin is asserted by the transport, not by the payload, so a peer
// cannot forge it.
type Inbound struct {
	Origin string
	Data   []byte
}

// Transport moves opaque frames between the two sides of the boundary.
// Implementations must tag inbound frames with the verified origin of
// the sender. Receivers select on Receive and Done; closing either side
// fires Done on both.
type Transport interface {
	Send(data []byte) error
	Receive() <-chan Inbound
	Done() <-chan struct{}
	Close() error
}

// pipeEnd is one side of an in-process transport pair. It stands in for
// a postMessage channel: same delivery and origin-tagging semantics,
// no serialization shortcut, frames are bytes on both sides.
type pipeEnd struct {
	origin string // stamped onto frames this side sends
	in     chan Inbound
	peer   *pipeEnd

	once sync.Once
	done chan struct{}
}

// NewPipe creates a connected transport pair. Frames sent on the host
// end arrive on the worker end tagged with hostOrigin, and vice versa.
func NewPipe(hostOrigin, workerOrigin string, buffer int) (host, worker Transport) {
	if buffer <= 0 {
		buffer = 64
	}
	h := &pipeEnd{origin: hostOrigin, in: make(chan Inbound, buffer), done: make(chan struct{})}
	w := &pipeEnd{origin: workerOrigin, in: make(chan Inbound, buffer), done: make(chan struct{})}
	h.peer = w
	w.peer = h
	return h, w
}

func (p *pipeEnd) Send(data []byte) error {
	frame := Inbound{Origin: p.origin, Data: data}
	select {
	case <-p.done:
		return ErrTransportClosed
	case <-p.peer.done:
		return ErrTransportClosed
	case p.peer.in <- frame:
		return nil
	}
}

func (p *pipeEnd) Receive() <-chan Inbound { return p.in }

func (p *pipeEnd) Done() <-chan struct{} { return p.done }

// Close shuts down both directions.
func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	p.peer.once.Do(func() { close(p.peer.done) })
	return nil
}
