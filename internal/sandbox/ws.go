package sandbox

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WSTransport adapts a WebSocket connection to the Transport interface.
// Inbound frames are tagged with peerOrigin, which the caller verifies
// at upgrade time; the peer cannot change it afterwards.
type WSTransport struct {
	conn       *websocket.Conn
	peerOrigin string
	in         chan Inbound

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

// NewWSTransport wraps conn. The transport owns the connection and
// closes it when either side shuts down.
func NewWSTransport(conn *websocket.Conn, peerOrigin string) *WSTransport {
	t := &WSTransport{
		conn:       conn,
		peerOrigin: peerOrigin,
		in:         make(chan Inbound, 64),
		done:       make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *WSTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.Close()
			return
		}
		select {
		case t.in <- Inbound{Origin: t.peerOrigin, Data: data}:
		case <-t.done:
			return
		}
	}
}

func (t *WSTransport) Send(data []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return ErrTransportClosed
	}
	return nil
}

func (t *WSTransport) Receive() <-chan Inbound { return t.in }

func (t *WSTransport) Done() <-chan struct{} { return t.done }

func (t *WSTransport) Close() error {
	t.once.Do(func() {
		close(t.done)
		t.conn.Close()
	})
	return nil
}
