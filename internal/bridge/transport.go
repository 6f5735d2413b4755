package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devbridge/agent/internal/errors"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long we wait for a pong before declaring the
	// connection dead.
	pongWait = 60 * time.Second

	// pingPeriod is the keepalive interval. Must be shorter than
	// pongWait.
	pingPeriod = 30 * time.Second

	// maxFrameSize caps inbound frames at 512KB.
	maxFrameSize = 512 * 1024
)

// Transport is a live bidirectional channel to the control server.
// Inbound frames and the close notification are delivered through the
// callbacks given to the Dialer.
type Transport interface {
	// Send queues one outbound frame. Fails once the transport is closed.
	Send(data []byte) error

	// Close tears the channel down. Safe to call multiple times.
	Close() error
}

// Dialer establishes a Transport to an endpoint. onFrame is invoked for
// every inbound frame; onClose is invoked exactly once when the channel
// dies, whether by remote close, read error, or local Close.
type Dialer func(ctx context.Context, endpoint string, onFrame func([]byte), onClose func(error)) (Transport, error)

// wsTransport is the production Transport over a WebSocket connection.
// A dedicated write pump serializes all writes and keeps the connection
// alive with periodic pings; the read pump delivers inbound frames and
// detects disconnection.
type wsTransport struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce  sync.Once
	notifyOnce sync.Once
	onClose    func(error)
}

// DialWebSocket is the production Dialer.
func DialWebSocket(ctx context.Context, endpoint string, onFrame func([]byte), onClose func(error)) (Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(errors.CodeTransportDialFailed, "dial "+endpoint, err)
	}

	t := &wsTransport{
		conn:    conn,
		send:    make(chan []byte, 64),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	go t.writePump()
	go t.readPump(onFrame)
	return t, nil
}

func (t *wsTransport) Send(data []byte) error {
	select {
	case <-t.done:
		return errors.New(errors.CodeTransportSendFailed, "transport is closed")
	case t.send <- data:
		return nil
	}
}

// Close signals shutdown exactly once. The write pump sends the close
// frame and closes the underlying connection, which unblocks the read
// pump.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
	})
	return nil
}

// notifyClose delivers the close notification exactly once, no matter
// which pump dies first.
func (t *wsTransport) notifyClose(err error) {
	t.notifyOnce.Do(func() {
		if t.onClose != nil {
			t.onClose(err)
		}
	})
}

// writePump serializes all writes to the connection and sends periodic
// pings to keep NAT/firewalls happy and detect dead peers.
func (t *wsTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.conn.Close()
	}()

	for {
		select {
		case <-t.done:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			t.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case data := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.notifyClose(errors.Wrap(errors.CodeTransportSendFailed, "write frame", err))
				return
			}

		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.notifyClose(errors.Wrap(errors.CodeTransportClosed, "ping failed", err))
				return
			}
		}
	}
}

// readPump delivers inbound frames until the connection dies, then
// fires the close notification.
func (t *wsTransport) readPump(onFrame func([]byte)) {
	defer func() {
		t.Close()
	}()

	t.conn.SetReadLimit(maxFrameSize)
	t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.notifyClose(errors.Wrap(errors.CodeTransportClosed, "connection lost", err))
			return
		}
		if onFrame != nil {
			onFrame(data)
		}
	}
}
