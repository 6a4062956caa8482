package server

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rdpgate/internal/bridge"
	"rdpgate/internal/constants"
)

// maxCloseReasonBytes is the control frame payload limit minus the code.
const maxCloseReasonBytes = 123

type outbound struct {
	kind int
	data []byte
}

type closeFrame struct {
	code   int
	reason string
}

// wsTransport serializes every write to a gorilla connection through one
// pump goroutine. Sends never block: a full queue is reported to the
// bridge as bridge.ErrTransportSend.
type wsTransport struct {
	conn      *websocket.Conn
	send      chan outbound
	closeReq  chan closeFrame
	done      chan struct{}
	finished  chan struct{}
	heartbeat time.Duration

	mu      sync.Mutex
	closing bool

	stopOnce sync.Once
}

func newTransport(conn *websocket.Conn, heartbeat time.Duration) *wsTransport {
	return &wsTransport{
		conn:      conn,
		send:      make(chan outbound, constants.WSSendQueueSize),
		closeReq:  make(chan closeFrame, 1),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		heartbeat: heartbeat,
	}
}

func (t *wsTransport) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return t.enqueue(outbound{kind: websocket.TextMessage, data: data})
}

func (t *wsTransport) SendBinary(data []byte) error {
	return t.enqueue(outbound{kind: websocket.BinaryMessage, data: data})
}

func (t *wsTransport) enqueue(msg outbound) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing {
		return fmt.Errorf("%w: connection closing", bridge.ErrTransportSend)
	}
	select {
	case t.send <- msg:
		return nil
	default:
		return fmt.Errorf("%w: send queue full", bridge.ErrTransportSend)
	}
}

// Close flushes what is already queued, then sends a close frame.
func (t *wsTransport) Close(code int, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing {
		return
	}
	t.closing = true
	if len(reason) > maxCloseReasonBytes {
		reason = reason[:maxCloseReasonBytes]
	}
	t.closeReq <- closeFrame{code: code, reason: reason}
}

// stop ends the pump once the read side is gone and waits for it. A close
// requested before stop is still written.
func (t *wsTransport) stop() {
	t.stopOnce.Do(func() { close(t.done) })
	<-t.finished
}

func (t *wsTransport) writePump() {
	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()
	defer close(t.finished)

	for {
		select {
		case msg := <-t.send:
			if err := t.write(msg); err != nil {
				log.Printf("⚠️  WebSocket write failed: %v", err)
				t.conn.Close()
				return
			}
		case cf := <-t.closeReq:
			t.writeClose(cf)
			return
		case <-ticker.C:
			deadline := time.Now().Add(constants.WSWriteTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				t.conn.Close()
				return
			}
		case <-t.done:
			select {
			case cf := <-t.closeReq:
				t.writeClose(cf)
			default:
			}
			return
		}
	}
}

func (t *wsTransport) writeClose(cf closeFrame) {
	t.drain()
	deadline := time.Now().Add(constants.WSWriteTimeout)
	msg := websocket.FormatCloseMessage(cf.code, cf.reason)
	if err := t.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		t.conn.Close()
		return
	}
	// The read loop ends when the peer echoes the close, or at this deadline.
	t.conn.SetReadDeadline(time.Now().Add(constants.WSCloseGrace))
}

func (t *wsTransport) drain() {
	for {
		select {
		case msg := <-t.send:
			if err := t.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (t *wsTransport) write(msg outbound) error {
	t.conn.SetWriteDeadline(time.Now().Add(constants.WSWriteTimeout))
	return t.conn.WriteMessage(msg.kind, msg.data)
}
