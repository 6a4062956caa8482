package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/yamux"

	"rdpgate/internal/constants"
	"rdpgate/internal/link"
)

// Agent drives a desktop agent over a link session: one control stream
// for hello and input, one display stream for frames.
type Agent struct {
	opts link.Options

	mu       sync.Mutex
	session  *yamux.Session
	control  net.Conn
	writer   *link.ControlWriter
	handlers Handlers
	closed   bool

	finishOnce sync.Once
}

func NewAgent(opts link.Options) *Agent {
	return &Agent{opts: opts}
}

func (a *Agent) Name() string { return constants.BackendNameAgent }

// Connect dials the agent, performs the hello/ready exchange and starts
// the stream readers. ctx bounds the whole handshake.
func (a *Agent) Connect(ctx context.Context, target Target, h Handlers) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.session != nil {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	session, err := link.Dial(ctx, target.Addr(), a.opts)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackendConnect, err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-done:
		}
	}()

	control, reader, err := a.hello(session, target)
	if err != nil {
		session.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return fmt.Errorf("%w: %w", ErrBackendConnect, err)
	}

	display, err := link.OpenStream(session, constants.StreamTypeDisplay)
	if err != nil {
		session.Close()
		return fmt.Errorf("%w: %w", ErrBackendConnect, err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		session.Close()
		return ErrClosed
	}
	a.session = session
	a.control = control
	a.writer = link.NewControlWriter(control)
	a.handlers = h
	a.mu.Unlock()

	go a.readDisplay(display)
	go a.readControl(reader)
	return nil
}

func (a *Agent) hello(session *yamux.Session, target Target) (net.Conn, *link.ControlReader, error) {
	control, err := link.OpenStream(session, constants.StreamTypeControl)
	if err != nil {
		return nil, nil, err
	}

	err = link.NewControlWriter(control).Write(link.Control{
		Type:       link.CtlHello,
		Width:      target.Width,
		Height:     target.Height,
		ColorDepth: target.ColorDepth,
		Username:   target.Username,
		Password:   target.Password,
		Domain:     target.Domain,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("send hello: %w", err)
	}

	reader := link.NewControlReader(control)
	reply, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("await ready: %w", err)
	}
	switch reply.Type {
	case link.CtlReady:
		return control, reader, nil
	case link.CtlError:
		return nil, nil, fmt.Errorf("agent refused: %s", reply.Message)
	default:
		return nil, nil, fmt.Errorf("unexpected %q reply to hello", reply.Type)
	}
}

func (a *Agent) readDisplay(display net.Conn) {
	defer display.Close()
	for {
		b, err := link.ReadFrame(display)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, yamux.ErrStreamClosed) || errors.Is(err, yamux.ErrSessionShutdown) {
				a.finish(nil)
			} else {
				a.finish(fmt.Errorf("display stream: %w", err))
			}
			return
		}
		a.mu.Lock()
		closed, h := a.closed, a.handlers
		a.mu.Unlock()
		if closed {
			return
		}
		h.emitBitmap(b)
	}
}

func (a *Agent) readControl(reader *link.ControlReader) {
	for {
		msg, err := reader.Read()
		if err != nil {
			return
		}
		if msg.Type == link.CtlError {
			a.mu.Lock()
			closed, h := a.closed, a.handlers
			a.mu.Unlock()
			if !closed {
				h.emitError(fmt.Errorf("agent: %s", msg.Message))
			}
			continue
		}
		log.Printf("⚠️  Ignoring agent control message %q", msg.Type)
	}
}

// finish reports the end of the agent side. Nothing is reported once the
// gateway closed the capability itself.
func (a *Agent) finish(err error) {
	a.finishOnce.Do(func() {
		a.mu.Lock()
		closed, h, session := a.closed, a.handlers, a.session
		a.closed = true
		a.mu.Unlock()
		if session != nil {
			session.Close()
		}
		if closed {
			return
		}
		if err != nil {
			h.emitError(err)
		}
		h.emitClose()
	})
}

func (a *Agent) send(msg link.Control) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.writer == nil {
		return ErrClosed
	}
	a.control.SetWriteDeadline(time.Now().Add(constants.WSWriteTimeout))
	return a.writer.Write(msg)
}

func (a *Agent) SendPointerEvent(x, y int, flags uint16, isDown bool) error {
	return a.send(link.Control{Type: link.CtlPointer, X: x, Y: y, Flags: flags, Down: isDown})
}

func (a *Agent) SendKeyEventScancode(code uint16, isDown, isExtended bool) error {
	return a.send(link.Control{Type: link.CtlKey, Code: code, Down: isDown, Extended: isExtended})
}

func (a *Agent) SendWheelEvent(x, y, delta int, horizontal bool) error {
	return a.send(link.Control{Type: link.CtlWheel, X: x, Y: y, Delta: delta, Horizontal: horizontal})
}

func (a *Agent) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	session := a.session
	a.mu.Unlock()
	if session != nil {
		return session.Close()
	}
	return nil
}
