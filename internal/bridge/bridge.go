// Package bridge runs one browser connection: it authenticates the connect
// message, admits a session, drives the backend and relays frames and
// input until the connection or the backend ends.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"rdpgate/internal/auth"
	"rdpgate/internal/backend"
	"rdpgate/internal/constants"
	"rdpgate/internal/frame"
	"rdpgate/internal/input"
	"rdpgate/internal/logger"
	"rdpgate/internal/protocol"
	"rdpgate/internal/security"
	"rdpgate/internal/session"
)

// ErrTransportSend means a message could not be queued for the client.
var ErrTransportSend = errors.New("transport send failed")

// maxPendingFrames bounds frames buffered between backend connect and the
// connected acknowledgment.
const maxPendingFrames = 4

// Transport is the client side of a bridge. Sends must not block; Close
// flushes queued messages and then closes with code.
type Transport interface {
	SendJSON(v any) error
	SendBinary(data []byte) error
	Close(code int, reason string)
}

type Verifier interface {
	Verify(token string) (*auth.Claims, error)
}

type Opener interface {
	Open(ctx context.Context, target backend.Target, h backend.Handlers) (backend.Capability, error)
}

// Config is shared by every bridge of a gateway.
type Config struct {
	Verifier       Verifier
	Registry       *session.Registry
	Resolver       Opener
	ConnectTimeout time.Duration
	Audit          *security.AuditLogger
	Throttle       *security.AuthThrottle
	SessionLogDir  string
}

type Bridge struct {
	cfg          Config
	transport    Transport
	clientIP     string
	upgradeToken string

	mu         sync.Mutex
	sess       *session.Session
	capability backend.Capability
	cancel     context.CancelFunc
	pending    [][]byte
	closed     bool
	events     *logger.Logger

	teardownOnce sync.Once
}

// New binds a bridge to one client transport. upgradeToken is the token
// presented on the HTTP upgrade, used when connect carries none.
func New(cfg Config, t Transport, clientIP, upgradeToken string) *Bridge {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = constants.DefaultConnectTimeout
	}
	return &Bridge{
		cfg:          cfg,
		transport:    t,
		clientIP:     clientIP,
		upgradeToken: upgradeToken,
	}
}

// Session returns the admitted session, or nil before admission.
func (b *Bridge) Session() *session.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sess
}

// HandleMessage processes one text frame. Messages are handled strictly in
// arrival order by the caller's read loop.
func (b *Bridge) HandleMessage(data []byte) {
	b.mu.Lock()
	closed, s, events := b.closed, b.sess, b.events
	b.mu.Unlock()
	if closed {
		return
	}
	if s != nil {
		s.AddReceived(len(data))
	}

	msgType, err := protocol.Peek(data)
	if err != nil {
		log.Printf("⚠️  Ignoring message from %s: %v", b.clientIP, err)
		events.LogError(logger.DirClient, err)
		return
	}
	events.LogMessage(logger.DirClient, string(msgType), len(data))

	switch msgType {
	case protocol.MsgConnect:
		var msg protocol.ConnectMessage
		if err := protocol.Decode(data, &msg); err != nil {
			log.Printf("⚠️  Ignoring connect from %s: %v", b.clientIP, err)
			return
		}
		b.handleConnect(msg)
	case protocol.MsgMouse:
		var msg protocol.MouseMessage
		if b.decodeInput(data, &msg) {
			b.forward(func(sink input.Sink) error { return input.Mouse(sink, msg) })
		}
	case protocol.MsgKeyboard:
		var msg protocol.KeyboardMessage
		if b.decodeInput(data, &msg) {
			b.forward(func(sink input.Sink) error { return input.Keyboard(sink, msg) })
		}
	case protocol.MsgWheel:
		var msg protocol.WheelMessage
		if b.decodeInput(data, &msg) {
			b.forward(func(sink input.Sink) error { return input.Wheel(sink, msg) })
		}
	case protocol.MsgDisconnect:
		b.teardown(closeRequest{code: constants.CloseNormal, notice: protocol.Close(), reason: "client disconnect"})
	default:
		log.Printf("⚠️  Ignoring unknown message type %q from %s", msgType, b.clientIP)
	}
}

func (b *Bridge) decodeInput(data []byte, v any) bool {
	if err := protocol.Decode(data, v); err != nil {
		log.Printf("⚠️  Ignoring input from %s: %v", b.clientIP, err)
		return false
	}
	return true
}

// TransportClosed tears the session down after the client connection is
// gone. Nothing is sent to the client.
func (b *Bridge) TransportClosed(err error) {
	reason := "connection closed"
	if err != nil {
		reason = fmt.Sprintf("connection closed: %v", err)
	}
	b.teardown(closeRequest{reason: reason, silent: true})
}

// Abort ends the connection after an internal failure in the caller.
func (b *Bridge) Abort(err error) {
	b.teardown(closeRequest{
		code:   constants.CloseInternalError,
		notice: protocol.Error(constants.MsgInternalError),
		reason: fmt.Sprintf("internal error: %v", err),
	})
}

func (b *Bridge) handleConnect(msg protocol.ConnectMessage) {
	b.mu.Lock()
	existing := b.sess
	b.mu.Unlock()
	if existing != nil {
		log.Printf("⚠️  Ignoring second connect on session %s", existing.ID)
		return
	}

	if !b.cfg.Throttle.Allow(b.clientIP) {
		b.rejectAuth(errors.New("too many failed attempts"))
		return
	}

	token := msg.Token
	if token == "" {
		token = b.upgradeToken
	}
	claims, err := b.cfg.Verifier.Verify(token)
	if err == nil {
		err = claims.Allows(msg.NodeID)
	}
	if err != nil {
		if b.cfg.Throttle.Fail(b.clientIP) {
			b.cfg.Audit.LogAuthBlocked(b.clientIP, b.cfg.Throttle.Cooldown())
		}
		b.rejectAuth(err)
		return
	}
	b.cfg.Throttle.Succeed(b.clientIP)

	target := targetFrom(msg.Config)
	s := session.New(target, claims.Subject, msg.NodeID, b.clientIP)
	if err := b.cfg.Registry.Admit(s); err != nil {
		log.Printf("🚫 Rejecting %s from %s: %v", claims.Subject, b.clientIP, err)
		b.cfg.Audit.LogCapacityExceeded(b.clientIP, claims.Subject, b.cfg.Registry.Max())
		b.teardown(closeRequest{
			code:   constants.CloseTryAgainLater,
			notice: protocol.Error(constants.MsgCapacityExceeded),
			reason: err.Error(),
		})
		return
	}

	var events *logger.Logger
	if b.cfg.SessionLogDir != "" {
		events, err = logger.NewLogger(b.cfg.SessionLogDir, s.ID)
		if err != nil {
			log.Printf("⚠️  Session log disabled for %s: %v", s.ID, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.ConnectTimeout)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		events.Close()
		b.cfg.Registry.Remove(s.ID)
		return
	}
	b.sess = s
	b.cancel = cancel
	b.events = events
	b.mu.Unlock()

	s.OnEvict(b.evict)
	_ = s.Transition(session.StateConnecting)

	log.Printf("🖥  Session %s admitted for %s -> %s", s.ID, claims.Subject, target)
	b.cfg.Audit.LogSessionOpen(b.clientIP, s.ID, claims.Subject, target.String())
	events.LogEvent("admitted for " + target.String())

	go b.connect(ctx, s)
}

func (b *Bridge) rejectAuth(err error) {
	log.Printf("🔒 Authentication failed for %s: %v", b.clientIP, err)
	b.cfg.Registry.RecordAuthFailure()
	b.cfg.Audit.LogAuthFailure(b.clientIP, err.Error())
	b.teardown(closeRequest{
		code:   constants.ClosePolicyViolation,
		notice: protocol.Error(constants.MsgAuthFailed),
		reason: "authentication failed",
	})
}

func targetFrom(c protocol.TargetConfig) backend.Target {
	return backend.Target{
		Host:       security.SanitizeField(c.Host, constants.MaxTargetFieldLength),
		Port:       c.Port,
		Width:      c.Width,
		Height:     c.Height,
		ColorDepth: c.ColorDepth,
		Username:   security.SanitizeField(c.Username, constants.MaxTargetFieldLength),
		Password:   c.Password,
		Domain:     security.SanitizeField(c.Domain, constants.MaxTargetFieldLength),
	}.WithDefaults()
}

func (b *Bridge) connect(ctx context.Context, s *session.Session) {
	defer b.recoverPanic()

	handlers := backend.Handlers{
		OnBitmap: func(bmp frame.Bitmap) { b.onBitmap(s, bmp) },
		OnClose: func() {
			b.teardown(closeRequest{
				code:   constants.CloseNormal,
				notice: protocol.Error(constants.MsgBackendClosed),
				reason: "backend closed",
			})
		},
		OnError: func(err error) {
			b.mu.Lock()
			events := b.events
			b.mu.Unlock()
			events.LogError(logger.DirBackend, err)
			b.teardown(closeRequest{
				code:   constants.CloseInternalError,
				notice: protocol.Error(constants.MsgBackendFailed),
				reason: fmt.Sprintf("backend error: %v", err),
			})
		},
	}

	capability, err := b.cfg.Resolver.Open(ctx, s.Target, handlers)
	if err != nil {
		b.mu.Lock()
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return
		}
		msg := constants.MsgBackendFailed
		if errors.Is(err, backend.ErrInvalidDimensions) {
			msg = constants.MsgInvalidDimensions
		}
		b.teardown(closeRequest{
			code:   constants.CloseInternalError,
			notice: protocol.Error(msg),
			reason: err.Error(),
		})
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		capability.Close()
		return
	}
	b.capability = capability
	s.SetBackend(capability.Name())
	if err := s.Transition(session.StateActive); err != nil {
		b.mu.Unlock()
		capability.Close()
		return
	}
	sendErr := b.transport.SendJSON(protocol.Connected(s.ID))
	pending := b.pending
	b.pending = nil
	for _, data := range pending {
		if sendErr != nil {
			break
		}
		if sendErr = b.transport.SendBinary(data); sendErr == nil {
			s.AddSent(len(data), true)
		}
	}
	events := b.events
	b.mu.Unlock()

	if sendErr != nil {
		b.sendFailed(sendErr)
		return
	}
	s.Touch()
	log.Printf("✅ Session %s active on %s backend", s.ID, capability.Name())
	events.LogEvent("active on " + capability.Name())
}

func (b *Bridge) onBitmap(s *session.Session, bmp frame.Bitmap) {
	data := frame.EncodeBitmap(bmp)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	switch s.State() {
	case session.StateConnecting:
		b.pending = append(b.pending, data)
		dropped := len(b.pending) > maxPendingFrames
		if dropped {
			b.pending = b.pending[1:]
		}
		events := b.events
		b.mu.Unlock()
		if dropped {
			log.Printf("⚠️  Session %s: dropped oldest frame buffered before connected (keeping %d)", s.ID, maxPendingFrames)
			events.LogEvent("dropped frame buffered before connected")
		}
		return
	case session.StateActive:
	default:
		b.mu.Unlock()
		return
	}
	err := b.transport.SendBinary(data)
	b.mu.Unlock()

	if err != nil {
		b.sendFailed(err)
		return
	}
	s.AddSent(len(data), true)
	s.Touch()
}

func (b *Bridge) sendFailed(err error) {
	if !errors.Is(err, ErrTransportSend) {
		err = fmt.Errorf("%w: %w", ErrTransportSend, err)
	}
	log.Printf("⚠️  %v (%s)", err, b.clientIP)
	b.teardown(closeRequest{
		code:   constants.CloseInternalError,
		notice: protocol.Error(constants.MsgTransportTooSlow),
		reason: err.Error(),
	})
}

// forward sends one translated input event. Events are dropped unless the
// session is Active; backend errors are logged and never retried.
func (b *Bridge) forward(send func(input.Sink) error) {
	b.mu.Lock()
	s, capability := b.sess, b.capability
	b.mu.Unlock()
	if s == nil {
		return
	}
	s.Touch()
	if capability == nil || s.State() != session.StateActive {
		return
	}
	if err := send(capability); err != nil {
		log.Printf("⚠️  Input for session %s: %v", s.ID, err)
	}
}

func (b *Bridge) evict(reason session.Reason) {
	switch reason {
	case session.ReasonIdle:
		s := b.Session()
		if s != nil {
			b.cfg.Audit.LogIdleEvicted(b.clientIP, s.ID, s.Subject, b.cfg.Registry.IdleTimeout())
		}
		b.teardown(closeRequest{
			code:   constants.CloseIdleTimeout,
			notice: protocol.Error(constants.MsgIdleTimeout),
			reason: "idle timeout",
		})
	default:
		b.teardown(closeRequest{
			code:   constants.CloseNormal,
			notice: protocol.Error(constants.MsgShutdown),
			reason: reason.String(),
		})
	}
}

// Shutdown ends the connection for process shutdown.
func (b *Bridge) Shutdown() {
	b.evict(session.ReasonShutdown)
}

type closeRequest struct {
	code   int
	notice any
	reason string
	silent bool
}

// teardown notifies the client, releases the backend, removes the session
// from the registry and closes the transport, once.
func (b *Bridge) teardown(req closeRequest) {
	b.teardownOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		s, capability, cancel, events := b.sess, b.capability, b.cancel, b.events
		b.capability = nil
		b.pending = nil
		b.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if s != nil {
			_ = s.Transition(session.StateClosing)
		}
		if !req.silent && req.notice != nil {
			if err := b.transport.SendJSON(req.notice); err != nil {
				log.Printf("⚠️  Could not notify %s: %v", b.clientIP, err)
			}
		}
		if capability != nil {
			if err := capability.Close(); err != nil {
				log.Printf("⚠️  Backend close for session %s: %v", s.ID, err)
			}
		}
		if s != nil {
			b.cfg.Registry.Remove(s.ID)
			_ = s.Transition(session.StateClosed)
			log.Printf("👋 Session %s closed: %s", s.ID, req.reason)
			b.cfg.Audit.LogSessionClose(b.clientIP, s.ID, s.Subject, req.reason)
			events.LogEvent("closed: " + req.reason)
			events.Close()
		}
		if !req.silent {
			b.transport.Close(req.code, req.reason)
		}
	})
}

func (b *Bridge) recoverPanic() {
	if r := recover(); r != nil {
		log.Printf("❌ Panic in session bridge for %s: %v", b.clientIP, r)
		b.teardown(closeRequest{
			code:   constants.CloseInternalError,
			notice: protocol.Error(constants.MsgBackendFailed),
			reason: fmt.Sprintf("panic: %v", r),
		})
	}
}
