// Package link is the wire protocol between the gateway and a desktop
// agent. A TCP connection, optionally encrypted, carries a yamux session.
// The gateway opens two streams, each prefixed with one type byte:
//
//	control  newline-delimited JSON, both directions
//	display  agent to gateway, 4-byte big-endian length + encoded frame
package link

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/hashicorp/yamux"

	"rdpgate/internal/constants"
	"rdpgate/internal/crypto"
)

func yamuxConfig() *yamux.Config {
	config := yamux.DefaultConfig()
	config.MaxStreamWindowSize = constants.YamuxMaxStreamWindowSize
	config.AcceptBacklog = constants.YamuxAcceptBacklog
	config.EnableKeepAlive = constants.YamuxEnableKeepAlive
	config.KeepAliveInterval = constants.YamuxKeepAliveInterval
	config.LogOutput = io.Discard
	return config
}

// Probe checks that a link session can be configured in this process.
func Probe() error {
	return yamux.VerifyConfig(yamuxConfig())
}

// Options configure both ends of a link.
type Options struct {
	E2EE        bool
	DialTimeout time.Duration
}

// Dial connects to an agent at addr and returns the client side session.
func Dial(ctx context.Context, addr string, opts Options) (*yamux.Session, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = constants.DefaultAgentDialLimit
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial agent %s: %w", addr, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	// The key exchange reads from a peer that may never answer.
	limit := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(limit) {
		limit = dl
	}
	conn.SetDeadline(limit)
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	session, err := Client(conn, opts)
	if !stop() {
		if session != nil {
			session.Close()
		}
		conn.Close()
		return nil, fmt.Errorf("agent handshake %s: %w", addr, ctx.Err())
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("agent handshake %s: %w", addr, err)
	}
	conn.SetDeadline(time.Time{})
	return session, nil
}

// Client wraps an established connection as the dialing side.
func Client(conn net.Conn, opts Options) (*yamux.Session, error) {
	linkConn, err := secure(conn, opts.E2EE, false)
	if err != nil {
		return nil, err
	}
	session, err := yamux.Client(linkConn, yamuxConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create yamux client: %w", err)
	}
	return session, nil
}

// Server wraps an accepted connection as the agent side.
func Server(conn net.Conn, opts Options) (*yamux.Session, error) {
	linkConn, err := secure(conn, opts.E2EE, true)
	if err != nil {
		return nil, err
	}
	session, err := yamux.Server(linkConn, yamuxConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create yamux session: %w", err)
	}
	return session, nil
}

func secure(conn net.Conn, e2ee, isServer bool) (net.Conn, error) {
	if !e2ee {
		return conn, nil
	}
	key, err := crypto.Handshake(conn, isServer)
	if err != nil {
		return nil, fmt.Errorf("E2EE handshake failed: %w", err)
	}
	secureConn, err := crypto.NewSecureConn(conn, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create secure connection: %w", err)
	}
	return secureConn, nil
}

// OpenStream opens a stream and announces its type.
func OpenStream(session *yamux.Session, streamType byte) (net.Conn, error) {
	stream, err := session.OpenStream()
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if _, err := stream.Write([]byte{streamType}); err != nil {
		stream.Close()
		return nil, fmt.Errorf("announce stream: %w", err)
	}
	return stream, nil
}

// AcceptStream accepts the next stream and reads its type byte.
func AcceptStream(session *yamux.Session) (net.Conn, byte, error) {
	stream, err := session.AcceptStream()
	if err != nil {
		return nil, 0, err
	}
	var typeBuf [1]byte
	if _, err := io.ReadFull(stream, typeBuf[:]); err != nil {
		stream.Close()
		return nil, 0, fmt.Errorf("read stream type: %w", err)
	}
	return stream, typeBuf[0], nil
}
