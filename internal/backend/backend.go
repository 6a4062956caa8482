// Package backend defines the remote desktop capability the bridge drives
// and the two implementations behind it: an agent reached over a yamux
// link and a synthetic renderer used when no real desktop is reachable.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"rdpgate/internal/constants"
	"rdpgate/internal/frame"
	"rdpgate/internal/input"
)

var (
	// ErrBackendConnect marks a failure to establish a real backend. The
	// resolver recovers from it with the mock renderer.
	ErrBackendConnect = errors.New("backend connect failed")
	// ErrMockUnavailable means the mock renderer itself could not be built.
	ErrMockUnavailable   = errors.New("mock backend unavailable")
	ErrInvalidDimensions = errors.New("invalid desktop dimensions")
	ErrClosed            = errors.New("backend closed")
)

// Target is where and how to open a desktop. It is immutable once a
// session is admitted.
type Target struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	ColorDepth int    `json:"colorDepth"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"-"`
	Domain     string `json:"domain,omitempty"`
}

// WithDefaults fills zero dimensions, depth and port.
func (t Target) WithDefaults() Target {
	if t.Width == 0 {
		t.Width = constants.DefaultWidth
	}
	if t.Height == 0 {
		t.Height = constants.DefaultHeight
	}
	if t.ColorDepth == 0 {
		t.ColorDepth = constants.DefaultColorDepth
	}
	if t.Port == 0 {
		t.Port = constants.DefaultRDPPort
	}
	return t
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String never includes the password.
func (t Target) String() string {
	user := t.Username
	if t.Domain != "" {
		user = t.Domain + `\` + user
	}
	if user != "" {
		user += "@"
	}
	return fmt.Sprintf("%s%s (%dx%d@%d)", user, t.Addr(), t.Width, t.Height, t.ColorDepth)
}

// IsMockHost reports whether host names no real backend.
func IsMockHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "", "mock", "demo", "none":
		return true
	}
	return false
}

// Handlers receive backend events. The connect event is a successful
// return from Connect. Any handler may be nil.
type Handlers struct {
	OnBitmap func(frame.Bitmap)
	OnClose  func()
	OnError  func(error)
}

func (h Handlers) emitBitmap(b frame.Bitmap) {
	if h.OnBitmap != nil {
		h.OnBitmap(b)
	}
}

func (h Handlers) emitClose() {
	if h.OnClose != nil {
		h.OnClose()
	}
}

func (h Handlers) emitError(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// Capability is one live remote desktop connection.
type Capability interface {
	input.Sink
	Name() string
	Connect(ctx context.Context, target Target, h Handlers) error
	Close() error
}
