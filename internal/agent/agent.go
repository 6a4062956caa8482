// Package agent is the desktop side of the gateway link: it accepts yamux
// sessions, answers hello and streams captured frames whenever the screen
// content changes.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/yamux"

	"rdpgate/internal/constants"
	"rdpgate/internal/frame"
	"rdpgate/internal/link"
)

var ErrUnexpectedStream = errors.New("unexpected stream type")

type Options struct {
	FPS      int
	E2EE     bool
	Capturer Capturer
	// OnInput receives every pointer, key and wheel event. Injection is
	// platform specific and left to the caller.
	OnInput func(remote string, msg link.Control)
}

type Server struct {
	opts Options
	wg   sync.WaitGroup
}

func NewServer(opts Options) *Server {
	if opts.FPS <= 0 {
		opts.FPS = constants.DefaultAgentFPS
	}
	if opts.Capturer == nil {
		opts.Capturer = ScreenCapturer{}
	}
	if opts.OnInput == nil {
		opts.OnInput = logInput
	}
	return &Server{opts: opts}
}

// Serve accepts gateway connections until ctx is done or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.handle(ctx, conn); err != nil {
				log.Printf("⚠️  Gateway %s: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) error {
	remote := conn.RemoteAddr().String()
	session, err := link.Server(conn, link.Options{E2EE: s.opts.E2EE})
	if err != nil {
		conn.Close()
		return err
	}
	defer session.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-session.CloseChan():
		}
	}()

	control, typ, err := link.AcceptStream(session)
	if err != nil {
		return err
	}
	if typ != constants.StreamTypeControl {
		return fmt.Errorf("%w: %d", ErrUnexpectedStream, typ)
	}
	reader := link.NewControlReader(control)
	writer := link.NewControlWriter(control)

	hello, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Type != link.CtlHello {
		return fmt.Errorf("expected hello, got %q", hello.Type)
	}
	if hello.Width < 1 || hello.Height < 1 || hello.Width > constants.MockMaxDimension || hello.Height > constants.MockMaxDimension {
		msg := fmt.Sprintf("unsupported desktop size %dx%d", hello.Width, hello.Height)
		_ = writer.Write(link.Control{Type: link.CtlError, Message: msg})
		return errors.New(msg)
	}
	if err := writer.Write(link.Control{
		Type: link.CtlReady, Width: hello.Width, Height: hello.Height, ColorDepth: constants.MockBitsPerPixel,
	}); err != nil {
		return fmt.Errorf("write ready: %w", err)
	}
	log.Printf("✅ Gateway %s attached as %q (%dx%d)", remote, hello.Username, hello.Width, hello.Height)

	display, typ, err := link.AcceptStream(session)
	if err != nil {
		return err
	}
	if typ != constants.StreamTypeDisplay {
		return fmt.Errorf("%w: %d", ErrUnexpectedStream, typ)
	}

	go s.stream(ctx, cancel, display, hello.Width, hello.Height)

	for {
		msg, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, yamux.ErrStreamClosed) || errors.Is(err, yamux.ErrSessionShutdown) || ctx.Err() != nil {
				log.Printf("👋 Gateway %s detached", remote)
				return nil
			}
			return fmt.Errorf("read control: %w", err)
		}
		switch msg.Type {
		case link.CtlPointer, link.CtlKey, link.CtlWheel:
			s.opts.OnInput(remote, msg)
		default:
			log.Printf("⚠️  Ignoring control message %q from %s", msg.Type, remote)
		}
	}
}

// stream sends a frame on every tick whose pixels differ from the last
// frame sent.
func (s *Server) stream(ctx context.Context, cancel context.CancelFunc, display net.Conn, width, height int) {
	defer cancel()
	ticker := time.NewTicker(time.Second / time.Duration(s.opts.FPS))
	defer ticker.Stop()

	var (
		last uint64
		sent bool
	)
	for {
		pixels, err := s.opts.Capturer.Capture(width, height)
		if err != nil {
			log.Printf("⚠️  Capture failed: %v", err)
		} else if sum := xxhash.Sum64(pixels); !sent || sum != last {
			bmp := frame.Bitmap{
				Header: frame.Header{
					Type:         frame.TypeBitmap,
					Width:        uint16(width),
					Height:       uint16(height),
					BitsPerPixel: constants.MockBitsPerPixel,
				},
				Data: pixels,
			}
			display.SetWriteDeadline(time.Now().Add(constants.WSWriteTimeout))
			if err := link.WriteFrame(display, bmp); err != nil {
				if ctx.Err() == nil {
					log.Printf("⚠️  Frame write failed: %v", err)
				}
				return
			}
			last, sent = sum, true
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func logInput(remote string, msg link.Control) {
	switch msg.Type {
	case link.CtlPointer:
		log.Printf("🖱  %s pointer x=%d y=%d flags=%d down=%t", remote, msg.X, msg.Y, msg.Flags, msg.Down)
	case link.CtlKey:
		log.Printf("⌨️  %s key code=%d down=%t extended=%t", remote, msg.Code, msg.Down, msg.Extended)
	case link.CtlWheel:
		log.Printf("🖱  %s wheel x=%d y=%d delta=%d", remote, msg.X, msg.Y, msg.Delta)
	}
}
