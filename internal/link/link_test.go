package link

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rdpgate/internal/constants"
	"rdpgate/internal/frame"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := frame.Bitmap{
		Header: frame.Header{DestX: 4, DestY: 8, Width: 2, Height: 1, BitsPerPixel: 24},
		Data:   []byte{1, 2, 3, 4, 5, 6},
	}
	require.NoError(t, WriteFrame(&buf, in))
	require.NoError(t, WriteFrame(&buf, in))

	for i := 0; i < 2; i++ {
		out, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, in.Data, out.Data)
		assert.Equal(t, uint16(4), out.DestX)
		assert.Equal(t, frame.TypeBitmap, out.Type)
	}

	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrame_RejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], constants.MaxLinkFrameSize+1)
	buf.Write(lenBuf[:])

	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestControlRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewControlWriter(&buf)
	require.NoError(t, w.Write(Control{Type: CtlHello, Width: 800, Height: 600, ColorDepth: 24, Username: "bob"}))
	require.NoError(t, w.Write(Control{Type: CtlPointer, X: 3, Y: 4, Flags: 1, Down: true}))

	r := NewControlReader(&buf)
	hello, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, Control{Type: CtlHello, Width: 800, Height: 600, ColorDepth: 24, Username: "bob"}, hello)

	ptr, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, Control{Type: CtlPointer, X: 3, Y: 4, Flags: 1, Down: true}, ptr)

	_, err = r.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func sessionPair(t *testing.T, e2ee bool) (client, server *yamux.Session) {
	t.Helper()
	c, s := net.Pipe()

	serverCh := make(chan *yamux.Session, 1)
	errCh := make(chan error, 1)
	go func() {
		sess, err := Server(s, Options{E2EE: e2ee})
		if err != nil {
			errCh <- err
			return
		}
		serverCh <- sess
	}()

	client, err := Client(c, Options{E2EE: e2ee})
	require.NoError(t, err)
	select {
	case server = <-serverCh:
	case err := <-errCh:
		t.Fatalf("server: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestStreamTypes(t *testing.T) {
	for _, e2ee := range []bool{false, true} {
		client, server := sessionPair(t, e2ee)

		type accepted struct {
			conn net.Conn
			typ  byte
			err  error
		}
		acceptCh := make(chan accepted, 1)
		go func() {
			conn, typ, err := AcceptStream(server)
			acceptCh <- accepted{conn, typ, err}
		}()

		stream, err := OpenStream(client, constants.StreamTypeDisplay)
		require.NoError(t, err)
		defer stream.Close()

		got := <-acceptCh
		require.NoError(t, got.err, "e2ee=%v", e2ee)
		assert.Equal(t, constants.StreamTypeDisplay, got.typ)

		go func() {
			_ = WriteFrame(got.conn, frame.Bitmap{
				Header: frame.Header{Width: 1, Height: 1, BitsPerPixel: 24},
				Data:   []byte{9, 9, 9},
			})
		}()
		b, err := ReadFrame(stream)
		require.NoError(t, err)
		assert.Equal(t, []byte{9, 9, 9}, b.Data)
	}
}

// silentPeer accepts TCP connections and never writes to them.
func silentPeer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		var held []net.Conn
		defer func() {
			for _, c := range held {
				c.Close()
			}
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			held = append(held, conn)
		}
	}()
	return ln.Addr().String()
}

func TestDial_HandshakeBoundedByContext(t *testing.T) {
	addr := silentPeer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := Dial(ctx, addr, Options{E2EE: true, DialTimeout: time.Minute})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDial_HandshakeBoundedByDialTimeout(t *testing.T) {
	addr := silentPeer(t)

	start := time.Now()
	_, err := Dial(context.Background(), addr, Options{E2EE: true, DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDial_HandshakeCancelled(t *testing.T) {
	addr := silentPeer(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err := Dial(ctx, addr, Options{E2EE: true, DialTimeout: time.Minute})
	assert.ErrorIs(t, err, context.Canceled)
}
