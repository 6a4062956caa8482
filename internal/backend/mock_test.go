package backend

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rdpgate/internal/frame"
)

func pixel(b frame.Bitmap, x, y int) [3]byte {
	i := (y*int(b.Width) + x) * 3
	return [3]byte{b.Data[i], b.Data[i+1], b.Data[i+2]}
}

func TestRender_640x480(t *testing.T) {
	b := Render(640, 480)

	assert.Equal(t, frame.TypeBitmap, b.Type)
	assert.Equal(t, uint16(640), b.Width)
	assert.Equal(t, uint16(480), b.Height)
	assert.Equal(t, uint8(24), b.BitsPerPixel)
	assert.False(t, b.Compressed)
	require.Len(t, b.Data, 640*480*3)

	encoded := frame.EncodeBitmap(b)
	assert.Equal(t, []byte{1, 0, 0, 0, 0, 128, 2, 224, 1, 24, 0}, encoded[:frame.HeaderSize])

	tests := []struct {
		name string
		x, y int
		bgr  [3]byte
	}{
		{"top left", 0, 0, [3]byte{255, 0, 0}},
		{"bottom right", 639, 479, [3]byte{0, 255, 255}},
		{"left of banner", 159, 240, [3]byte{160, 127, 63}},
		{"banner top left", 160, 208, [3]byte{112, 64, 24}},
		{"banner center", 320, 240, [3]byte{112, 64, 24}},
		{"banner bottom right", 479, 271, [3]byte{112, 64, 24}},
		{"right of banner", 480, 208, [3]byte{255 - (191+110)/2, 110, 191}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.bgr, pixel(b, tt.x, tt.y))
		})
	}
}

func TestRender_Deterministic(t *testing.T) {
	assert.Equal(t, Render(333, 217).Data, Render(333, 217).Data)
}

func TestRender_BannerClipsToSmallFrame(t *testing.T) {
	b := Render(100, 10)
	for y := 0; y < 10; y++ {
		for x := 0; x < 100; x++ {
			require.Equal(t, [3]byte{112, 64, 24}, pixel(b, x, y), "pixel %d,%d", x, y)
		}
	}

	one := Render(1, 1)
	assert.Equal(t, []byte{112, 64, 24}, one.Data)
}

func TestRender_DegenerateAxes(t *testing.T) {
	b := Render(1000, 1)
	// row 0 sits inside the banner's vertical span, so check outside its columns
	assert.Equal(t, [3]byte{112, 64, 24}, pixel(b, 500, 0))
	assert.Equal(t, [3]byte{255, 0, 0}, pixel(b, 0, 0))
}

func TestNewMock_InvalidDimensions(t *testing.T) {
	for _, target := range []Target{
		{Width: -1, Height: 10},
		{Width: 10, Height: 5000},
		{Width: 4097, Height: 4097},
	} {
		_, err := NewMock(target)
		assert.ErrorIs(t, err, ErrMockUnavailable)
		assert.ErrorIs(t, err, ErrInvalidDimensions)
	}

	m, err := NewMock(Target{})
	require.NoError(t, err)
	assert.Equal(t, 1024, m.width)
	assert.Equal(t, 768, m.height)
}

func TestMock_EmitsExactlyOnce(t *testing.T) {
	m, err := NewMock(Target{Width: 32, Height: 16})
	require.NoError(t, err)
	m.delay = 5 * time.Millisecond

	var count atomic.Int32
	frames := make(chan frame.Bitmap, 4)
	h := Handlers{OnBitmap: func(b frame.Bitmap) {
		count.Add(1)
		frames <- b
	}}

	require.NoError(t, m.Connect(context.Background(), Target{}, h))
	require.NoError(t, m.Connect(context.Background(), Target{}, h))

	select {
	case b := <-frames:
		assert.Equal(t, uint16(32), b.Width)
	case <-time.After(time.Second):
		t.Fatal("no frame emitted")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())

	assert.NoError(t, m.SendPointerEvent(1, 2, 1, true))
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.SendKeyEventScancode(30, true, false), ErrClosed)
}

func TestMock_CloseBeforeEmission(t *testing.T) {
	m, err := NewMock(Target{Width: 8, Height: 8})
	require.NoError(t, err)
	m.delay = 20 * time.Millisecond

	var count atomic.Int32
	require.NoError(t, m.Connect(context.Background(), Target{}, Handlers{
		OnBitmap: func(frame.Bitmap) { count.Add(1) },
	}))
	require.NoError(t, m.Close())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), count.Load())
	assert.ErrorIs(t, m.Connect(context.Background(), Target{}, Handlers{}), ErrClosed)
}

func TestTarget_StringHidesPassword(t *testing.T) {
	target := Target{Host: "10.0.0.5", Port: 3389, Width: 800, Height: 600, ColorDepth: 16,
		Username: "alice", Password: "hunter2", Domain: "CORP"}
	assert.Equal(t, `CORP\alice@10.0.0.5:3389 (800x600@16)`, target.String())
	assert.NotContains(t, target.String(), "hunter2")
}

func TestIsMockHost(t *testing.T) {
	for _, host := range []string{"", "mock", "MOCK", "Demo", "none", " none "} {
		assert.True(t, IsMockHost(host), host)
	}
	for _, host := range []string{"localhost", "10.0.0.1", "mockery"} {
		assert.False(t, IsMockHost(host), host)
	}
}
