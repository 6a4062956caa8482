package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rdpgate/internal/constants"
	"rdpgate/internal/frame"
)

// Mock renders one deterministic gradient frame with a centered banner and
// accepts input without acting on it.
type Mock struct {
	width  int
	height int
	delay  time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// NewMock validates target dimensions.
func NewMock(target Target) (*Mock, error) {
	target = target.WithDefaults()
	if target.Width < 1 || target.Width > constants.MockMaxDimension ||
		target.Height < 1 || target.Height > constants.MockMaxDimension {
		return nil, fmt.Errorf("%w: %w: %dx%d", ErrMockUnavailable, ErrInvalidDimensions, target.Width, target.Height)
	}
	return &Mock{
		width:  target.Width,
		height: target.Height,
		delay:  constants.MockFrameDelay,
	}, nil
}

func (m *Mock) Name() string { return constants.BackendNameMock }

// Connect schedules the single frame and returns immediately.
func (m *Mock) Connect(ctx context.Context, _ Target, h Handlers) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.timer != nil {
		return nil
	}
	m.timer = time.AfterFunc(m.delay, func() {
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}
		h.emitBitmap(Render(m.width, m.height))
	})
	return nil
}

func (m *Mock) SendPointerEvent(x, y int, flags uint16, isDown bool) error {
	return m.check()
}

func (m *Mock) SendKeyEventScancode(code uint16, isDown, isExtended bool) error {
	return m.check()
}

func (m *Mock) SendWheelEvent(x, y, delta int, horizontal bool) error {
	return m.check()
}

func (m *Mock) check() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
	}
	return nil
}

// Render builds the mock frame: 24 bpp BGR rows, R rising with x, G rising
// with y, B = 255 - (R+G)/2, overlaid with a flat banner clipped to the frame.
func Render(width, height int) frame.Bitmap {
	data := make([]byte, width*height*3)

	for y := 0; y < height; y++ {
		g := 0
		if height > 1 {
			g = y * 255 / (height - 1)
		}
		row := data[y*width*3:]
		for x := 0; x < width; x++ {
			r := 0
			if width > 1 {
				r = x * 255 / (width - 1)
			}
			b := 255 - (r+g)/2
			px := row[x*3:]
			px[0] = byte(b)
			px[1] = byte(g)
			px[2] = byte(r)
		}
	}

	left := (width - constants.MockBannerWidth) / 2
	top := (height - constants.MockBannerHeight) / 2
	x0, x1 := max(left, 0), min(left+constants.MockBannerWidth, width)
	y0, y1 := max(top, 0), min(top+constants.MockBannerHeight, height)
	for y := y0; y < y1; y++ {
		row := data[y*width*3:]
		for x := x0; x < x1; x++ {
			px := row[x*3:]
			px[0] = constants.MockBannerBlue
			px[1] = constants.MockBannerGreen
			px[2] = constants.MockBannerRed
		}
	}

	return frame.Bitmap{
		Header: frame.Header{
			Type:         frame.TypeBitmap,
			Width:        uint16(width),
			Height:       uint16(height),
			BitsPerPixel: constants.MockBitsPerPixel,
		},
		Data: data,
	}
}
