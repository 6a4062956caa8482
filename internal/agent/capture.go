package agent

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// Capturer produces packed 24 bpp BGR pixels of exactly width×height.
type Capturer interface {
	Capture(width, height int) ([]byte, error)
}

// ScreenCapturer grabs the top-left region of one physical display.
type ScreenCapturer struct {
	Display int
}

func (c ScreenCapturer) Capture(width, height int) ([]byte, error) {
	if n := screenshot.NumActiveDisplays(); c.Display >= n {
		return nil, fmt.Errorf("display %d not available (%d active)", c.Display, n)
	}
	bounds := screenshot.GetDisplayBounds(c.Display)
	rect := image.Rect(
		bounds.Min.X, bounds.Min.Y,
		bounds.Min.X+min(width, bounds.Dx()), bounds.Min.Y+min(height, bounds.Dy()),
	)
	img, err := screenshot.CaptureRect(rect)
	if err != nil {
		return nil, fmt.Errorf("capture display %d: %w", c.Display, err)
	}
	return ToBGR(img, width, height), nil
}

// ToBGR converts img to packed BGR rows of width×height. Regions outside
// img are black.
func ToBGR(img *image.RGBA, width, height int) []byte {
	out := make([]byte, width*height*3)
	b := img.Bounds()
	w := min(width, b.Dx())
	h := min(height, b.Dy())
	for y := 0; y < h; y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := out[y*width*3:]
		for x := 0; x < w; x++ {
			dst[x*3] = src[x*4+2]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4]
		}
	}
	return out
}
