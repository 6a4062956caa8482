// Package input maps browser HID messages onto backend input calls.
package input

import (
	"errors"
	"fmt"
	"math"

	"rdpgate/internal/protocol"
)

// Backend pointer button flags.
const (
	FlagNone   uint16 = 0
	FlagLeft   uint16 = 1
	FlagRight  uint16 = 2
	FlagMiddle uint16 = 4
)

// Wheel step magnitudes. The backend wheel interface is step based, so the
// browser's continuous delta is reduced to its sign.
const (
	WheelStepUp   = 120
	WheelStepDown = -120
)

var ErrUnknownEvent = errors.New("unknown input event")

// Sink is the input half of a backend capability.
type Sink interface {
	SendPointerEvent(x, y int, flags uint16, isDown bool) error
	SendKeyEventScancode(code uint16, isDown, isExtended bool) error
	SendWheelEvent(x, y, delta int, horizontal bool) error
}

// ButtonFlag maps a browser button index to the backend flag:
// 0 left, 1 middle, 2 right, anything else none.
func ButtonFlag(button int) uint16 {
	switch button {
	case 0:
		return FlagLeft
	case 1:
		return FlagMiddle
	case 2:
		return FlagRight
	default:
		return FlagNone
	}
}

// WheelStep reduces a vertical delta to a fixed step. ok is false for a
// zero delta, which produces no backend call.
func WheelStep(deltaY float64) (step int, ok bool) {
	switch {
	case deltaY < 0:
		return WheelStepUp, true
	case deltaY > 0:
		return WheelStepDown, true
	default:
		return 0, false
	}
}

// coord rounds a browser coordinate, which may be fractional on scaled
// displays, to the nearest pixel.
func coord(v float64) int {
	return int(math.Round(v))
}

func Mouse(sink Sink, m protocol.MouseMessage) error {
	x, y := coord(m.X), coord(m.Y)
	switch m.Event {
	case "move":
		return sink.SendPointerEvent(x, y, FlagNone, false)
	case "down":
		return sink.SendPointerEvent(x, y, ButtonFlag(m.Button), true)
	case "up":
		return sink.SendPointerEvent(x, y, ButtonFlag(m.Button), false)
	default:
		return fmt.Errorf("%w: mouse %q", ErrUnknownEvent, m.Event)
	}
}

// Keyboard forwards the scan code and extended flag unchanged; the browser
// keyCode is not remapped.
func Keyboard(sink Sink, k protocol.KeyboardMessage) error {
	var down bool
	switch k.Event {
	case "down":
		down = true
	case "up":
		down = false
	default:
		return fmt.Errorf("%w: keyboard %q", ErrUnknownEvent, k.Event)
	}
	return sink.SendKeyEventScancode(uint16(k.ScanCode), down, k.IsExtended)
}

func Wheel(sink Sink, w protocol.WheelMessage) error {
	step, ok := WheelStep(w.DeltaY)
	if !ok {
		return nil
	}
	return sink.SendWheelEvent(coord(w.X), coord(w.Y), step, false)
}
