package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rdpgate/internal/protocol"
)

type call struct {
	kind       string
	x, y       int
	flags      uint16
	code       uint16
	delta      int
	down       bool
	extended   bool
	horizontal bool
}

type recordingSink struct {
	calls []call
}

func (r *recordingSink) SendPointerEvent(x, y int, flags uint16, isDown bool) error {
	r.calls = append(r.calls, call{kind: "pointer", x: x, y: y, flags: flags, down: isDown})
	return nil
}

func (r *recordingSink) SendKeyEventScancode(code uint16, isDown, isExtended bool) error {
	r.calls = append(r.calls, call{kind: "key", code: code, down: isDown, extended: isExtended})
	return nil
}

func (r *recordingSink) SendWheelEvent(x, y, delta int, horizontal bool) error {
	r.calls = append(r.calls, call{kind: "wheel", x: x, y: y, delta: delta, horizontal: horizontal})
	return nil
}

func TestButtonFlag(t *testing.T) {
	tests := []struct {
		button int
		want   uint16
	}{
		{0, 1},
		{1, 4},
		{2, 2},
		{3, 0},
		{-1, 0},
		{99, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ButtonFlag(tt.button), "button %d", tt.button)
	}
}

func TestMouse_DownUpUseSameFlag(t *testing.T) {
	for button, flag := range map[int]uint16{0: 1, 1: 4, 2: 2, 5: 0} {
		sink := &recordingSink{}
		require.NoError(t, Mouse(sink, protocol.MouseMessage{Event: "down", X: 5, Y: 6, Button: button}))
		require.NoError(t, Mouse(sink, protocol.MouseMessage{Event: "up", X: 5, Y: 6, Button: button}))
		require.Len(t, sink.calls, 2)
		assert.Equal(t, call{kind: "pointer", x: 5, y: 6, flags: flag, down: true}, sink.calls[0])
		assert.Equal(t, call{kind: "pointer", x: 5, y: 6, flags: flag, down: false}, sink.calls[1])
	}
}

func TestMouse_MoveCarriesNoButton(t *testing.T) {
	sink := &recordingSink{}
	require.NoError(t, Mouse(sink, protocol.MouseMessage{Event: "move", X: 100, Y: 200, Button: 2}))
	assert.Equal(t, []call{{kind: "pointer", x: 100, y: 200}}, sink.calls)
}

func TestFractionalCoordinatesRound(t *testing.T) {
	var m protocol.MouseMessage
	require.NoError(t, protocol.Decode([]byte(`{"type":"mouse","event":"move","x":12.5,"y":7.4}`), &m))
	var w protocol.WheelMessage
	require.NoError(t, protocol.Decode([]byte(`{"type":"wheel","deltaY":-1,"x":0.6,"y":99.49}`), &w))

	sink := &recordingSink{}
	require.NoError(t, Mouse(sink, m))
	require.NoError(t, Wheel(sink, w))
	assert.Equal(t, []call{
		{kind: "pointer", x: 13, y: 7},
		{kind: "wheel", x: 1, y: 99, delta: WheelStepUp},
	}, sink.calls)
}

func TestMouse_UnknownEvent(t *testing.T) {
	sink := &recordingSink{}
	err := Mouse(sink, protocol.MouseMessage{Event: "dblclick"})
	assert.ErrorIs(t, err, ErrUnknownEvent)
	assert.Empty(t, sink.calls)
}

func TestKeyboard_PassesScanCodeThrough(t *testing.T) {
	sink := &recordingSink{}
	require.NoError(t, Keyboard(sink, protocol.KeyboardMessage{Event: "down", KeyCode: 37, ScanCode: 0x4B, IsExtended: true}))
	require.NoError(t, Keyboard(sink, protocol.KeyboardMessage{Event: "up", KeyCode: 65, ScanCode: 0x1E}))

	assert.Equal(t, []call{
		{kind: "key", code: 0x4B, down: true, extended: true},
		{kind: "key", code: 0x1E, down: false},
	}, sink.calls)

	assert.ErrorIs(t, Keyboard(sink, protocol.KeyboardMessage{Event: "press"}), ErrUnknownEvent)
}

func TestWheel_NormalizesDelta(t *testing.T) {
	tests := []struct {
		name   string
		deltaY float64
		want   []call
	}{
		{"scroll up small", -3, []call{{kind: "wheel", x: 1, y: 2, delta: WheelStepUp}}},
		{"scroll up large", -480.5, []call{{kind: "wheel", x: 1, y: 2, delta: WheelStepUp}}},
		{"scroll down", 0.25, []call{{kind: "wheel", x: 1, y: 2, delta: WheelStepDown}}},
		{"no delta", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			require.NoError(t, Wheel(sink, protocol.WheelMessage{DeltaY: tt.deltaY, X: 1, Y: 2}))
			assert.Equal(t, tt.want, sink.calls)
		})
	}
}
