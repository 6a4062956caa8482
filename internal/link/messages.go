package link

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"rdpgate/internal/constants"
	"rdpgate/internal/frame"
)

var ErrFrameTooLarge = errors.New("link frame exceeds limit")

// Control message types
const (
	CtlHello   = "hello"
	CtlReady   = "ready"
	CtlError   = "error"
	CtlPointer = "pointer"
	CtlKey     = "key"
	CtlWheel   = "wheel"
)

// Control is one line on the control stream. Fields are populated
// according to Type.
type Control struct {
	Type string `json:"type"`

	// hello / ready
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	ColorDepth int    `json:"colorDepth,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	Domain     string `json:"domain,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// pointer / key / wheel
	X          int    `json:"x,omitempty"`
	Y          int    `json:"y,omitempty"`
	Flags      uint16 `json:"flags,omitempty"`
	Code       uint16 `json:"code,omitempty"`
	Delta      int    `json:"delta,omitempty"`
	Down       bool   `json:"down,omitempty"`
	Extended   bool   `json:"extended,omitempty"`
	Horizontal bool   `json:"horizontal,omitempty"`
}

// ControlWriter writes newline-delimited control messages.
type ControlWriter struct {
	enc *json.Encoder
}

func NewControlWriter(w io.Writer) *ControlWriter {
	return &ControlWriter{enc: json.NewEncoder(w)}
}

func (cw *ControlWriter) Write(msg Control) error {
	return cw.enc.Encode(msg)
}

// ControlReader reads newline-delimited control messages.
type ControlReader struct {
	scanner *bufio.Scanner
}

func NewControlReader(r io.Reader) *ControlReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), constants.MaxControlLineSize)
	return &ControlReader{scanner: scanner}
}

func (cr *ControlReader) Read() (Control, error) {
	if !cr.scanner.Scan() {
		if err := cr.scanner.Err(); err != nil {
			return Control{}, err
		}
		return Control{}, io.EOF
	}
	var msg Control
	if err := json.Unmarshal(cr.scanner.Bytes(), &msg); err != nil {
		return Control{}, fmt.Errorf("decode control message: %w", err)
	}
	return msg, nil
}

// WriteFrame writes one length-prefixed encoded bitmap.
func WriteFrame(w io.Writer, b frame.Bitmap) error {
	encoded := frame.EncodeBitmap(b)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(encoded)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(encoded)
	return err
}

// ReadFrame reads one length-prefixed bitmap and validates its header.
func ReadFrame(r io.Reader) (frame.Bitmap, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return frame.Bitmap{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > constants.MaxLinkFrameSize {
		return frame.Bitmap{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return frame.Bitmap{}, err
	}
	return frame.Decode(buf)
}
