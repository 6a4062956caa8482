// Package frame encodes bitmap updates into the fixed binary layout the
// browser client decodes. The layout is a wire contract: any change to a
// field needs a new message type value, never an in-place edit.
//
//	offset  size  field
//	0       1     message type (1 = bitmap)
//	1       2     dest X, little-endian
//	3       2     dest Y, little-endian
//	5       2     width, little-endian
//	7       2     height, little-endian
//	9       1     bits per pixel
//	10      1     compressed flag (0 or 1)
//	11      n     pixel payload
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// TypeBitmap is the only message type currently defined.
const TypeBitmap byte = 1

// HeaderSize is the fixed length of the frame header in bytes.
const HeaderSize = 11

var (
	ErrShortFrame   = errors.New("frame: buffer shorter than header")
	ErrUnknownType  = errors.New("frame: unknown message type")
	ErrInvalidFlag  = errors.New("frame: compressed flag must be 0 or 1")
	ErrPayloadSize  = errors.New("frame: payload size does not match header")
	ErrInvalidDepth = errors.New("frame: unsupported bits per pixel")
)

// Header is the placement and format metadata of one bitmap update.
type Header struct {
	Type         byte
	DestX        uint16
	DestY        uint16
	Width        uint16
	Height       uint16
	BitsPerPixel uint8
	Compressed   bool
}

// Bitmap is a header plus its pixel payload, as emitted by a backend.
type Bitmap struct {
	Header
	Data []byte
}

// Encode writes the header followed by pixels into a single buffer ready
// to be sent as one binary WebSocket message.
func Encode(h Header, pixels []byte) []byte {
	buf := make([]byte, HeaderSize+len(pixels))
	PutHeader(buf, h)
	copy(buf[HeaderSize:], pixels)
	return buf
}

// EncodeBitmap is Encode for a Bitmap value.
func EncodeBitmap(b Bitmap) []byte {
	return Encode(b.Header, b.Data)
}

// PutHeader writes h into the first HeaderSize bytes of buf.
// A zero Type is written as TypeBitmap.
func PutHeader(buf []byte, h Header) {
	t := h.Type
	if t == 0 {
		t = TypeBitmap
	}
	buf[0] = t
	binary.LittleEndian.PutUint16(buf[1:3], h.DestX)
	binary.LittleEndian.PutUint16(buf[3:5], h.DestY)
	binary.LittleEndian.PutUint16(buf[5:7], h.Width)
	binary.LittleEndian.PutUint16(buf[7:9], h.Height)
	buf[9] = h.BitsPerPixel
	buf[10] = 0
	if h.Compressed {
		buf[10] = 1
	}
}

// DecodeHeader parses the header of an encoded frame and returns the
// payload that follows it. The payload aliases data.
func DecodeHeader(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, ErrShortFrame
	}
	if data[0] != TypeBitmap {
		return Header{}, nil, fmt.Errorf("%w: %d", ErrUnknownType, data[0])
	}
	if data[10] > 1 {
		return Header{}, nil, ErrInvalidFlag
	}
	h := Header{
		Type:         data[0],
		DestX:        binary.LittleEndian.Uint16(data[1:3]),
		DestY:        binary.LittleEndian.Uint16(data[3:5]),
		Width:        binary.LittleEndian.Uint16(data[5:7]),
		Height:       binary.LittleEndian.Uint16(data[7:9]),
		BitsPerPixel: data[9],
		Compressed:   data[10] == 1,
	}
	return h, data[HeaderSize:], nil
}

// Decode parses a full frame and checks that uncompressed payloads have the
// size the header advertises.
func Decode(data []byte) (Bitmap, error) {
	h, payload, err := DecodeHeader(data)
	if err != nil {
		return Bitmap{}, err
	}
	if !h.Compressed {
		want, err := ExpectedPayloadSize(h)
		if err != nil {
			return Bitmap{}, err
		}
		if want != len(payload) {
			return Bitmap{}, fmt.Errorf("%w: got %d, want %d", ErrPayloadSize, len(payload), want)
		}
	}
	return Bitmap{Header: h, Data: payload}, nil
}

// ExpectedPayloadSize returns width*height*bytesPerPixel for an
// uncompressed frame.
func ExpectedPayloadSize(h Header) (int, error) {
	switch h.BitsPerPixel {
	case 8, 15, 16, 24, 32:
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidDepth, h.BitsPerPixel)
	}
	bytesPerPixel := (int(h.BitsPerPixel) + 7) / 8
	return int(h.Width) * int(h.Height) * bytesPerPixel, nil
}
