package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedMessage is returned for text frames that are not JSON or carry no type.
var ErrMalformedMessage = errors.New("malformed control message")

type MessageType string

// Client to server
const (
	MsgConnect    MessageType = "connect"
	MsgMouse      MessageType = "mouse"
	MsgKeyboard   MessageType = "keyboard"
	MsgWheel      MessageType = "wheel"
	MsgDisconnect MessageType = "disconnect"
)

// Server to client
const (
	MsgConnected MessageType = "connected"
	MsgError     MessageType = "error"
	MsgClose     MessageType = "close"
)

// Envelope is decoded first to route a text frame; the raw bytes are then
// decoded again into the concrete message.
type Envelope struct {
	Type MessageType `json:"type"`
}

type TargetConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	ColorDepth int    `json:"colorDepth"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	Domain     string `json:"domain"`
}

type ConnectMessage struct {
	Type   MessageType  `json:"type"`
	Token  string       `json:"token"`
	NodeID string       `json:"nodeId"`
	Config TargetConfig `json:"config"`
}

type MouseMessage struct {
	Type   MessageType `json:"type"`
	Event  string      `json:"event"`
	X      float64     `json:"x"`
	Y      float64     `json:"y"`
	Button int         `json:"button"`
}

type KeyboardMessage struct {
	Type       MessageType `json:"type"`
	Event      string      `json:"event"`
	KeyCode    int         `json:"keyCode"`
	ScanCode   int         `json:"scanCode"`
	IsExtended bool        `json:"isExtended"`
}

type WheelMessage struct {
	Type   MessageType `json:"type"`
	DeltaY float64     `json:"deltaY"`
	X      float64     `json:"x"`
	Y      float64     `json:"y"`
}

type ConnectedMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type CloseMessage struct {
	Type MessageType `json:"type"`
}

func Connected(sessionID string) ConnectedMessage {
	return ConnectedMessage{Type: MsgConnected, SessionID: sessionID}
}

func Error(message string) ErrorMessage {
	return ErrorMessage{Type: MsgError, Message: message}
}

func Close() CloseMessage {
	return CloseMessage{Type: MsgClose}
}

// Peek returns the type of a text frame without decoding the rest of it.
func Peek(data []byte) (MessageType, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return env.Type, nil
}

// Decode unmarshals data into v, wrapping failures as ErrMalformedMessage.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}
