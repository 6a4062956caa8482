package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeek(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    MessageType
		wantErr bool
	}{
		{"connect", `{"type":"connect","token":"x"}`, MsgConnect, false},
		{"unknown type still peeks", `{"type":"resize"}`, "resize", false},
		{"missing type", `{"token":"x"}`, "", true},
		{"not json", `connect`, "", true},
		{"type not a string", `{"type":7}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Peek([]byte(tt.data))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeConnect(t *testing.T) {
	var msg ConnectMessage
	data := `{"type":"connect","token":"t","nodeId":"n1","config":{"host":"10.0.0.5","port":3390,"width":800,"height":600,"colorDepth":16,"username":"bob","domain":"CORP"}}`
	require.NoError(t, Decode([]byte(data), &msg))

	assert.Equal(t, "n1", msg.NodeID)
	assert.Equal(t, "10.0.0.5", msg.Config.Host)
	assert.Equal(t, 3390, msg.Config.Port)
	assert.Equal(t, 800, msg.Config.Width)
	assert.Equal(t, 16, msg.Config.ColorDepth)
	assert.Equal(t, "CORP", msg.Config.Domain)

	var mouse MouseMessage
	assert.ErrorIs(t, Decode([]byte(`{"type":"mouse","x":"left"}`), &mouse), ErrMalformedMessage)
}

func TestServerMessages(t *testing.T) {
	data, err := json.Marshal(Connected("abc"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"connected","sessionId":"abc"}`, string(data))

	data, err = json.Marshal(Error("nope"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"nope"}`, string(data))

	data, err = json.Marshal(Close())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"close"}`, string(data))
}
