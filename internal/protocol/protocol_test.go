package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind Kind
	}{
		{"ping", `{"type":"ping"}`, KindPing},
		{"pong", `{"type":"pong"}`, KindPong},
		{"response", `{"type":"res","id":"ab-1","ok":true}`, KindRes},
		{"event", `{"type":"event","event":"chat","payload":{"state":"delta"}}`, KindEvent},
		{"request", `{"type":"req","id":"s-1","method":"ping"}`, KindReq},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, kind, err := Classify([]byte(tt.data))
			require.NoError(t, err)
			require.NotNil(t, frame)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestClassifyRejectsUnknownType(t *testing.T) {
	_, _, err := Classify([]byte(`{"type":"mystery"}`))
	require.Error(t, err)

	var unknown *UnknownFrameError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "mystery", unknown.Type)
}

func TestClassifyRejectsMalformedJSON(t *testing.T) {
	_, _, err := Classify([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestNewRequestRoundTrip(t *testing.T) {
	frame, err := NewRequest("ab-7", MethodChatSend, ChatSendParams{
		SessionKey: "agent:default:main",
		Message:    "hello",
		Deliver:    true,
	})
	require.NoError(t, err)

	data, err := Encode(frame)
	require.NoError(t, err)

	decoded, kind, err := Classify(data)
	require.NoError(t, err)
	assert.Equal(t, KindReq, kind)
	assert.Equal(t, "ab-7", decoded.ID)
	assert.Equal(t, MethodChatSend, decoded.Method)

	var params ChatSendParams
	require.NoError(t, json.Unmarshal(decoded.Params, &params))
	assert.Equal(t, "hello", params.Message)
	assert.True(t, params.Deliver)
}

func TestResponseErrorDecoding(t *testing.T) {
	data := []byte(`{"type":"res","id":"ab-2","ok":false,"error":{"code":"AUTH","message":"bad token"}}`)
	frame, kind, err := Classify(data)
	require.NoError(t, err)
	assert.Equal(t, KindRes, kind)
	require.NotNil(t, frame.OK)
	assert.False(t, *frame.OK)
	require.NotNil(t, frame.Error)
	assert.Equal(t, "[AUTH] bad token", frame.Error.Error())
}

func TestPingPongFramesOmitEmptyFields(t *testing.T) {
	data, err := Encode(NewPing())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(data))

	data, err = Encode(NewPong())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(data))
}
