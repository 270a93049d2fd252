package events

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/voiceagent-go/tool"
)

func TestNewBaseEvent(t *testing.T) {
	a := NewBaseEvent(TypeResponseCreate)
	b := NewBaseEvent(TypeResponseCreate)

	assert.Equal(t, TypeResponseCreate, a.Type)
	assert.True(t, strings.HasPrefix(a.EventID, "evt_"))
	assert.NotEqual(t, a.EventID, b.EventID)
}

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"session.created","event_id":"evt_1","session":{}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeSessionCreated, env.Type)
	assert.Equal(t, "evt_1", env.EventID)

	_, err = ParseEnvelope([]byte(`{"event_id":"evt_1"}`))
	assert.Error(t, err)

	_, err = ParseEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestParse_ErrorEvent(t *testing.T) {
	evt, err := Parse[ErrorEvent]([]byte(`{"type":"error","error":{"type":"invalid_request_error","code":"bad","message":"nope"}}`))
	require.NoError(t, err)
	assert.Equal(t, "bad: nope", evt.Error())

	evt.ErrorDetail.Code = ""
	assert.Equal(t, "invalid_request_error: nope", evt.Error())
}

func TestSessionUpdate_DisabledTurnDetection(t *testing.T) {
	data, err := json.Marshal(SessionUpdateEvent{
		BaseEvent: NewBaseEvent(TypeSessionUpdate),
		Session: SessionUpdate{
			Voice:      "alloy",
			Tools:      []tool.Definition{},
			ToolChoice: tool.ChoiceNone,
		},
	})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	session := m["session"].(map[string]any)

	td, ok := session["turn_detection"]
	assert.True(t, ok)
	assert.Nil(t, td)
	assert.Equal(t, []any{}, session["tools"])
	assert.Equal(t, "none", session["tool_choice"])
}

func TestSessionUpdate_ServerVAD(t *testing.T) {
	data, err := json.Marshal(SessionUpdate{
		TurnDetection: &TurnDetection{Type: "server_vad", CreateResponse: true, InterruptResponse: true},
		Tools:         []tool.Definition{tool.Function("noop", "Does nothing.", nil)},
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"turn_detection":{"type":"server_vad","create_response":true,"interrupt_response":true}`)
	assert.Contains(t, string(data), `"name":"noop"`)
}
