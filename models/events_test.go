package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_RoundTrip(t *testing.T) {
	evt, err := NewEvent(EventSendMessage, SendMessagePayload{
		To:      "bob",
		From:    "alice",
		Message: "hi",
	})
	require.NoError(t, err)

	wire, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(wire, &decoded))
	assert.Equal(t, EventSendMessage, decoded.Type)

	var payload SendMessagePayload
	require.NoError(t, decoded.Decode(&payload))
	assert.Equal(t, "bob", payload.To)
	assert.Equal(t, "alice", payload.From)
	assert.Equal(t, "hi", payload.Message)
}

func TestEvent_WireFraming(t *testing.T) {
	evt := MustEvent(EventPresenceChanged, PresenceChangedPayload{UserID: "bob", Status: StatusOffline})

	wire, err := json.Marshal(evt)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"user-status-change","data":{"userId":"bob","status":"offline"}}`, string(wire))
}

func TestEvent_DecodeWithoutPayload(t *testing.T) {
	evt := Event{Type: EventTyping}
	var payload TypingPayload
	assert.Error(t, evt.Decode(&payload))
}

func TestEvent_DecodeMalformedPayload(t *testing.T) {
	evt := Event{Type: EventSendMessage, Data: json.RawMessage(`"not an object"`)}
	var payload SendMessagePayload
	assert.Error(t, evt.Decode(&payload))
}

func TestEvent_NoPayload(t *testing.T) {
	evt, err := NewEvent(EventStopTyping, nil)
	require.NoError(t, err)

	wire, err := json.Marshal(evt)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"stop-typing"}`, string(wire))
}

func TestMessage_VisibleTo(t *testing.T) {
	msg := &Message{SenderID: "alice", RecipientID: "bob"}

	assert.True(t, msg.VisibleTo("alice"))
	assert.True(t, msg.VisibleTo("bob"))
	assert.False(t, msg.VisibleTo("carol"), "non-participants never see a message")

	msg.DeletedFor = StringList{"bob"}
	assert.True(t, msg.VisibleTo("alice"))
	assert.False(t, msg.VisibleTo("bob"), "hidden for the viewer who deleted it")
}

func TestMessage_Counterpart(t *testing.T) {
	msg := &Message{SenderID: "alice", RecipientID: "bob"}
	assert.Equal(t, "bob", msg.Counterpart("alice"))
	assert.Equal(t, "alice", msg.Counterpart("bob"))
}

func TestConversationKeyFor_Unordered(t *testing.T) {
	assert.Equal(t, ConversationKeyFor("alice", "bob"), ConversationKeyFor("bob", "alice"))
	assert.NotEqual(t, ConversationKeyFor("alice", "bob"), ConversationKeyFor("alice", "carol"))
}
