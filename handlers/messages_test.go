package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Asit-14/EchoSphere/models"
)

func (a *testApp) postJSON(t *testing.T, path, asUser string, body interface{}) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, a.server.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token(t, asUser))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func seedMessage(t *testing.T, app *testApp, from, to, body string) *models.Message {
	t.Helper()
	msg, _, err := app.delivery.Send(context.Background(), from, to, body)
	require.NoError(t, err)
	return msg
}

func TestMessagesAPI_DeleteForEveryoneByImpersonatorRejected(t *testing.T) {
	app := newTestApp(t)
	msg := seedMessage(t, app, "alice", "bob", "mine")

	// mallory's token, alice named as the acting user in the path
	resp := app.postJSON(t, "/api/messages/deletemsg/"+msg.ID.String()+"/alice", "mallory",
		models.DeleteMessageRequest{DeleteType: models.DeleteForEveryone})

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 1, app.store.count(), "the message must survive an impersonated delete")

	// The real sender still can
	resp = app.postJSON(t, "/api/messages/deletemsg/"+msg.ID.String()+"/alice", "alice",
		models.DeleteMessageRequest{DeleteType: models.DeleteForEveryone})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, app.store.count())
}

func TestMessagesAPI_DeleteForEveryoneByRecipientForbidden(t *testing.T) {
	app := newTestApp(t)
	msg := seedMessage(t, app, "alice", "bob", "alice's message")

	// bob acts as himself but is not the sender
	resp := app.postJSON(t, "/api/messages/deletemsg/"+msg.ID.String()+"/bob", "bob",
		models.DeleteMessageRequest{DeleteType: models.DeleteForEveryone})

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 1, app.store.count())
}

func TestMessagesAPI_HistoryBoundToTokenSubject(t *testing.T) {
	app := newTestApp(t)
	seedMessage(t, app, "alice", "bob", "private")

	resp := app.postJSON(t, "/api/messages/getmsg", "mallory",
		models.GetMessagesRequest{From: "alice", To: "bob"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "history is readable only as yourself")

	resp = app.postJSON(t, "/api/messages/getmsg", "alice",
		models.GetMessagesRequest{From: "alice", To: "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []models.HistoryEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "private", entries[0].Message)
	assert.True(t, entries[0].FromSelf)
}

func TestMessagesAPI_AddBoundToTokenSubject(t *testing.T) {
	app := newTestApp(t)

	resp := app.postJSON(t, "/api/messages/addmsg", "mallory",
		models.AddMessageRequest{From: "alice", To: "bob", Message: "forged"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, app.store.count(), "a forged sender must not be persisted")

	resp = app.postJSON(t, "/api/messages/addmsg", "alice",
		models.AddMessageRequest{From: "alice", To: "bob", Message: "genuine"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, app.store.count())
}

func TestMessagesAPI_ClearBoundToTokenSubject(t *testing.T) {
	app := newTestApp(t)
	seedMessage(t, app, "alice", "bob", "one")
	seedMessage(t, app, "bob", "alice", "two")

	resp := app.postJSON(t, "/api/messages/deleteallmsg", "mallory",
		models.ClearChatRequest{From: "alice", To: "bob"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 2, app.store.count(), "an impersonated clear must not touch the conversation")

	resp = app.postJSON(t, "/api/messages/deleteallmsg", "alice",
		models.ClearChatRequest{From: "alice", To: "bob"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, app.store.count())
}
