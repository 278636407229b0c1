package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingConn collects the messages written by the handler.
type recordingConn struct {
	mu       sync.Mutex
	messages [][]byte
	err      error
}

func (c *recordingConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, append([]byte(nil), data...))
	return nil
}

// decoded returns every message as a generic map.
func (c *recordingConn) decoded(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, len(c.messages))
	for i, m := range c.messages {
		require.NoError(t, json.Unmarshal(m, &out[i]))
	}
	return out
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestWebSocketHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	conn := &recordingConn{}

	env.srv.handleWebSocketMessage(context.Background(), conn, []byte(`{"type":"heartbeat"}`))

	msgs := conn.decoded(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageHeartbeat, msgs[0]["type"])
	assert.NotEmpty(t, msgs[0]["timestamp"])
}

func TestWebSocketInvalidInput(t *testing.T) {
	env := newTestEnv(t).load(t)

	tests := []struct {
		name    string
		data    []byte
		wantMsg string
	}{
		{"invalid JSON", []byte("{nope"), "failed to parse message"},
		{"unknown type", []byte(`{"type":"subscribe","requestId":"r1"}`), `unsupported message type "subscribe"`},
		{"missing image", []byte(`{"type":"predict","requestId":"r1"}`), "imageBase64 is required"},
		{"bad plant id", mustJSON(t, WebSocketRequest{Type: MessagePredict, ImageBase64: leafDataURI(t), PlantID: "rose"}), "plantId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &recordingConn{}
			env.srv.handleWebSocketMessage(context.Background(), conn, tt.data)

			msgs := conn.decoded(t)
			require.Len(t, msgs, 1)
			assert.Equal(t, MessageError, msgs[0]["type"])
			assert.Equal(t, ErrorCodeInvalidInput, msgs[0]["errorCode"])
			assert.Contains(t, msgs[0]["message"], tt.wantMsg)
		})
	}
	assert.Zero(t, env.stub.Calls())
}

func TestWebSocketModelNotReady(t *testing.T) {
	env := newTestEnv(t)
	conn := &recordingConn{}

	env.srv.handleWebSocketMessage(context.Background(), conn, mustJSON(t, WebSocketRequest{
		Type:        MessagePredict,
		RequestID:   "req-1",
		ImageBase64: leafDataURI(t),
	}))

	msgs := conn.decoded(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, MessageStatus, msgs[0]["type"])
	assert.Equal(t, StatusProcessing, msgs[0]["status"])
	assert.EqualValues(t, 10, msgs[0]["progressPercentage"])
	assert.Equal(t, MessageError, msgs[1]["type"])
	assert.Equal(t, ErrorCodeModelNotReady, msgs[1]["errorCode"])
	assert.Equal(t, "req-1", msgs[1]["requestId"])
}

func TestWebSocketPredictionSequence(t *testing.T) {
	env := newTestEnv(t).load(t)
	conn := &recordingConn{}

	env.srv.handleWebSocketMessage(context.Background(), conn, mustJSON(t, WebSocketRequest{
		Type:        MessagePredict,
		RequestID:   "req-7",
		ImageBase64: leafDataURI(t),
		PlantID:     5,
	}))

	msgs := conn.decoded(t)
	require.Len(t, msgs, 4)
	for i, want := range []struct {
		status   string
		progress int
	}{{StatusProcessing, 10}, {StatusAnalyzing, 50}, {StatusComplete, 100}} {
		assert.Equal(t, MessageStatus, msgs[i]["type"])
		assert.Equal(t, want.status, msgs[i]["status"])
		assert.EqualValues(t, want.progress, msgs[i]["progressPercentage"])
		assert.Equal(t, "req-7", msgs[i]["requestId"])
	}

	var final WebSocketPrediction
	require.NoError(t, json.Unmarshal(conn.messages[3], &final))
	assert.Equal(t, MessagePrediction, final.Type)
	assert.Equal(t, StatusSuccess, final.Status)
	assert.Equal(t, "req-7", final.RequestID)
	assert.EqualValues(t, 1, final.PredictionID)
	assert.EqualValues(t, 5, final.PlantID)
	assert.Equal(t, "Apple", final.PlantName)
	assert.Equal(t, "Apple_scab", final.DiseaseName)
	assert.InDelta(t, 0.91, final.Confidence, 1e-4)
	assert.Equal(t, appleScabAdvice, final.RecommendedAction)
	assert.Equal(t, "Apple_scab", final.Result.TopPrediction)

	rec, err := env.history.Get(context.Background(), final.PredictionID)
	require.NoError(t, err)
	assert.Equal(t, routeWebSocket, rec.Source)
}

func TestWebSocketGeneratesRequestID(t *testing.T) {
	env := newTestEnv(t).load(t)
	conn := &recordingConn{}

	env.srv.handleWebSocketMessage(context.Background(), conn, mustJSON(t, WebSocketRequest{
		Type:        MessagePredict,
		ImageBase64: leafDataURI(t),
	}))

	msgs := conn.decoded(t)
	require.Len(t, msgs, 4)
	id, _ := msgs[0]["requestId"].(string)
	assert.Len(t, id, 36)
	assert.Equal(t, id, msgs[3]["requestId"])
}

func TestWebSocketPredictionError(t *testing.T) {
	env := newTestEnv(t).load(t)
	env.stub.Err = errors.New("runtime exploded")
	conn := &recordingConn{}

	env.srv.handleWebSocketMessage(context.Background(), conn, mustJSON(t, WebSocketRequest{
		Type:        MessagePredict,
		RequestID:   "req-9",
		ImageBase64: leafDataURI(t),
	}))

	msgs := conn.decoded(t)
	require.Len(t, msgs, 3)
	assert.Equal(t, StatusAnalyzing, msgs[1]["status"])
	assert.Equal(t, ErrorCodePrediction, msgs[2]["errorCode"])
	assert.Contains(t, msgs[2]["message"], "runtime exploded")
}

func TestWebSocketWriteFailureIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	conn := &recordingConn{err: errors.New("broken pipe")}
	assert.NotPanics(t, func() {
		env.srv.handleWebSocketMessage(context.Background(), conn, []byte(`{"type":"heartbeat"}`))
	})
}

func TestWebSocketEndToEnd(t *testing.T) {
	env := newTestEnv(t).load(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	_ = resp.Body.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(WebSocketRequest{Type: MessageHeartbeat}))
	var hb WebSocketHeartbeat
	require.NoError(t, conn.ReadJSON(&hb))
	assert.Equal(t, MessageHeartbeat, hb.Type)

	require.NoError(t, conn.WriteJSON(WebSocketRequest{
		Type:        MessagePredict,
		RequestID:   "e2e",
		ImageBase64: leafDataURI(t),
	}))
	var statuses []string
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == MessageStatus {
			statuses = append(statuses, msg["status"].(string))
			continue
		}
		assert.Equal(t, MessagePrediction, msg["type"])
		assert.Equal(t, "e2e", msg["requestId"])
		break
	}
	assert.Equal(t, []string{StatusProcessing, StatusAnalyzing, StatusComplete}, statuses)
}
