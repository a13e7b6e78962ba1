package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/nova/internal/model/task"
)

func TestSSEStreamDecodesFrames(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/task-progress/{id}", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "m42", chi.URLParam(req, "id"))
		assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"stage\":\"progress\",\"status\":\"Looking up account\"}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"stage\":\"end\",\ndata: \"message\":\"Your PIN\"}\r\n\r\n")
		flusher.Flush()
	})
	c := newTestClient(t, r, WithToken("tok"))

	stream, err := NewSSETransport(c).Subscribe(context.Background(), "m42")
	require.NoError(t, err)
	defer stream.Close()

	frame, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, task.FrameProgress, frame.Kind())
	assert.Equal(t, "Looking up account", frame.Status)

	frame, err = stream.Next()
	require.NoError(t, err)
	assert.Equal(t, task.FrameEnd, frame.Kind())
	assert.Equal(t, "Your PIN", frame.Message)

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEStreamRejectsGarbage(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/task-progress/{id}", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, "data: not-json\n\n")
	})
	c := newTestClient(t, r)

	stream, err := NewSSETransport(c).Subscribe(context.Background(), "m1")
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Next()
	assert.ErrorContains(t, err, "decode progress frame")
}

func TestSSESubscribeUnauthorized(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/task-progress/{id}", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": "error", "message": "token expired"})
	})
	called := false
	c := newTestClient(t, r, OnUnauthorized(func() { called = true }))

	_, err := NewSSETransport(c).Subscribe(context.Background(), "m1")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, called)
}

func TestWebSocketStreamDecodesFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	r := chi.NewRouter()
	r.Get("/api/task-progress/{id}/ws", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, req, nil)
		require.NoError(t, err)
		defer conn.Close()
		require.NoError(t, conn.WriteJSON(task.ProgressFrame("Searching manuals")))
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x1}))
		require.NoError(t, conn.WriteJSON(task.ErrorFrame("upstream timeout")))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})
	c := newTestClient(t, r, WithToken("tok"))

	transport, err := NewTransport(c, "ws")
	require.NoError(t, err)
	stream, err := transport.Subscribe(context.Background(), "m7")
	require.NoError(t, err)
	defer stream.Close()

	frame, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "Searching manuals", frame.Status)

	frame, err = stream.Next()
	require.NoError(t, err)
	assert.Equal(t, task.FrameFailure, frame.Kind())
	assert.Equal(t, "upstream timeout", frame.Message)

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestNewTransportRejectsUnknownKind(t *testing.T) {
	c, err := New("http://localhost:8080")
	require.NoError(t, err)
	_, err = NewTransport(c, "carrier-pigeon")
	assert.Error(t, err)

	transport, err := NewTransport(c, "")
	require.NoError(t, err)
	assert.IsType(t, &SSETransport{}, transport)
}
