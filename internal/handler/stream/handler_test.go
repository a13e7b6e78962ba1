package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/nova/internal/model/catalog"
	"github.com/zhouzirui/nova/internal/model/task"
	taskservice "github.com/zhouzirui/nova/internal/service/task"
)

type scriptedAnswerer struct {
	release chan struct{}
}

func (a scriptedAnswerer) Answer(ctx context.Context, q task.Question, progress func(string)) (string, error) {
	progress("Looking up the order...")
	select {
	case <-a.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "Order " + q.Query + " ships tomorrow.", nil
}

func setupServer(t *testing.T) (*httptest.Server, *taskservice.Runner, chan struct{}) {
	t.Helper()
	release := make(chan struct{})
	runner := taskservice.NewRunner(scriptedAnswerer{release: release}, catalog.NewMemoryStore(catalog.Seed()), taskservice.Config{})
	t.Cleanup(runner.Close)

	r := chi.NewRouter()
	New(runner, zerolog.Nop()).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, runner, release
}

func TestSSEStreamsFramesUntilEnd(t *testing.T) {
	srv, runner, release := setupServer(t)
	started, err := runner.Start(context.Background(), "", "qa", task.StartRequest{Query: "A-17"})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/task-progress/" + started.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var frames []task.Frame
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f task.Frame
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f))
		frames = append(frames, f)
		if f.Kind() == task.FrameProgress && f.Status == "Looking up the order..." {
			close(release)
		}
	}

	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, task.FrameEnd, last.Kind())
	assert.Equal(t, "Order A-17 ships tomorrow.", last.Message)
}

func TestSSEUnknownTask(t *testing.T) {
	srv, _, _ := setupServer(t)

	resp, err := http.Get(srv.URL + "/task-progress/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSSEForeignTaskIsHidden(t *testing.T) {
	srv, runner, _ := setupServer(t)
	started, err := runner.Start(context.Background(), "ada", "qa", task.StartRequest{Query: "A-17"})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/task-progress/" + started.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketStreamsFramesThenCloses(t *testing.T) {
	srv, runner, release := setupServer(t)
	started, err := runner.Start(context.Background(), "", "qa", task.StartRequest{Query: "B-2"})
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/task-progress/" + started.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first task.Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, task.FrameProgress, first.Kind())
	close(release)

	var last task.Frame
	for {
		var f task.Frame
		if err := conn.ReadJSON(&f); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		last = f
	}
	assert.Equal(t, task.FrameEnd, last.Kind())
	assert.Equal(t, "Order B-2 ships tomorrow.", last.Message)
}
