package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/nova/internal/model/catalog"
	"github.com/zhouzirui/nova/internal/model/task"
	taskservice "github.com/zhouzirui/nova/internal/service/task"
)

type echoAnswerer struct{}

func (echoAnswerer) Answer(_ context.Context, q task.Question, _ func(string)) (string, error) {
	return "echo: " + q.Query, nil
}

func setupRouter(t *testing.T) (*chi.Mux, *taskservice.Runner) {
	t.Helper()
	runner := taskservice.NewRunner(echoAnswerer{}, catalog.NewMemoryStore(catalog.Seed()), taskservice.Config{})
	t.Cleanup(runner.Close)

	r := chi.NewRouter()
	New(runner, zerolog.Nop()).RegisterRoutes(r)
	return r, runner
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestStartTaskReturnsIDs(t *testing.T) {
	r, runner := setupRouter(t)

	rec := post(r, "/qa", `{"query":"how do I reset my password?"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Status    string             `json:"status"`
		MessageID string             `json:"message_id"`
		TaskID    string             `json:"task_id"`
		Data      task.StartResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	require.NotEmpty(t, resp.MessageID)
	assert.Equal(t, resp.MessageID, resp.TaskID)
	assert.Equal(t, resp.MessageID, resp.Data.MessageID)

	require.Eventually(t, func() bool {
		got, ok := runner.Get(resp.MessageID)
		return ok && got.State == task.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartTaskErrors(t *testing.T) {
	r, _ := setupRouter(t)

	assert.Equal(t, http.StatusBadRequest, post(r, "/qa", `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, post(r, "/qa", `{"query":"  "}`).Code)
	assert.Equal(t, http.StatusNotFound, post(r, "/weather", `{"query":"hi"}`).Code)
}
