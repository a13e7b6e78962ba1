package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/nova/internal/model/feedback"
	"github.com/zhouzirui/nova/internal/storage/feedback"
)

type countingCounter struct {
	likes, dislikes int
}

func (c *countingCounter) FeedbackReceived(liked bool) {
	if liked {
		c.likes++
	} else {
		c.dislikes++
	}
}

func setupRouter() (*chi.Mux, *feedback.MemoryRepository, *countingCounter) {
	repo := feedback.NewMemoryRepository()
	counter := &countingCounter{}
	r := chi.NewRouter()
	New(repo, counter, zerolog.Nop()).RegisterRoutes(r)
	return r, repo, counter
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/feedback", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSubmitStoresRecord(t *testing.T) {
	r, repo, counter := setupRouter()

	rec := post(r, `{"messageId":"m42","liked":false,"reason":"too vague","content":"Your order ships soon."}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)

	records, err := repo.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "m42", records[0].MessageID)
	assert.Equal(t, "too vague", records[0].Reason)
	assert.NotEmpty(t, records[0].ID)
	assert.Equal(t, 1, counter.dislikes)
}

func TestSubmitValidates(t *testing.T) {
	r, repo, _ := setupRouter()

	assert.Equal(t, http.StatusBadRequest, post(r, `{`).Code)
	assert.Equal(t, http.StatusBadRequest, post(r, `{"liked":true}`).Code)

	records, err := repo.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}
