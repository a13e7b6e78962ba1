package catalog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/nova/internal/model/api"
	"github.com/zhouzirui/nova/internal/model/catalog"
)

func TestListServices(t *testing.T) {
	r := chi.NewRouter()
	New(catalog.NewMemoryStore(catalog.Seed())).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/services", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var env api.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	var services []catalog.Service
	if err := env.Decode(&services); err != nil {
		t.Fatalf("decode services: %v", err)
	}
	if len(services) != len(catalog.Seed()) {
		t.Fatalf("expected %d services, got %d", len(catalog.Seed()), len(services))
	}
}
