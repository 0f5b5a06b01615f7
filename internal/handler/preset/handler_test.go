package preset

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-chat/backend/internal/model/preset"
)

func setupRouter() *chi.Mux {
	r := chi.NewRouter()
	New(preset.NewMemoryStore(preset.Seed())).RegisterRoutes(r)
	return r
}

func TestListPresets(t *testing.T) {
	resp := httptest.NewRecorder()
	setupRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/presets", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var items []preset.Preset
	if err := json.Unmarshal(resp.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != len(preset.Seed()) {
		t.Fatalf("expected %d presets, got %d", len(preset.Seed()), len(items))
	}
}

func TestGetPresetNotFound(t *testing.T) {
	resp := httptest.NewRecorder()
	setupRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/presets/pirate", nil))

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
