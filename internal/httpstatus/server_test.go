package httpstatus

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"blockci-q/internal/config"
	"blockci-q/internal/engine"
)

const pipelineYAML = `
pipelines:
  default:
    - step:
        name: build
        script:
          - echo hi
`

func newTestServer(t *testing.T) *Server {
	workspace := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	eng, err := engine.New(workspace, config.Overrides{})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	path := filepath.Join(workspace, "bitbucket-pipelines.yml")
	if err := os.WriteFile(path, []byte(pipelineYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := eng.LoadDocument(path); err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	return New(eng)
}

func TestHandlePipelines_ListsLabels(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/pipelines", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string][]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body["pipelines"]) != 1 || body["pipelines"][0] != "default" {
		t.Fatalf("unexpected pipelines: %v", body["pipelines"])
	}
}

func TestHandleValidate_ReportsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/validate", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	if ok, _ := body["ok"].(bool); !ok {
		t.Fatalf("expected ok=true, got %v", body)
	}
}

func TestHandleHistory_EmptyWhenNoRuns(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	if _, ok := body["chainError"]; ok {
		t.Fatalf("expected no chain error for an empty ledger, got %v", body["chainError"])
	}
}

func TestHandleUnknownRoute_404s(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
