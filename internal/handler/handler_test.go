package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mtdlab/stackplan/internal/auth"
	"github.com/mtdlab/stackplan/internal/model"
	"github.com/mtdlab/stackplan/internal/service"
	"github.com/mtdlab/stackplan/internal/solver"
	"github.com/mtdlab/stackplan/pkg/mip"
)

const toyInput = `2
2
0.5
2
Attack1|Attack2
8,2 6,0
7,0 2,6
0.5
2
Attack1|Attack2
5,0 4,2
4,2 5,0
`

// memRunRepo is a minimal in-memory RunRepository for handler tests.
type memRunRepo struct {
	mu   sync.Mutex
	runs []model.SolveRun
}

func (m *memRunRepo) Create(_ context.Context, run *model.SolveRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *run)
	return nil
}

func (m *memRunRepo) FindByID(_ context.Context, id string) (*model.SolveRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == id {
			run := m.runs[i]
			return &run, nil
		}
	}
	return nil, nil
}

func (m *memRunRepo) List(_ context.Context, kind string, limit int) ([]model.SolveRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.SolveRun(nil), m.runs...), nil
}

func newTestHandler() (*RunHandler, *memRunRepo) {
	repo := &memRunRepo{}
	orch := solver.New(mip.NewBranchBound(mip.Options{}), 0)
	svc := service.NewSolveService(orch, repo, nil, nil, nil)
	return NewRunHandler(svc), repo
}

func TestCreateRunDOBSS(t *testing.T) {
	h, repo := newTestHandler()
	body, _ := json.Marshal(map[string]any{"kind": "dobss", "input": toyInput})
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateRun(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", rec.Code, rec.Body.String())
	}
	var run model.SolveRun
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if run.Kind != model.KindDOBSS {
		t.Errorf("kind = %q, want dobss", run.Kind)
	}
	if len(repo.runs) != 1 {
		t.Errorf("run not persisted")
	}
}

func TestCreateRunRejectsBadInput(t *testing.T) {
	h, _ := newTestHandler()
	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing input", map[string]any{"kind": "dobss"}, http.StatusBadRequest},
		{"unknown kind", map[string]any{"kind": "mystery", "input": toyInput}, http.StatusBadRequest},
		{"malformed game", map[string]any{"kind": "dobss", "input": "not a game"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.body)
			req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			h.CreateRun(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCreateRunForbiddenKind(t *testing.T) {
	h, repo := newTestHandler()
	body, _ := json.Marshal(map[string]any{"kind": "dobss", "input": toyInput})
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	req = req.WithContext(auth.SetClaimsForTest(req.Context(), "dev:limited", "schedule"))
	rec := httptest.NewRecorder()

	h.CreateRun(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403; body: %s", rec.Code, rec.Body.String())
	}
	if len(repo.runs) != 0 {
		t.Error("forbidden run must not be persisted")
	}
}

func TestGetRunNotFound(t *testing.T) {
	h, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/runs/unknown", nil)
	req.SetPathValue("id", "unknown")
	rec := httptest.NewRecorder()

	h.GetRun(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListRunsEmpty(t *testing.T) {
	h, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	rec := httptest.NewRecorder()

	h.ListRuns(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want empty array", got)
	}
}

func TestWriteErrorShape(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusTeapot, "steeped")
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload["error"] != "steeped" {
		t.Errorf("error = %q, want steeped", payload["error"])
	}
}
