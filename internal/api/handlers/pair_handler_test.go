package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"pairbot/internal/bot"
	"pairbot/internal/models"
	"pairbot/pkg/utils"
)

// ============ PairHandler Tests ============

func seedEngine() *MockEngine {
	engine := NewMockEngine()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	engine.AddPair(&models.Pair{ID: "p2", State: models.StateEntryInProgress, OpenedAt: base.Add(time.Minute)})
	engine.AddPair(&models.Pair{ID: "p1", State: models.StateActive, OpenedAt: base})
	engine.AddPair(&models.Pair{ID: "p3", State: models.StateClosing, OpenedAt: base.Add(2 * time.Minute)})
	return engine
}

func TestPairHandler_GetPairs(t *testing.T) {
	t.Run("returns all pairs sorted by open time", func(t *testing.T) {
		h := NewPairHandler(seedEngine(), utils.NewNopLogger())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/pairs", nil)
		w := httptest.NewRecorder()
		h.GetPairs(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		var resp PairsResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Total != 3 || resp.Pairs[0].ID != "p1" || resp.Pairs[2].ID != "p3" {
			t.Errorf("response = %+v", resp)
		}
	})

	t.Run("filters by state", func(t *testing.T) {
		h := NewPairHandler(seedEngine(), utils.NewNopLogger())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/pairs?state=active,%20closing", nil)
		w := httptest.NewRecorder()
		h.GetPairs(w, req)

		var resp PairsResponse
		json.NewDecoder(w.Body).Decode(&resp)
		if resp.Total != 2 {
			t.Errorf("expected 2 pairs, got %d", resp.Total)
		}
	})

	t.Run("empty engine returns empty list", func(t *testing.T) {
		h := NewPairHandler(NewMockEngine(), utils.NewNopLogger())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/pairs", nil)
		w := httptest.NewRecorder()
		h.GetPairs(w, req)

		if body := w.Body.String(); body != "{\"pairs\":[],\"total\":0}\n" {
			t.Errorf("body = %q", body)
		}
	})
}

func TestPairHandler_GetPair(t *testing.T) {
	h := NewPairHandler(seedEngine(), utils.NewNopLogger())

	tests := []struct {
		id       string
		wantCode int
	}{
		{"p1", http.StatusOK},
		{"missing", http.StatusNotFound},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/pairs/"+tt.id, nil)
		req = mux.SetURLVars(req, map[string]string{"id": tt.id})
		w := httptest.NewRecorder()

		h.GetPair(w, req)

		if w.Code != tt.wantCode {
			t.Errorf("GetPair(%s): expected status %d, got %d", tt.id, tt.wantCode, w.Code)
		}
	}
}

func TestPairHandler_ClosePair(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		closeErr error
		wantCode int
	}{
		{"closes existing pair", "p1", nil, http.StatusOK},
		{"unknown pair", "missing", nil, http.StatusNotFound},
		{"already closing", "p1", errors.New("pair p1 is already closing"), http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := seedEngine()
			engine.closeErr = tt.closeErr
			h := NewPairHandler(engine, utils.NewNopLogger())

			req := httptest.NewRequest(http.MethodPost, "/api/v1/pairs/"+tt.id+"/close", nil)
			req = mux.SetURLVars(req, map[string]string{"id": tt.id})
			w := httptest.NewRecorder()

			h.ClosePair(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, w.Code)
			}
			if tt.wantCode == http.StatusOK && (len(engine.closed) != 1 || engine.closed[0] != tt.id) {
				t.Errorf("closed = %v", engine.closed)
			}
		})
	}
}

func TestPairHandler_GetStatus(t *testing.T) {
	engine := NewMockEngine()
	engine.status = bot.EngineStatus{
		Symbol:    "XAUUSD",
		EntryLock: bot.LockStatus{Held: true, Reason: "entry-processing"},
		Pairs:     map[models.State]int{models.StateActive: 2},
		Trailing:  "static",
	}
	h := NewPairHandler(engine, utils.NewNopLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	h.GetStatus(w, req)

	var resp bot.EngineStatus
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.EntryLock.Held || resp.Pairs[models.StateActive] != 2 || resp.Symbol != "XAUUSD" {
		t.Errorf("status = %+v", resp)
	}
}
