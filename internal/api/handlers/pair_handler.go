package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"pairbot/internal/bot"
	"pairbot/internal/models"
	"pairbot/pkg/utils"
)

// PairHandler отвечает за просмотр и ручное закрытие пар
//
// Endpoints:
// - GET /api/v1/pairs            - список пар (?state=ACTIVE,CLOSING)
// - GET /api/v1/pairs/{id}       - одна пара
// - POST /api/v1/pairs/{id}/close - закрыть пару (PAIR_CLOSED)
// - GET /api/v1/status           - сводка движка
type PairHandler struct {
	engine Engine
	log    *utils.Logger
}

// NewPairHandler создает новый PairHandler
func NewPairHandler(engine Engine, log *utils.Logger) *PairHandler {
	if log == nil {
		log = utils.L()
	}
	return &PairHandler{engine: engine, log: log.WithComponent("pairs_api")}
}

// PairsResponse - список пар
type PairsResponse struct {
	Pairs []*models.Pair `json:"pairs"`
	Total int            `json:"total"`
}

// GetPairs возвращает пары движка, отсортированные по времени открытия
func (h *PairHandler) GetPairs(w http.ResponseWriter, r *http.Request) {
	var states map[models.State]bool
	if v := r.URL.Query().Get("state"); v != "" {
		states = make(map[models.State]bool)
		for _, s := range strings.Split(v, ",") {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				states[models.State(s)] = true
			}
		}
	}

	pairs := make([]*models.Pair, 0)
	for _, p := range h.engine.Snapshot() {
		if states == nil || states[p.State] {
			pairs = append(pairs, p)
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].OpenedAt.Before(pairs[j].OpenedAt) })

	respondWithJSON(w, http.StatusOK, PairsResponse{Pairs: pairs, Total: len(pairs)})
}

// GetPair возвращает одну пару
func (h *PairHandler) GetPair(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, ok := h.engine.Pair(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "not_found", "Pair not found")
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

// ClosePair закрывает пару по запросу оператора
//
// HTTP коды:
// - 200 OK: закрытие выполнено
// - 404 Not Found: пары нет или она уже закрыта
// - 409 Conflict: пара уже закрывается
func (h *PairHandler) ClosePair(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 30*time.Second)
	defer cancel()

	if err := h.engine.ForceClose(ctx, id); err != nil {
		if errors.Is(err, bot.ErrPairNotFound) {
			respondWithError(w, http.StatusNotFound, "not_found", "Pair not found")
			return
		}
		respondWithError(w, http.StatusConflict, "closing", err.Error())
		return
	}

	h.log.Info("pair closed by operator", utils.PairID(id), utils.String("remote", r.RemoteAddr))
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Pair closed"})
}

// GetStatus возвращает сводку движка: лок входа, пары по состояниям, сверку
func (h *PairHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.engine.Status())
}
