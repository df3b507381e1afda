package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"pairbot/internal/bot"
	"pairbot/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Engine - операции движка, доступные через API
type Engine interface {
	AdmitSignal(ctx context.Context, sig models.Signal) (*bot.Admission, error)
	ForceClose(ctx context.Context, id string) error
	Snapshot() []*models.Pair
	Pair(id string) (*models.Pair, bool)
	Status() bot.EngineStatus
}

// Journal - чтение журнала событий и сделок
type Journal interface {
	GetNotifications(types []string, limit int) ([]*models.Notification, error)
	GetPairHistory(pairID string) ([]*models.Notification, error)
	GetTrades(limit int) ([]*models.TradeRecord, error)
	GetExitStats(period time.Duration) (map[string]int, error)
}

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

// respondWithError отправляет JSON ошибку
func respondWithError(w http.ResponseWriter, code int, errCode, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message, Code: errCode})
}

// queryInt читает положительное целое из query, иначе def
func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
