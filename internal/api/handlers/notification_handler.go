package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"pairbot/internal/models"
	"pairbot/internal/service"
)

// NotificationHandler отдаёт журнал событий и сделок
//
// Endpoints:
// - GET /api/v1/events?types=sl_hit,tp_hit&limit=50 - события
// - GET /api/v1/events?pair_id=... - история одной пары
// - GET /api/v1/trades?limit=50 - закрытые пары
// - GET /api/v1/trades/stats?period=24h - закрытия по причинам
//
// При отключённой БД все endpoints отвечают 503.
type NotificationHandler struct {
	journal Journal
}

// NewNotificationHandler создает новый NotificationHandler
func NewNotificationHandler(journal Journal) *NotificationHandler {
	return &NotificationHandler{journal: journal}
}

// GetNotificationsResponse представляет ответ списка событий
type GetNotificationsResponse struct {
	Notifications []NotificationDTO `json:"notifications"`
	Total         int               `json:"total"`
}

// NotificationDTO представляет событие в API
type NotificationDTO struct {
	ID        int                    `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	PairID    string                 `json:"pair_id,omitempty"`
	Symbol    string                 `json:"symbol,omitempty"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// TradesResponse - список закрытых пар
type TradesResponse struct {
	Trades []*models.TradeRecord `json:"trades"`
	Total  int                   `json:"total"`
}

// ExitStatsResponse - число закрытий по причинам
type ExitStatsResponse struct {
	Period  string         `json:"period"`
	Reasons map[string]int `json:"reasons"`
	Total   int            `json:"total"`
}

// GetNotifications возвращает события с фильтрацией
//
// Query параметры:
// - types (string): типы через запятую (entry_placed, sl_hit, sync_closed ...)
// - pair_id (string): история одной пары, types и limit игнорируются
// - limit (int): количество записей (по умолчанию 100, максимум 500)
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	var (
		events []*models.Notification
		err    error
	)

	if pairID := r.URL.Query().Get("pair_id"); pairID != "" {
		events, err = h.journal.GetPairHistory(pairID)
	} else {
		var types []string
		for _, part := range strings.Split(r.URL.Query().Get("types"), ",") {
			if part = strings.TrimSpace(part); part != "" {
				types = append(types, part)
			}
		}
		events, err = h.journal.GetNotifications(types, queryInt(r, "limit", 100))
	}
	if err != nil {
		h.respondJournalError(w, err)
		return
	}

	dtos := make([]NotificationDTO, 0, len(events))
	for _, n := range events {
		dtos = append(dtos, NotificationDTO{
			ID:        n.ID,
			Timestamp: n.Timestamp.Format(time.RFC3339),
			Type:      n.Type,
			Severity:  n.Severity,
			PairID:    n.PairID,
			Symbol:    n.Symbol,
			Message:   n.Message,
			Meta:      n.Meta,
		})
	}

	respondWithJSON(w, http.StatusOK, GetNotificationsResponse{Notifications: dtos, Total: len(dtos)})
}

// GetTrades возвращает последние закрытые пары
func (h *NotificationHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.journal.GetTrades(queryInt(r, "limit", 100))
	if err != nil {
		h.respondJournalError(w, err)
		return
	}
	if trades == nil {
		trades = []*models.TradeRecord{}
	}
	respondWithJSON(w, http.StatusOK, TradesResponse{Trades: trades, Total: len(trades)})
}

// GetExitStats возвращает закрытия по причинам за период (по умолчанию 24h)
func (h *NotificationHandler) GetExitStats(w http.ResponseWriter, r *http.Request) {
	period := 24 * time.Hour
	if v := r.URL.Query().Get("period"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			respondWithError(w, http.StatusBadRequest, "invalid_period", "period must be a positive duration, e.g. 24h")
			return
		}
		period = d
	}

	reasons, err := h.journal.GetExitStats(period)
	if err != nil {
		h.respondJournalError(w, err)
		return
	}

	total := 0
	for _, n := range reasons {
		total += n
	}
	respondWithJSON(w, http.StatusOK, ExitStatsResponse{Period: period.String(), Reasons: reasons, Total: total})
}

func (h *NotificationHandler) respondJournalError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrJournalDisabled) {
		respondWithError(w, http.StatusServiceUnavailable, "journal_disabled", "Event journal is disabled")
		return
	}
	respondWithError(w, http.StatusInternalServerError, "internal", "Failed to read journal: "+err.Error())
}
