package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"pairbot/internal/bot"
	"pairbot/internal/models"
	"pairbot/pkg/crypto"
	"pairbot/pkg/utils"
)

// maxWebhookBody - ограничение размера тела сигнала
const maxWebhookBody = 64 << 10

// WebhookHandler принимает внешние торговые сигналы
//
// Endpoints:
// - POST /api/v1/webhook - сигнал ENTRY или CLOSE
type WebhookHandler struct {
	engine         Engine
	passphraseHash string
	timeout        time.Duration
	log            *utils.Logger
}

// NewWebhookHandler создает handler сигналов. Пустой passphraseHash отключает проверку.
func NewWebhookHandler(engine Engine, passphraseHash string, log *utils.Logger) *WebhookHandler {
	if log == nil {
		log = utils.L()
	}
	return &WebhookHandler{
		engine:         engine,
		passphraseHash: passphraseHash,
		timeout:        30 * time.Second,
		log:            log.WithComponent("webhook"),
	}
}

// SignalRequest - тело webhook
type SignalRequest struct {
	ID         string `json:"id"`
	Action     string `json:"action"` // ENTRY | CLOSE
	Side       string `json:"side"`
	Category   string `json:"category"`
	Approval   string `json:"approval"`
	Passphrase string `json:"passphrase"`
}

// SignalResponse - результат приёма сигнала
type SignalResponse struct {
	Status    string `json:"status"` // accepted | duplicate
	PairID    string `json:"pair_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Closed    int    `json:"closed,omitempty"`
}

// HandleSignal принимает сигнал
//
// POST /api/v1/webhook
//
// HTTP коды:
// - 200 OK: принят или дубликат
// - 400 Bad Request: невалидный payload
// - 401 Unauthorized: неверная passphrase
// - 409 Conflict: идёт вход или лимит категории
// - 502 Bad Gateway: брокер не открыл LEG1
// - 503 Service Unavailable: нет котировки
func (h *WebhookHandler) HandleSignal(w http.ResponseWriter, r *http.Request) {
	var req SignalRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_payload", "Invalid request body")
		return
	}

	if h.passphraseHash != "" && !crypto.PassphraseMatches(req.Passphrase, h.passphraseHash) {
		h.log.Warn("webhook rejected: bad passphrase", utils.String("remote", r.RemoteAddr))
		respondWithError(w, http.StatusUnauthorized, "unauthorized", "Invalid passphrase")
		return
	}

	sig, err := req.toSignal(time.Now())
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_signal", err.Error())
		return
	}

	// сигнал доводится до конца даже при обрыве соединения отправителя
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	defer cancel()

	adm, err := h.engine.AdmitSignal(ctx, sig)
	if err != nil {
		status, code := signalErrorStatus(err)
		respondWithError(w, status, code, err.Error())
		return
	}

	resp := SignalResponse{Status: "accepted"}
	switch {
	case adm.Duplicate:
		resp.Status = "duplicate"
		resp.Duplicate = true
	case adm.Pair != nil:
		resp.PairID = adm.Pair.ID
	default:
		resp.Closed = adm.Closed
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// toSignal проверяет и нормализует поля запроса
func (req SignalRequest) toSignal(now time.Time) (models.Signal, error) {
	sig := models.Signal{
		ID:         strings.TrimSpace(req.ID),
		Category:   strings.TrimSpace(req.Category),
		Approval:   req.Approval,
		ReceivedAt: now,
	}
	if sig.ID == "" {
		return sig, errors.New("id is required")
	}

	switch strings.ToUpper(strings.TrimSpace(req.Action)) {
	case "", string(models.SignalEntry):
		sig.Kind = models.SignalEntry
	case string(models.SignalClose):
		sig.Kind = models.SignalClose
	default:
		return sig, errors.New("action must be ENTRY or CLOSE")
	}

	if req.Side != "" {
		side, ok := models.ParseSide(strings.TrimSpace(req.Side))
		if !ok {
			return sig, errors.New("side must be BUY or SELL")
		}
		sig.Side = side
	}
	if sig.Kind == models.SignalEntry && !sig.Side.Valid() {
		return sig, errors.New("side is required for ENTRY")
	}
	return sig, nil
}

// signalErrorStatus сопоставляет ошибку приёма с HTTP статусом
func signalErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, bot.ErrInvalidSignal):
		return http.StatusBadRequest, "invalid_signal"
	case errors.Is(err, bot.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, bot.ErrCategoryFull):
		return http.StatusConflict, "category_full"
	case errors.Is(err, bot.ErrPriceUnavailable):
		return http.StatusServiceUnavailable, "price_unavailable"
	case errors.Is(err, bot.ErrLeg1Failed):
		return http.StatusBadGateway, "leg1_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
