package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"pairbot/internal/models"
	"pairbot/pkg/ratelimit"
	"pairbot/pkg/retry"
	"pairbot/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Категории лимитов запросов
const (
	limitTrade = "trade"
	limitRead  = "read"
)

// Коды торговых ответов моста
const (
	retcodeDone        = "TRADE_RETCODE_DONE"
	retcodeDonePartial = "TRADE_RETCODE_DONE_PARTIAL"
	retcodePlaced      = "TRADE_RETCODE_PLACED"
)

// RESTConfig - подключение к REST мосту MetaTrader счёта
type RESTConfig struct {
	BaseURL   string
	AccountID string
	Token     string
	RateLimit float64 // запросов в секунду на категорию
	RateBurst float64
	Retry     retry.Config // для чтения и закрытий; открытие не повторяется
	HTTP      HTTPClientConfig
}

// RESTBroker - клиент REST моста MetaTrader счёта
//
// Эндпоинты (относительно {BaseURL}/users/current/accounts/{AccountID}):
//
//	GET  /positions
//	POST /trade
//	GET  /symbols/{symbol}/current-price
type RESTBroker struct {
	cfg     RESTConfig
	http    *HTTPClient
	limiter *ratelimit.MultiLimiter
	log     *utils.Logger
	base    string
}

// NewRESTBroker создаёт клиент моста
func NewRESTBroker(cfg RESTConfig, log *utils.Logger) (*RESTBroker, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rest broker: base url is required")
	}
	if cfg.AccountID == "" {
		return nil, fmt.Errorf("rest broker: account id is required")
	}
	if log == nil {
		log = utils.L()
	}

	limiter := ratelimit.NewMultiLimiter()
	limiter.Add(limitTrade, cfg.RateLimit, cfg.RateBurst)
	limiter.Add(limitRead, cfg.RateLimit, cfg.RateBurst)

	return &RESTBroker{
		cfg:     cfg,
		http:    NewHTTPClient(cfg.HTTP),
		limiter: limiter,
		log:     log.WithBroker(KindREST),
		base:    strings.TrimRight(cfg.BaseURL, "/") + "/users/current/accounts/" + url.PathEscape(cfg.AccountID),
	}, nil
}

// Name возвращает тип брокера
func (rb *RESTBroker) Name() string { return KindREST }

// Close освобождает соединения
func (rb *RESTBroker) Close() { rb.http.Close() }

type positionDTO struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Type      string    `json:"type"`
	Volume    float64   `json:"volume"`
	OpenPrice float64   `json:"openPrice"`
	Time      time.Time `json:"time"`
}

type tradeRequest struct {
	ActionType string  `json:"actionType"`
	Symbol     string  `json:"symbol,omitempty"`
	Volume     float64 `json:"volume,omitempty"`
	StopLoss   float64 `json:"stopLoss,omitempty"`
	TakeProfit float64 `json:"takeProfit,omitempty"`
	PositionID string  `json:"positionId,omitempty"`
	ClientID   string  `json:"clientId,omitempty"`
}

type tradeResponse struct {
	NumericCode int     `json:"numericCode"`
	StringCode  string  `json:"stringCode"`
	Message     string  `json:"message"`
	PositionID  string  `json:"positionId"`
	OrderID     string  `json:"orderId"`
	Price       float64 `json:"price"`
}

type priceDTO struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Time   time.Time `json:"time"`
}

type errorDTO struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// PlaceMarket открывает рыночную позицию. Не повторяется: повтор после
// таймаута может открыть вторую позицию.
func (rb *RESTBroker) PlaceMarket(ctx context.Context, symbol string, side models.Side, lot, sl, tp float64) (models.PlaceResult, error) {
	action := "ORDER_TYPE_BUY"
	if side == models.SideSell {
		action = "ORDER_TYPE_SELL"
	}

	var resp tradeResponse
	err := rb.do(ctx, limitTrade, "place", http.MethodPost, "/trade", tradeRequest{
		ActionType: action,
		Symbol:     symbol,
		Volume:     lot,
		StopLoss:   sl,
		TakeProfit: tp,
	}, &resp)
	if err != nil {
		return models.PlaceResult{}, err
	}
	if err := tradeError("place", resp); err != nil {
		return models.PlaceResult{}, err
	}

	ticket := resp.PositionID
	if ticket == "" {
		ticket = resp.OrderID
	}
	if ticket == "" {
		return models.PlaceResult{}, &Error{Broker: KindREST, Op: "place", Code: resp.StringCode, Message: "no position id in response"}
	}
	return models.PlaceResult{Ticket: ticket, Price: resp.Price}, nil
}

// ClosePosition закрывает позицию целиком или частично.
// Отсутствующая позиция - AlreadyClosed без ошибки.
func (rb *RESTBroker) ClosePosition(ctx context.Context, ticket string, lot float64) (models.CloseResult, error) {
	req := tradeRequest{ActionType: "POSITION_CLOSE_ID", PositionID: ticket}
	if lot > 0 {
		req = tradeRequest{ActionType: "POSITION_PARTIAL", PositionID: ticket, Volume: lot}
	}

	res, err := retry.DoWithResult(ctx, func() (models.CloseResult, error) {
		var resp tradeResponse
		if err := rb.do(ctx, limitTrade, "close", http.MethodPost, "/trade", req, &resp); err != nil {
			return models.CloseResult{}, err
		}
		if err := tradeError("close", resp); err != nil {
			return models.CloseResult{}, err
		}
		return models.CloseResult{Price: resp.Price}, nil
	}, rb.retryConfig("close"))

	if err != nil && IsNotFound(err) {
		rb.log.Debug("position already closed", utils.Ticket(ticket))
		return models.CloseResult{AlreadyClosed: true}, nil
	}
	return res, err
}

// ListPositions возвращает открытые позиции счёта
func (rb *RESTBroker) ListPositions(ctx context.Context) ([]models.Position, error) {
	return retry.DoWithResult(ctx, func() ([]models.Position, error) {
		var dtos []positionDTO
		if err := rb.do(ctx, limitRead, "positions", http.MethodGet, "/positions", nil, &dtos); err != nil {
			return nil, err
		}
		out := make([]models.Position, 0, len(dtos))
		for _, d := range dtos {
			out = append(out, models.Position{
				Ticket:   d.ID,
				Symbol:   d.Symbol,
				Side:     positionSide(d.Type),
				Volume:   d.Volume,
				Price:    d.OpenPrice,
				OpenTime: d.Time,
			})
		}
		return out, nil
	}, rb.retryConfig("positions"))
}

// LastPrice возвращает текущую котировку. Неизвестный символ - nil без ошибки.
func (rb *RESTBroker) LastPrice(ctx context.Context, symbol string) (*models.Quote, error) {
	q, err := retry.DoWithResult(ctx, func() (*models.Quote, error) {
		var dto priceDTO
		path := "/symbols/" + url.PathEscape(symbol) + "/current-price"
		if err := rb.do(ctx, limitRead, "price", http.MethodGet, path, nil, &dto); err != nil {
			return nil, err
		}
		if dto.Bid <= 0 || dto.Ask <= 0 {
			return nil, nil
		}
		return &models.Quote{Symbol: symbol, Bid: dto.Bid, Ask: dto.Ask, Time: dto.Time}, nil
	}, rb.retryConfig("price"))
	if err != nil && IsNotFound(err) {
		return nil, nil
	}
	return q, err
}

func (rb *RESTBroker) retryConfig(op string) retry.Config {
	cfg := rb.cfg.Retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		rb.log.Warn("broker call failed, retrying",
			utils.String("op", op),
			utils.Int("attempt", attempt),
			utils.Duration("delay", delay),
			utils.Err(err))
	}
	return cfg
}

// do выполняет запрос к мосту и декодирует ответ в out
func (rb *RESTBroker) do(ctx context.Context, limit, op, method, path string, body, out interface{}) error {
	if err := rb.limiter.Wait(ctx, limit); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("encode %s request: %w", op, err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rb.base+path, reader)
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if rb.cfg.Token != "" {
		req.Header.Set("auth-token", rb.cfg.Token)
	}

	resp, err := rb.http.Do(req)
	if err != nil {
		return &Error{Broker: KindREST, Op: op, Original: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Broker: KindREST, Op: op, Status: resp.StatusCode, Original: err}
	}

	if resp.StatusCode >= 300 {
		var e errorDTO
		_ = json.Unmarshal(data, &e)
		msg := e.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{Broker: KindREST, Op: op, Status: resp.StatusCode, Code: e.Error, Message: msg}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return retry.Permanent(&Error{Broker: KindREST, Op: op, Status: resp.StatusCode, Message: "decode response", Original: err})
	}
	return nil
}

// tradeError превращает неуспешный код торгового ответа в ошибку
func tradeError(op string, resp tradeResponse) error {
	switch resp.StringCode {
	case retcodeDone, retcodeDonePartial, retcodePlaced, "":
		return nil
	}
	msg := resp.Message
	if msg == "" {
		msg = "trade rejected with code " + strconv.Itoa(resp.NumericCode)
	}
	// отказ сервера торговли не исправится повтором
	return retry.Permanent(&Error{Broker: KindREST, Op: op, Status: http.StatusOK, Code: resp.StringCode, Message: msg})
}

func positionSide(t string) models.Side {
	if strings.HasSuffix(strings.ToUpper(t), "SELL") {
		return models.SideSell
	}
	return models.SideBuy
}
