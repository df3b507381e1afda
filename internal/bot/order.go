package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"pairbot/internal/config"
	"pairbot/internal/models"
	"pairbot/pkg/retry"
	"pairbot/pkg/utils"
)

// ErrEmptyTicket - брокер подтвердил ордер без тикета
var ErrEmptyTicket = errors.New("broker returned empty ticket")

// OrderExecutor - исполнитель брокерских вызовов движка.
//
// Открытие позиций не повторяется (ордер не идемпотентен), закрытие
// повторяется с backoff: повторное закрытие уже закрытой позиции безопасно.
// Закрытия нескольких позиций идут параллельно.
type OrderExecutor struct {
	gw          Gateway
	symbol      string
	timeout     time.Duration
	retryCfg    retry.Config
	concurrency int
	log         *utils.Logger
}

// CloseRequest - позиция для закрытия
type CloseRequest struct {
	PairID string
	Role   string // PARTIAL, TRAILING, EXTERNAL
	Ticket string
	Lot    float64 // 0 = целиком
}

// CloseOutcome - результат закрытия
type CloseOutcome struct {
	CloseRequest
	Result models.CloseResult
	Err    error
}

// NewOrderExecutor создаёт исполнитель
func NewOrderExecutor(gw Gateway, cfg config.BotConfig, log *utils.Logger) *OrderExecutor {
	rc := retry.DefaultConfig()
	rc.MaxRetries = cfg.MaxRetries + 1
	if cfg.RetryBackoff > 0 {
		rc.InitialDelay = cfg.RetryBackoff
	}
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("broker call retry",
			utils.Int("attempt", attempt),
			utils.Err(err),
			utils.Duration("delay", delay))
	}

	concurrency := cfg.SweepConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &OrderExecutor{
		gw:          gw,
		symbol:      cfg.Symbol,
		timeout:     cfg.BrokerTimeout,
		retryCfg:    rc,
		concurrency: concurrency,
		log:         log,
	}
}

func (oe *OrderExecutor) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if oe.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, oe.timeout)
}

// Place открывает рыночную позицию (без повторов)
func (oe *OrderExecutor) Place(ctx context.Context, side models.Side, lot, sl, tp float64) (models.PlaceResult, error) {
	cctx, cancel := oe.callCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := oe.gw.PlaceMarket(cctx, oe.symbol, side, lot, sl, tp)
	if err == nil && res.Ticket == "" {
		err = ErrEmptyTicket
	}
	RecordBrokerCall("place", err, msSince(start))
	if err != nil {
		return models.PlaceResult{}, fmt.Errorf("place %s %.2f %s: %w", side, lot, oe.symbol, err)
	}
	return res, nil
}

// Close закрывает позицию с повторами
func (oe *OrderExecutor) Close(ctx context.Context, ticket string, lot float64) (models.CloseResult, error) {
	start := time.Now()
	res, err := retry.DoWithResult(ctx, func() (models.CloseResult, error) {
		cctx, cancel := oe.callCtx(ctx)
		defer cancel()
		return oe.gw.ClosePosition(cctx, ticket, lot)
	}, oe.retryCfg)
	RecordBrokerCall("close", err, msSince(start))
	if err != nil {
		return res, fmt.Errorf("close %s: %w", ticket, err)
	}
	return res, nil
}

// CloseMany закрывает позиции параллельно. Результаты - в порядке запросов.
func (oe *OrderExecutor) CloseMany(ctx context.Context, reqs []CloseRequest) []CloseOutcome {
	out := make([]CloseOutcome, len(reqs))
	if len(reqs) == 0 {
		return out
	}

	p := pool.New().WithMaxGoroutines(oe.concurrency)
	for i, req := range reqs {
		p.Go(func() {
			res, err := oe.Close(ctx, req.Ticket, req.Lot)
			out[i] = CloseOutcome{CloseRequest: req, Result: res, Err: err}
		})
	}
	p.Wait()
	return out
}

// List возвращает открытые позиции с повторами
func (oe *OrderExecutor) List(ctx context.Context) ([]models.Position, error) {
	start := time.Now()
	positions, err := retry.DoWithResult(ctx, func() ([]models.Position, error) {
		cctx, cancel := oe.callCtx(ctx)
		defer cancel()
		return oe.gw.ListPositions(cctx)
	}, oe.retryCfg)
	RecordBrokerCall("list", err, msSince(start))
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	return positions, nil
}

// LastPrice возвращает котировку символа движка
func (oe *OrderExecutor) LastPrice(ctx context.Context) (*models.Quote, error) {
	cctx, cancel := oe.callCtx(ctx)
	defer cancel()

	start := time.Now()
	q, err := oe.gw.LastPrice(cctx, oe.symbol)
	RecordBrokerCall("price", err, msSince(start))
	return q, err
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
