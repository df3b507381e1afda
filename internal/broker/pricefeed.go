package broker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"pairbot/internal/models"
	"pairbot/pkg/utils"
)

// QuoteSource - источник котировок (любой Gateway)
type QuoteSource interface {
	LastPrice(ctx context.Context, symbol string) (*models.Quote, error)
}

// QuoteSourceFunc - функция как QuoteSource
type QuoteSourceFunc func(ctx context.Context, symbol string) (*models.Quote, error)

func (f QuoteSourceFunc) LastPrice(ctx context.Context, symbol string) (*models.Quote, error) {
	return f(ctx, symbol)
}

// PricePoller опрашивает котировку с фиксированным интервалом и передаёт
// её обработчику. После ошибок интервал растёт экспоненциально до maxDelay
// и сбрасывается при первом успешном ответе.
type PricePoller struct {
	src      QuoteSource
	symbol   string
	interval time.Duration
	maxDelay time.Duration
	timeout  time.Duration
	onQuote  func(models.Quote)
	log      *utils.Logger
}

// NewPricePoller создаёт поллер котировок
func NewPricePoller(src QuoteSource, symbol string, interval time.Duration, onQuote func(models.Quote), log *utils.Logger) *PricePoller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if log == nil {
		log = utils.L()
	}
	return &PricePoller{
		src:      src,
		symbol:   symbol,
		interval: interval,
		maxDelay: 30 * time.Second,
		timeout:  interval,
		onQuote:  onQuote,
		log:      log.WithComponent("price_poller").WithSymbol(symbol),
	}
}

// Run опрашивает источник до отмены контекста
func (pp *PricePoller) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = pp.interval
	bo.MaxInterval = pp.maxDelay

	failures := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		next := pp.interval
		if err := pp.poll(ctx); err != nil {
			failures++
			next = bo.NextBackOff()
			if failures == 1 || failures%10 == 0 {
				pp.log.Warn("price poll failed", utils.Int("failures", failures), utils.Duration("next", next), utils.Err(err))
			}
		} else {
			if failures > 0 {
				pp.log.Info("price feed recovered", utils.Int("failures", failures))
			}
			failures = 0
			bo.Reset()
		}
		timer.Reset(next)
	}
}

func (pp *PricePoller) poll(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, pp.timeout)
	defer cancel()

	q, err := pp.src.LastPrice(callCtx, pp.symbol)
	if err != nil {
		return err
	}
	if q == nil {
		return ErrNoQuote
	}
	pp.onQuote(*q)
	return nil
}
