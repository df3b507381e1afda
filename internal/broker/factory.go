package broker

import (
	"context"
	"fmt"
	"strings"

	"pairbot/internal/config"
	"pairbot/internal/models"
	"pairbot/pkg/crypto"
	"pairbot/pkg/retry"
	"pairbot/pkg/utils"
)

// Broker - брокерский счёт. Реализует bot.Gateway.
type Broker interface {
	Name() string
	PlaceMarket(ctx context.Context, symbol string, side models.Side, lot, sl, tp float64) (models.PlaceResult, error)
	ClosePosition(ctx context.Context, ticket string, lot float64) (models.CloseResult, error)
	ListPositions(ctx context.Context) ([]models.Position, error)
	LastPrice(ctx context.Context, symbol string) (*models.Quote, error)
}

// New создаёт брокера по конфигурации
func New(cfg *config.Config, log *utils.Logger) (Broker, error) {
	kind := strings.ToLower(cfg.Broker.Kind)

	switch kind {
	case KindPaper, "":
		return NewPaperBroker(PaperConfig{
			Symbol:          cfg.Bot.Symbol,
			Mid:             cfg.Broker.PaperPrice,
			Spread:          cfg.Broker.PaperSpread,
			MirrorSecondLeg: cfg.Broker.MirrorSecondLeg,
			MirrorDelay:     cfg.Bot.Leg2ConfirmDelay / 3,
			Walk:            cfg.Broker.PaperSpread,
		}), nil

	case KindREST:
		token, err := brokerToken(cfg)
		if err != nil {
			return nil, err
		}

		httpCfg := DefaultHTTPClientConfig()
		if cfg.Broker.Timeout > 0 {
			httpCfg.TotalTimeout = cfg.Broker.Timeout
			httpCfg.ReadTimeout = cfg.Broker.Timeout
		}

		retryCfg := retry.DefaultConfig()
		if cfg.Bot.MaxRetries > 0 {
			retryCfg.MaxRetries = cfg.Bot.MaxRetries
		}
		if cfg.Bot.RetryBackoff > 0 {
			retryCfg.InitialDelay = cfg.Bot.RetryBackoff
		}

		return NewRESTBroker(RESTConfig{
			BaseURL:   cfg.Broker.BaseURL,
			AccountID: cfg.Broker.AccountID,
			Token:     token,
			RateLimit: cfg.Broker.RateLimit,
			RateBurst: cfg.Broker.RateBurst,
			Retry:     retryCfg,
			HTTP:      httpCfg,
		}, log)

	default:
		return nil, fmt.Errorf("unsupported broker: %s", kind)
	}
}

// brokerToken возвращает токен моста, расшифровывая его при необходимости
func brokerToken(cfg *config.Config) (string, error) {
	if !cfg.Broker.TokenEncrypted {
		return cfg.Broker.Token, nil
	}
	token, err := crypto.OpenToken(cfg.Broker.Token, cfg.Security.EncryptionKey)
	if err != nil {
		return "", fmt.Errorf("decrypt broker token: %w", err)
	}
	return token, nil
}
