package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sourcegraph/conc"
	"go.uber.org/fx"

	"pairbot/internal/api"
	"pairbot/internal/bot"
	"pairbot/internal/broker"
	"pairbot/internal/config"
	"pairbot/internal/models"
	"pairbot/internal/repository"
	"pairbot/internal/service"
	"pairbot/internal/websocket"
	"pairbot/pkg/utils"
)

// notificationQueueSize - буфер между движком и доставкой событий
const notificationQueueSize = 1024

// ============ Журнал (PostgreSQL) ============

// journal - репозитории журнала; поля nil, если БД отключена
type journal struct {
	db     *sql.DB
	events service.EventRepositoryInterface
	trades service.TradeRepositoryInterface
}

func newJournal(lc fx.Lifecycle, cfg *config.Config, log *utils.Logger) (*journal, error) {
	j := &journal{}
	if !cfg.Database.Enabled {
		log.Info("event journal disabled")
		return j, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := repository.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	if cfg.Database.Migrate {
		if err := repository.Migrate(db, log); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %w", err)
		}
	}

	j.db = db
	j.events = repository.NewEventRepository(db)
	j.trades = repository.NewTradeRepository(db)

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return db.Close()
		},
	})

	log.Info("event journal connected",
		utils.String("host", cfg.Database.Host),
		utils.String("db", cfg.Database.Name))
	return j, nil
}

func journalModule() fx.Option {
	return fx.Module("journal",
		fx.Provide(newJournal),
	)
}

// ============ Доставка событий ============

func newTelegram(cfg *config.Config, log *utils.Logger) (*service.Telegram, error) {
	if !cfg.Telegram.Enabled {
		return nil, nil
	}
	return service.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
}

func newNotificationQueue() chan *models.Notification {
	return make(chan *models.Notification, notificationQueueSize)
}

func newNotificationService(cfg *config.Config, j *journal, hub *websocket.Hub, tg *service.Telegram, log *utils.Logger) *service.NotificationService {
	s := service.NewNotificationService(j.events, j.trades, log)
	s.SetWebSocketHub(hub)
	s.SetRetention(cfg.Database.Retention)
	if tg != nil {
		s.SetChatSender(tg)
	}
	if len(cfg.Telegram.Events) > 0 {
		s.SetChatTypes(cfg.Telegram.Events)
	}
	return s
}

func runNotifications(lc fx.Lifecycle, s *service.NotificationService, queue chan *models.Notification, tg *service.Telegram, engine *bot.Engine) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.Run(ctx, queue)
			}()
			if tg != nil {
				tg.Start(ctx, service.NewCommandResponder(engine))
			}
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func notificationModule() fx.Option {
	return fx.Module("notifications",
		fx.Provide(
			newTelegram,
			newNotificationQueue,
			newNotificationService,
		),
		fx.Invoke(runNotifications),
	)
}

// ============ Движок пар ============

func newHub(cfg *config.Config, log *utils.Logger) *websocket.Hub {
	return websocket.NewHub(cfg.Server.AllowedOrigins, log)
}

func newEngine(cfg *config.Config, gw broker.Broker, hub *websocket.Hub, queue chan *models.Notification, log *utils.Logger) *bot.Engine {
	return bot.NewEngine(cfg.Bot, gw,
		bot.WithLogger(log),
		bot.WithNotifier(bot.NewChannelNotifier(queue)),
		bot.WithWebSocketHub(hub),
	)
}

func newPricePoller(cfg *config.Config, gw broker.Broker, engine *bot.Engine, log *utils.Logger) *broker.PricePoller {
	return broker.NewPricePoller(gw, cfg.Bot.Symbol, cfg.Bot.TickInterval, engine.OnTick, log)
}

// runEngine запускает hub, движок и опрос котировок. Остановка ждёт
// завершения всех горутин или истечения stop timeout.
func runEngine(lc fx.Lifecycle, gw broker.Broker, hub *websocket.Hub, engine *bot.Engine, poller *broker.PricePoller, log *utils.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg conc.WaitGroup

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			wg.Go(func() { hub.Run(ctx) })
			wg.Go(func() { engine.Run(ctx) })
			wg.Go(func() { poller.Run(ctx) })
			log.Info("pair engine running",
				utils.String("broker", gw.Name()),
				utils.Symbol(engine.Symbol()))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return fmt.Errorf("engine shutdown: %w", stopCtx.Err())
			}
		},
	})
}

func engineModule() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			broker.New,
			newHub,
			newEngine,
			newPricePoller,
		),
		fx.Invoke(runEngine),
	)
}

// ============ HTTP API ============

func newRouter(cfg *config.Config, engine *bot.Engine, notifications *service.NotificationService, hub *websocket.Hub, log *utils.Logger) *mux.Router {
	return api.SetupRoutes(&api.Dependencies{
		Engine:                engine,
		Journal:               notifications,
		StreamHandler:         hub.ServeWS,
		WebhookPassphraseHash: cfg.Webhook.PassphraseHash,
		APIToken:              cfg.Server.APIToken,
		AllowedOrigins:        cfg.Server.AllowedOrigins,
		Logger:                log,
	})
}

func runHTTP(lc fx.Lifecycle, cfg *config.Config, router *mux.Router, log *utils.Logger) {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      45 * time.Second, // webhook ждёт открытия LEG1
		IdleTimeout:       60 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			go func() {
				var err error
				if cfg.Server.UseHTTPS {
					err = srv.ServeTLS(ln, cfg.Server.CertFile, cfg.Server.KeyFile)
				} else {
					err = srv.Serve(ln)
				}
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server failed", utils.Err(err))
				}
			}()
			log.Info("http server started", utils.String("addr", srv.Addr), utils.Bool("https", cfg.Server.UseHTTPS))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func httpModule() fx.Option {
	return fx.Module("http",
		fx.Provide(newRouter),
		fx.Invoke(runHTTP),
	)
}
