package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"pairbot/internal/config"
	"pairbot/pkg/utils"
)

func main() {
	// Загрузка конфигурации до старта fx: ошибка конфигурации фатальна
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: cfg.Logging.Development,
		Output:      cfg.Logging.Output,
	})
	defer logger.Sync()

	app := fx.New(
		fx.Supply(cfg, logger),
		fx.WithLogger(func(l *utils.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Logger.Named("fx")}
		}),
		fx.StopTimeout(cfg.Server.ShutdownTimeout+cfg.Bot.EntryTimeout),

		// порядок модулей задаёт порядок hooks: остановка идёт в обратном,
		// HTTP -> движок -> доставка событий -> БД
		journalModule(),
		notificationModule(),
		engineModule(),
		httpModule(),
	)

	if err := app.Err(); err != nil {
		logger.Fatal("failed to build application", utils.Err(err))
	}
	app.Run()
}
