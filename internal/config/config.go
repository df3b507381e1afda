package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Broker   BrokerConfig
	Bot      BotConfig
	Webhook  WebhookConfig
	Telegram TelegramConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	UseHTTPS        bool
	CertFile        string
	KeyFile         string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string // для websocket и CORS; пусто = любые
	APIToken        string   // Bearer токен для операций оператора; пусто = без проверки
}

// DatabaseConfig - настройки подключения к БД (журнал событий)
type DatabaseConfig struct {
	Enabled  bool
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
	Migrate  bool // применять миграции при старте

	Retention time.Duration // срок хранения событий журнала; 0 = бессрочно
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	EncryptionKey string // AES-256 ключ для токена брокера
}

// BrokerConfig - подключение к брокеру
type BrokerConfig struct {
	Kind           string // paper, rest
	BaseURL        string
	AccountID      string
	Token          string
	TokenEncrypted bool // Token зашифрован ENCRYPTION_KEY
	RateLimit      float64
	RateBurst      float64
	Timeout        time.Duration

	// Paper режим
	MirrorSecondLeg bool    // брокер сам открывает зеркальную вторую ногу
	PaperPrice      float64 // стартовая mid цена
	PaperSpread     float64
}

// BotConfig - настройки движка пар (один символ на движок)
type BotConfig struct {
	Symbol string

	// Объём и уровни
	Lot        float64 // объём одной ноги
	LotStep    float64
	MinLot     float64
	SLDistance float64 // фиксированные расстояния, если индикаторы не прогреты
	TPDistance float64

	// Геометрия выхода
	PartialProgress      float64 // доля пути к TP для частичного закрытия
	TightPartialProgress float64 // то же в режиме tight SL
	TightSLFactor        float64 // множитель SL дистанции в режиме tight SL
	TrailingPolicy       string  // static, step
	TrailTrigger         float64
	TrailStep            float64

	// Лимиты
	CategoryLimits       map[string]int
	DefaultCategoryLimit int
	VolumeTolerance      float64

	// Тайминги
	ReconcileInterval time.Duration
	GuardInterval     time.Duration
	Leg2ConfirmDelay  time.Duration // после него LEG2 открывается самостоятельно
	Leg2MatchWindow   time.Duration // окно времени открытия для поиска LEG2
	SyncGrace         time.Duration // пара моложе - тяжёлые проверки пропускаются
	Leg2Grace         time.Duration // свежая LEG2 не считается закрытой
	RecentTTL         time.Duration
	ExternalMinAge    time.Duration // чужие позиции моложе не закрываются
	EntryTimeout      time.Duration
	EntryLockTimeout  time.Duration
	MinPairAge        time.Duration // тики не применяются к более молодым парам
	SignalTTL         time.Duration
	SignalCacheSize   int
	TickInterval      time.Duration // опрос котировок
	SnapshotInterval  time.Duration // рассылка состояния пар в UI

	// Сверка
	CloseUnknownOpenTime    bool // чужая позиция без времени открытия считается старой
	MissingLegConfirmations int

	// Вызовы брокера
	BrokerTimeout    time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	SweepConcurrency int
}

// WebhookConfig - приём сигналов
type WebhookConfig struct {
	PassphraseHash string // bcrypt; пусто = без проверки
}

// TelegramConfig - уведомления в чат
type TelegramConfig struct {
	Enabled bool
	Token   string
	ChatID  int64
	Events  []string // типы событий для чата; пусто = набор по умолчанию
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Development bool
	Output      string
}

// DefaultBotConfig возвращает параметры движка по умолчанию
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Symbol:                  "XAUUSD",
		Lot:                     0.01,
		LotStep:                 0.01,
		MinLot:                  0.01,
		SLDistance:              10,
		TPDistance:              10,
		PartialProgress:         0.5,
		TightPartialProgress:    0.3,
		TightSLFactor:           0.5,
		TrailingPolicy:          "static",
		TrailTrigger:            3,
		TrailStep:               1,
		CategoryLimits:          map[string]int{},
		DefaultCategoryLimit:    1,
		VolumeTolerance:         1e-4,
		ReconcileInterval:       3 * time.Second,
		GuardInterval:           2 * time.Second,
		Leg2ConfirmDelay:        3 * time.Second,
		Leg2MatchWindow:         4 * time.Second,
		SyncGrace:               5 * time.Second,
		Leg2Grace:               5 * time.Second,
		RecentTTL:               15 * time.Second,
		ExternalMinAge:          3 * time.Second,
		EntryTimeout:            20 * time.Second,
		EntryLockTimeout:        30 * time.Second,
		MinPairAge:              5 * time.Second,
		SignalTTL:               24 * time.Hour,
		SignalCacheSize:         10000,
		TickInterval:            2 * time.Second,
		SnapshotInterval:        time.Second,
		CloseUnknownOpenTime:    true,
		MissingLegConfirmations: 1,
		BrokerTimeout:           10 * time.Second,
		MaxRetries:              3,
		RetryBackoff:            200 * time.Millisecond,
		SweepConcurrency:        4,
	}
}

// Load загружает конфигурацию: значения по умолчанию, config файл (CONFIG_FILE или ./config.yaml),
// затем переменные окружения
func Load() (*Config, error) {
	return LoadWith(viper.New())
}

// LoadWith загружает конфигурацию через переданный экземпляр viper
func LoadWith(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pairbot")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	limits, err := parseCategoryLimits(v.GetString("bot.category_limits"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			Host:            v.GetString("server.host"),
			UseHTTPS:        v.GetBool("server.use_https"),
			CertFile:        v.GetString("server.cert_file"),
			KeyFile:         v.GetString("server.key_file"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			AllowedOrigins:  splitList(v.GetString("server.allowed_origins")),
			APIToken:        v.GetString("server.api_token"),
		},
		Database: DatabaseConfig{
			Enabled:  v.GetBool("db.enabled"),
			Driver:   v.GetString("db.driver"),
			Host:     v.GetString("db.host"),
			Port:     v.GetInt("db.port"),
			Name:     v.GetString("db.name"),
			User:     v.GetString("db.user"),
			Password: v.GetString("db.password"),
			SSLMode:  v.GetString("db.ssl_mode"),
			Migrate:  v.GetBool("db.migrate"),

			Retention: v.GetDuration("db.retention"),
		},
		Security: SecurityConfig{
			EncryptionKey: v.GetString("encryption_key"),
		},
		Broker: BrokerConfig{
			Kind:            strings.ToLower(v.GetString("broker.kind")),
			BaseURL:         v.GetString("broker.base_url"),
			AccountID:       v.GetString("broker.account_id"),
			Token:           v.GetString("broker.token"),
			TokenEncrypted:  v.GetBool("broker.token_encrypted"),
			RateLimit:       v.GetFloat64("broker.rate_limit"),
			RateBurst:       v.GetFloat64("broker.rate_burst"),
			Timeout:         v.GetDuration("broker.timeout"),
			MirrorSecondLeg: v.GetBool("broker.mirror_second_leg"),
			PaperPrice:      v.GetFloat64("broker.paper_price"),
			PaperSpread:     v.GetFloat64("broker.paper_spread"),
		},
		Bot: BotConfig{
			Symbol:                  v.GetString("bot.symbol"),
			Lot:                     v.GetFloat64("bot.lot"),
			LotStep:                 v.GetFloat64("bot.lot_step"),
			MinLot:                  v.GetFloat64("bot.min_lot"),
			SLDistance:              v.GetFloat64("bot.sl_distance"),
			TPDistance:              v.GetFloat64("bot.tp_distance"),
			PartialProgress:         v.GetFloat64("bot.partial_progress"),
			TightPartialProgress:    v.GetFloat64("bot.tight_partial_progress"),
			TightSLFactor:           v.GetFloat64("bot.tight_sl_factor"),
			TrailingPolicy:          strings.ToLower(v.GetString("bot.trailing_policy")),
			TrailTrigger:            v.GetFloat64("bot.trail_trigger"),
			TrailStep:               v.GetFloat64("bot.trail_step"),
			CategoryLimits:          limits,
			DefaultCategoryLimit:    v.GetInt("bot.default_category_limit"),
			VolumeTolerance:         v.GetFloat64("bot.volume_tolerance"),
			ReconcileInterval:       v.GetDuration("bot.reconcile_interval"),
			GuardInterval:           v.GetDuration("bot.guard_interval"),
			Leg2ConfirmDelay:        v.GetDuration("bot.leg2_confirm_delay"),
			Leg2MatchWindow:         v.GetDuration("bot.leg2_match_window"),
			SyncGrace:               v.GetDuration("bot.sync_grace"),
			Leg2Grace:               v.GetDuration("bot.leg2_grace"),
			RecentTTL:               v.GetDuration("bot.recent_ttl"),
			ExternalMinAge:          v.GetDuration("bot.external_min_age"),
			EntryTimeout:            v.GetDuration("bot.entry_timeout"),
			EntryLockTimeout:        v.GetDuration("bot.entry_lock_timeout"),
			MinPairAge:              v.GetDuration("bot.min_pair_age"),
			SignalTTL:               v.GetDuration("bot.signal_ttl"),
			SignalCacheSize:         v.GetInt("bot.signal_cache_size"),
			TickInterval:            v.GetDuration("bot.tick_interval"),
			SnapshotInterval:        v.GetDuration("bot.snapshot_interval"),
			CloseUnknownOpenTime:    v.GetBool("bot.close_unknown_open_time"),
			MissingLegConfirmations: v.GetInt("bot.missing_leg_confirmations"),
			BrokerTimeout:           v.GetDuration("bot.broker_timeout"),
			MaxRetries:              v.GetInt("bot.max_retries"),
			RetryBackoff:            v.GetDuration("bot.retry_backoff"),
			SweepConcurrency:        v.GetInt("bot.sweep_concurrency"),
		},
		Webhook: WebhookConfig{
			PassphraseHash: v.GetString("webhook.passphrase_hash"),
		},
		Telegram: TelegramConfig{
			Enabled: v.GetBool("telegram.enabled"),
			Token:   v.GetString("telegram.token"),
			ChatID:  v.GetInt64("telegram.chat_id"),
			Events:  splitList(v.GetString("telegram.events")),
		},
		Logging: LoggingConfig{
			Level:       v.GetString("log.level"),
			Format:      v.GetString("log.format"),
			Development: v.GetBool("log.development"),
			Output:      v.GetString("log.output"),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultBotConfig()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.use_https", false)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", "")
	v.SetDefault("server.api_token", "")

	v.SetDefault("db.enabled", false)
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "pairbot")
	v.SetDefault("db.user", "user")
	v.SetDefault("db.password", "password")
	v.SetDefault("db.ssl_mode", "disable")
	v.SetDefault("db.migrate", true)
	v.SetDefault("db.retention", 30*24*time.Hour)

	v.SetDefault("encryption_key", "")

	v.SetDefault("broker.kind", "paper")
	v.SetDefault("broker.base_url", "")
	v.SetDefault("broker.account_id", "")
	v.SetDefault("broker.token", "")
	v.SetDefault("broker.token_encrypted", false)
	v.SetDefault("broker.rate_limit", 5.0)
	v.SetDefault("broker.rate_burst", 10.0)
	v.SetDefault("broker.timeout", 10*time.Second)
	v.SetDefault("broker.mirror_second_leg", true)
	v.SetDefault("broker.paper_price", 2000.0)
	v.SetDefault("broker.paper_spread", 0.2)

	v.SetDefault("bot.symbol", d.Symbol)
	v.SetDefault("bot.lot", d.Lot)
	v.SetDefault("bot.lot_step", d.LotStep)
	v.SetDefault("bot.min_lot", d.MinLot)
	v.SetDefault("bot.sl_distance", d.SLDistance)
	v.SetDefault("bot.tp_distance", d.TPDistance)
	v.SetDefault("bot.partial_progress", d.PartialProgress)
	v.SetDefault("bot.tight_partial_progress", d.TightPartialProgress)
	v.SetDefault("bot.tight_sl_factor", d.TightSLFactor)
	v.SetDefault("bot.trailing_policy", d.TrailingPolicy)
	v.SetDefault("bot.trail_trigger", d.TrailTrigger)
	v.SetDefault("bot.trail_step", d.TrailStep)
	v.SetDefault("bot.category_limits", "")
	v.SetDefault("bot.default_category_limit", d.DefaultCategoryLimit)
	v.SetDefault("bot.volume_tolerance", d.VolumeTolerance)
	v.SetDefault("bot.reconcile_interval", d.ReconcileInterval)
	v.SetDefault("bot.guard_interval", d.GuardInterval)
	v.SetDefault("bot.leg2_confirm_delay", d.Leg2ConfirmDelay)
	v.SetDefault("bot.leg2_match_window", d.Leg2MatchWindow)
	v.SetDefault("bot.sync_grace", d.SyncGrace)
	v.SetDefault("bot.leg2_grace", d.Leg2Grace)
	v.SetDefault("bot.recent_ttl", d.RecentTTL)
	v.SetDefault("bot.external_min_age", d.ExternalMinAge)
	v.SetDefault("bot.entry_timeout", d.EntryTimeout)
	v.SetDefault("bot.entry_lock_timeout", d.EntryLockTimeout)
	v.SetDefault("bot.min_pair_age", d.MinPairAge)
	v.SetDefault("bot.signal_ttl", d.SignalTTL)
	v.SetDefault("bot.signal_cache_size", d.SignalCacheSize)
	v.SetDefault("bot.tick_interval", d.TickInterval)
	v.SetDefault("bot.snapshot_interval", d.SnapshotInterval)
	v.SetDefault("bot.close_unknown_open_time", d.CloseUnknownOpenTime)
	v.SetDefault("bot.missing_leg_confirmations", d.MissingLegConfirmations)
	v.SetDefault("bot.broker_timeout", d.BrokerTimeout)
	v.SetDefault("bot.max_retries", d.MaxRetries)
	v.SetDefault("bot.retry_backoff", d.RetryBackoff)
	v.SetDefault("bot.sweep_concurrency", d.SweepConcurrency)

	v.SetDefault("webhook.passphrase_hash", "")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("telegram.events", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.development", false)
	v.SetDefault("log.output", "")
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	if c.Broker.TokenEncrypted {
		if c.Security.EncryptionKey == "" {
			return fmt.Errorf("ENCRYPTION_KEY is required when BROKER_TOKEN_ENCRYPTED is set")
		}
		if len(c.Security.EncryptionKey) != 32 {
			return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
		}
	}

	if c.Broker.Kind == "rest" && (c.Broker.BaseURL == "" || c.Broker.Token == "") {
		return fmt.Errorf("BROKER_BASE_URL and BROKER_TOKEN are required for rest broker")
	}

	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		return fmt.Errorf("TELEGRAM_TOKEN and TELEGRAM_CHAT_ID are required when telegram is enabled")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Enabled && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	switch c.Broker.Kind {
	case "paper", "rest":
	default:
		return fmt.Errorf("BROKER_KIND must be paper or rest, got %q", c.Broker.Kind)
	}

	return c.Bot.Validate()
}

// Validate проверяет параметры движка
func (b BotConfig) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("BOT_SYMBOL is required")
	}
	if b.Lot <= 0 {
		return fmt.Errorf("BOT_LOT must be positive, got %v", b.Lot)
	}
	if b.SLDistance <= 0 || b.TPDistance <= 0 {
		return fmt.Errorf("BOT_SL_DISTANCE and BOT_TP_DISTANCE must be positive")
	}
	if b.PartialProgress <= 0 || b.PartialProgress >= 1 {
		return fmt.Errorf("BOT_PARTIAL_PROGRESS must be in (0,1), got %v", b.PartialProgress)
	}
	if b.TightPartialProgress <= 0 || b.TightPartialProgress >= 1 {
		return fmt.Errorf("BOT_TIGHT_PARTIAL_PROGRESS must be in (0,1), got %v", b.TightPartialProgress)
	}
	if b.TightSLFactor <= 0 || b.TightSLFactor > 1 {
		return fmt.Errorf("BOT_TIGHT_SL_FACTOR must be in (0,1], got %v", b.TightSLFactor)
	}
	switch b.TrailingPolicy {
	case "static":
	case "step":
		if b.TrailTrigger <= 0 || b.TrailStep <= 0 {
			return fmt.Errorf("BOT_TRAIL_TRIGGER and BOT_TRAIL_STEP must be positive for step trailing")
		}
	default:
		return fmt.Errorf("BOT_TRAILING_POLICY must be static or step, got %q", b.TrailingPolicy)
	}
	if b.DefaultCategoryLimit < 1 {
		return fmt.Errorf("BOT_DEFAULT_CATEGORY_LIMIT must be at least 1, got %d", b.DefaultCategoryLimit)
	}

	durations := map[string]time.Duration{
		"BOT_RECONCILE_INTERVAL": b.ReconcileInterval,
		"BOT_GUARD_INTERVAL":     b.GuardInterval,
		"BOT_LEG2_CONFIRM_DELAY": b.Leg2ConfirmDelay,
		"BOT_LEG2_MATCH_WINDOW":  b.Leg2MatchWindow,
		"BOT_ENTRY_TIMEOUT":      b.EntryTimeout,
		"BOT_ENTRY_LOCK_TIMEOUT": b.EntryLockTimeout,
		"BOT_RECENT_TTL":         b.RecentTTL,
		"BOT_BROKER_TIMEOUT":     b.BrokerTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}

	if b.EntryTimeout <= b.Leg2ConfirmDelay {
		return fmt.Errorf("BOT_ENTRY_TIMEOUT (%v) must exceed BOT_LEG2_CONFIRM_DELAY (%v)", b.EntryTimeout, b.Leg2ConfirmDelay)
	}
	if b.MissingLegConfirmations < 1 {
		return fmt.Errorf("BOT_MISSING_LEG_CONFIRMATIONS must be at least 1, got %d", b.MissingLegConfirmations)
	}
	if b.MaxRetries < 0 || b.MaxRetries > 10 {
		return fmt.Errorf("BOT_MAX_RETRIES must be between 0 and 10, got %d", b.MaxRetries)
	}

	return nil
}

// CategoryLimit возвращает лимит одновременных пар категории
func (b BotConfig) CategoryLimit(category string) int {
	if n, ok := b.CategoryLimits[category]; ok {
		return n
	}
	return b.DefaultCategoryLimit
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// parseCategoryLimits разбирает "T_BUY=1,T_SELL=2"
func parseCategoryLimits(raw string) (map[string]int, error) {
	out := make(map[string]int)
	for _, item := range splitList(raw) {
		name, value, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("BOT_CATEGORY_LIMITS: bad item %q, want NAME=N", item)
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("BOT_CATEGORY_LIMITS: bad limit for %s: %q", name, value)
		}
		out[strings.TrimSpace(name)] = n
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
