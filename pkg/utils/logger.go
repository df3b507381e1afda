package utils

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig - настройки логирования
type LogConfig struct {
	Level       string // debug, info, warn, error
	Format      string // json, text
	Development bool
	Output      string // путь к файлу; пусто = stderr
}

// Logger - обёртка над zap.Logger с доменными хелперами
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitLogger создаёт logger по конфигурации.
// Ошибка открытия файла не фатальна: вывод уходит в stderr.
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.MillisDurationEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" || cfg.Development {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stderr)
	if cfg.Output != "" && cfg.Output != "stderr" {
		if cfg.Output == "stdout" {
			sink = zapcore.Lock(os.Stdout)
		} else if f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			sink = zapcore.AddSync(f)
		} else {
			fmt.Fprintf(os.Stderr, "logger: cannot open %s: %v, falling back to stderr\n", cfg.Output, err)
		}
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	core := zapcore.NewCore(encoder, sink, level)
	zl := zap.New(core, opts...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// NewNopLogger - logger без вывода (для тестов)
func NewNopLogger() *Logger {
	zl := zap.NewNop()
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitGlobalLogger создаёт logger и делает его глобальным
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger заменяет глобальный logger
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный logger, создавая его по умолчанию при первом обращении
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{Level: "info", Format: "json"})
	}
	return globalLogger
}

// L - короткий алиас GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// With возвращает дочерний logger с полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := l.Logger.With(fields...)
	return &Logger{Logger: child, sugar: child.Sugar()}
}

// WithComponent - logger компонента (engine, reconciler, api...)
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithSymbol - logger инструмента
func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(Symbol(symbol))
}

// WithPairID - logger пары
func (l *Logger) WithPairID(id string) *Logger {
	return l.With(PairID(id))
}

// WithBroker - logger брокерского адаптера
func (l *Logger) WithBroker(name string) *Logger {
	return l.With(zap.String("broker", name))
}

// Sugar возвращает SugaredLogger
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============ Глобальные функции ============

func Debug(msg string, fields ...zap.Field) { GetGlobalLogger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { GetGlobalLogger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { GetGlobalLogger().Error(msg, fields...) }

func Debugf(format string, args ...interface{}) { GetGlobalLogger().sugar.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { GetGlobalLogger().sugar.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { GetGlobalLogger().sugar.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { GetGlobalLogger().sugar.Errorf(format, args...) }

// ============ Конструкторы полей ============

func Symbol(s string) zap.Field                    { return zap.String("symbol", s) }
func PairID(id string) zap.Field                   { return zap.String("pair_id", id) }
func SignalID(id string) zap.Field                 { return zap.String("signal_id", id) }
func Ticket(t string) zap.Field                    { return zap.String("ticket", t) }
func Price(p float64) zap.Field                    { return zap.Float64("price", p) }
func Volume(v float64) zap.Field                   { return zap.Float64("volume", v) }
func Side(s string) zap.Field                      { return zap.String("side", s) }
func State(s string) zap.Field                     { return zap.String("state", s) }
func Reason(r string) zap.Field                    { return zap.String("reason", r) }
func Category(c string) zap.Field                  { return zap.String("category", c) }
func Latency(ms float64) zap.Field                 { return zap.Float64("latency_ms", ms) }
func Elapsed(d time.Duration) zap.Field            { return zap.Duration("elapsed", d) }
func Duration(k string, d time.Duration) zap.Field { return zap.Duration(k, d) }
func RequestID(id string) zap.Field                { return zap.String("request_id", id) }
func Component(name string) zap.Field              { return zap.String("component", name) }

// Переэкспорт zap для пакетов, которые не импортируют zap напрямую
func String(k, v string) zap.Field          { return zap.String(k, v) }
func Int(k string, v int) zap.Field         { return zap.Int(k, v) }
func Int64(k string, v int64) zap.Field     { return zap.Int64(k, v) }
func Float64(k string, v float64) zap.Field { return zap.Float64(k, v) }
func Bool(k string, v bool) zap.Field       { return zap.Bool(k, v) }
func Err(err error) zap.Field               { return zap.Error(err) }
func Any(k string, v interface{}) zap.Field { return zap.Any(k, v) }
