package util

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	once         sync.Once
)

// Init builds the process-wide logger. Only the first call has any effect.
func Init(environment, level, format string) *zap.Logger {
	once.Do(func() {
		var cfg zap.Config

		if environment == "production" {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "timestamp"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			cfg.DisableStacktrace = true
			cfg.Sampling = &zap.SamplingConfig{
				Initial:    100,
				Thereafter: 100,
			}
		} else {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		cfg.Level = zap.NewAtomicLevelAt(parseLogLevel(level))

		if format == "json" {
			cfg.Encoding = "json"
		} else {
			cfg.Encoding = "console"
		}

		// containers collect stdout
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}

		logger, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
		if err != nil {
			panic("failed to initialize logger: " + err.Error())
		}
		globalLogger = logger
		zap.ReplaceGlobals(globalLogger)
	})

	return globalLogger
}

// Get returns the global logger, falling back to a production JSON logger
// when Init was never called.
func Get() *zap.Logger {
	if globalLogger == nil {
		return Init("production", "info", "json")
	}
	return globalLogger
}

// Named returns a child logger for a component. Callers that hold it directly
// are not wrapped, so the caller skip is undone.
func Named(component string) *zap.Logger {
	return Get().Named(component).WithOptions(zap.AddCallerSkip(-1))
}

func Sync() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
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

func Debug(msg string, fields ...zap.Field) { Get().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { Get().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Get().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Get().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { Get().Fatal(msg, fields...) }

// Field helpers so callers do not import zap directly.
func String(key, value string) zap.Field                 { return zap.String(key, value) }
func Bool(key string, value bool) zap.Field              { return zap.Bool(key, value) }
func Int(key string, value int) zap.Field                { return zap.Int(key, value) }
func Int64(key string, value int64) zap.Field            { return zap.Int64(key, value) }
func Duration(key string, value time.Duration) zap.Field { return zap.Duration(key, value) }
func Time(key string, value time.Time) zap.Field         { return zap.Time(key, value) }
func Strings(key string, value []string) zap.Field       { return zap.Strings(key, value) }
func Any(key string, value interface{}) zap.Field        { return zap.Any(key, value) }

// ErrorField is named to avoid clashing with Error.
func ErrorField(err error) zap.Field {
	return zap.Error(err)
}
