package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LogFilePermissions = 0600
	InfoLogLevel       = "info"
	LoggerName         = "ssh-template"
)

var (
	globalLogger *Logger
	loggerMutex  sync.RWMutex

	// GlobalLogFile is the file opened by Initialize, if any. Closed by Sync.
	GlobalLogFile *os.File
)

// Logger wraps a zap logger with the printf-style helpers used across the module.
type Logger struct {
	*zap.Logger
	verbose bool
}

// New wraps an existing zap logger.
func New(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &Logger{Logger: l}
}

func NewNopLogger() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Get returns the process-wide logger, building a console logger at info level on first use.
func Get() *Logger {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if globalLogger == nil {
		globalLogger = &Logger{
			Logger: zap.New(newConsoleCore(os.Stderr, zapcore.InfoLevel)).Named(LoggerName),
		}
	}
	return globalLogger
}

func SetGlobalLogger(l *Logger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	globalLogger = l
}

// Verbose reports whether the logger was initialized at debug level.
func (l *Logger) Verbose() bool {
	return l.verbose
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Logger.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.Logger.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Logger.Warn(fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Logger.Error(fmt.Sprintf(format, args...))
}

// With returns a child logger carrying the given fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{
		Logger:  l.Logger.With(fields...),
		verbose: l.verbose,
	}
}

// Sync flushes buffered entries and closes the log file opened by Initialize.
func Sync() error {
	loggerMutex.RLock()
	l := globalLogger
	loggerMutex.RUnlock()

	var err error
	if l != nil {
		// Syncing stderr fails on some platforms; only the file matters.
		_ = l.Sync()
	}
	if GlobalLogFile != nil {
		err = GlobalLogFile.Close()
		GlobalLogFile = nil
	}
	return err
}

func customTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(fmt.Sprintf("[%s]", t.Format("2006-01-02 15:04:05")))
}

func getZapLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newConsoleCore(w *os.File, level zapcore.LevelEnabler) zapcore.Core {
	encoderConfig := baseEncoderConfig()
	encoderConfig.EncodeCaller = nil
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("15:04:05"))
	}
	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(w),
		level,
	)
}

func baseEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     customTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}
