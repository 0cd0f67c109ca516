package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the configuration for the logger
type Config struct {
	Level         string `yaml:"level"          json:"level"          mapstructure:"level"`
	FilePath      string `yaml:"file_path"      json:"file_path"      mapstructure:"file_path"`
	Format        string `yaml:"format"         json:"format"         mapstructure:"format"`
	WithTrace     bool   `yaml:"with_trace"     json:"with_trace"     mapstructure:"with_trace"`
	EnableConsole bool   `yaml:"enable_console" json:"enable_console" mapstructure:"enable_console"`
}

// Initialize builds the global logger from config. Console output goes to stderr so that
// remote command output on stdout stays clean.
func Initialize(config Config) error {
	logLevel := config.Level
	if logLevel == "" {
		logLevel = InfoLogLevel
	}
	level := getZapLevel(logLevel)

	var cores []zapcore.Core

	if config.EnableConsole {
		if config.Format == "json" {
			cores = append(cores, zapcore.NewCore(
				zapcore.NewJSONEncoder(baseEncoderConfig()),
				zapcore.Lock(os.Stderr),
				level,
			))
		} else {
			cores = append(cores, newConsoleCore(os.Stderr, level))
		}
	}

	if config.FilePath != "" {
		var encoder zapcore.Encoder
		if config.Format == "json" {
			encoder = zapcore.NewJSONEncoder(baseEncoderConfig())
		} else {
			encoder = zapcore.NewConsoleEncoder(baseEncoderConfig())
		}

		file, err := os.OpenFile(
			config.FilePath,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY,
			LogFilePermissions,
		)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		GlobalLogFile = file

		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(file), level))
	}

	opts := []zap.Option{zap.AddCaller()}
	if config.WithTrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	l := zap.New(zapcore.NewTee(cores...), opts...).Named(LoggerName)
	SetGlobalLogger(&Logger{Logger: l, verbose: level == zapcore.DebugLevel})

	return nil
}
