package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGetZapLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, getZapLevel(tt.in))
		})
	}
}

func TestFormattedHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Debugf("dialing %s:%d", "example.com", 22)
	l.Infof("connected")
	l.Warnf("unknown host key for %s", "example.com")
	l.Errorf("close failed: %v", assert.AnError)

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	assert.Equal(t, "dialing example.com:22", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Contains(t, entries[3].Message, assert.AnError.Error())
}

func TestWithKeepsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := New(zap.New(core)).With(zap.String("host", "example.com"))

	l.Info("hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "example.com", logs.All()[0].ContextMap()["host"])
}

func TestInitializeWritesFile(t *testing.T) {
	t.Cleanup(func() { SetGlobalLogger(nil) })

	path := filepath.Join(t.TempDir(), "ssh-template.log")
	err := Initialize(Config{Level: "debug", FilePath: path, Format: "json"})
	require.NoError(t, err)

	Get().Debug("written to file")
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), LoggerName)
}

func TestInitializeBadPath(t *testing.T) {
	err := Initialize(Config{FilePath: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

func TestContextRoundTrip(t *testing.T) {
	l := NewNopLogger()
	ctx := IntoContext(context.Background(), l)

	assert.Same(t, l, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestInitializeSetsVerboseAtDebug(t *testing.T) {
	t.Cleanup(func() { SetGlobalLogger(nil) })

	require.NoError(t, Initialize(Config{Level: "debug"}))
	assert.True(t, Get().Verbose())
	assert.True(t, Get().With(zap.String("host", "example.com")).Verbose())

	require.NoError(t, Initialize(Config{Level: "info"}))
	assert.False(t, Get().Verbose())
}
