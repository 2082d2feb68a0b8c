package logger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"schoolportal-backend/pkg/config"
)

func useObserver(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := Log
	Log = zap.New(core)
	t.Cleanup(func() { Log = prev })
	return logs
}

func TestFromContext_AttachesRequestID(t *testing.T) {
	logs := useObserver(t)

	FromContext(WithRequestID(context.Background(), "req-42")).Info("answered")
	FromContext(context.Background()).Info("no request")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "req-42", entries[0].ContextMap()["request_id"])
	assert.NotContains(t, entries[1].ContextMap(), "request_id")
}

func TestInit(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	t.Run("rejects unknown level", func(t *testing.T) {
		err := Init(config.LogConfig{Level: "loud"}, "call-service")
		assert.Error(t, err)
	})

	t.Run("writes to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "call.log")
		err := Init(config.LogConfig{Level: "debug", Format: "json", Output: "file", FilePath: path}, "call-service")
		require.NoError(t, err)
		assert.True(t, Log.Core().Enabled(zapcore.DebugLevel))
		Info("ready")
		_ = Sync()
		assert.FileExists(t, path)
	})
}
