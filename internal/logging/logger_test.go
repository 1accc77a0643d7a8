package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel(" warn "))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}

func TestFromZapCarriesFieldsAndErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core)).With(zap.String("conversation", "c1"))

	logger.Error("stop failed", errors.New("boom"))
	logger.Debug("debug line")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "stop failed", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "c1", ctx["conversation"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestNewWritesRotatedFile(t *testing.T) {
	path := t.TempDir() + "/app.log"
	logger := New(Options{Level: "debug", File: path})
	logger.Info("hello")
	_ = logger.Sync()
	assert.FileExists(t, path)
}
