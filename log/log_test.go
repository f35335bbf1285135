package log

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

func TestInitLoggerFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Level:  "debug",
		Format: "json",
		File:   FileLogConfig{RootPath: dir, Filename: "rpc.log"},
	}
	l, p, err := InitLogger(cfg)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, p.Level.Level())
	assert.Equal(t, defaultLogMaxSize, cfg.File.MaxSize)

	l.Info("hello", FieldFunction("add"))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "rpc.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"function":"add"`)
}

func TestInitLoggerErrors(t *testing.T) {
	_, _, err := InitLogger(&Config{Level: "loud"})
	assert.Error(t, err)

	dir := t.TempDir()
	_, _, err = InitLogger(&Config{File: FileLogConfig{RootPath: filepath.Dir(dir), Filename: filepath.Base(dir)}})
	assert.Error(t, err)
}

func TestCtxLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	old := L()
	ReplaceGlobals(zap.New(core), nil)
	defer ReplaceGlobals(old, nil)

	ctx := WithModule(context.Background(), "server")
	Ctx(ctx).Info("dispatch", FieldFunction("echo"))
	Ctx(nil).Info("plain") //nolint:staticcheck

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "server", entries[0].ContextMap()[FieldNameModule])
	assert.Equal(t, "echo", entries[0].ContextMap()[FieldNameFunction])
	assert.NotContains(t, entries[1].ContextMap(), FieldNameModule)
}

func TestRatedLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &MLogger{Logger: zap.New(core)}
	l.WithRateGroup("test-rated", 0.0001, 2)

	assert.True(t, l.RatedInfo(1, "one"))
	assert.True(t, l.RatedWarn(1, "two"))
	assert.False(t, l.RatedDebug(1, "three"))
	assert.Equal(t, 2, logs.Len())

	// without a group the global nop limiter lets everything through
	free := &MLogger{Logger: zap.New(core)}
	for i := 0; i < 5; i++ {
		assert.True(t, free.RatedInfo(1, "free"))
	}
}

func TestSetLevel(t *testing.T) {
	old := GetLevel()
	defer SetLevel(old)

	SetLevel(zapcore.ErrorLevel)
	assert.Equal(t, zapcore.ErrorLevel, GetLevel())
}

func TestTestLogger(t *testing.T) {
	l := InitTestLogger(t, &Config{Level: "info"})
	l.Info("routed through t.Log")
}
