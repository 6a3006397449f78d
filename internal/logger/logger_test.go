package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit_RejectsUnknownFormat(t *testing.T) {
	err := Init(WithFormat("xml"))
	require.Error(t, err)
}

func TestInit_RejectsUnknownLevel(t *testing.T) {
	err := Init(WithLevel("loud"))
	require.Error(t, err)
}

func TestInit_WritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gate.log")

	require.NoError(t, Init(WithFile(path), WithFormat("json"), WithLevel("debug")))
	Info("hello from test", zap.String("k", "v"))
	_ = Shutdown()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
}

func TestNew_CarriesComponent(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	Use(zap.New(core))
	t.Cleanup(func() { _ = Shutdown() })

	New("proxy").Info("scoped")

	entries := logs.FilterMessage("scoped").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "proxy", entries[0].ContextMap()["component"])
}

func TestUpdateLevel_RequiresInit(t *testing.T) {
	_ = Shutdown()
	assert.Error(t, UpdateLevel("debug"))

	require.NoError(t, Init(WithLevel("info")))
	t.Cleanup(func() { _ = Shutdown() })
	assert.NoError(t, UpdateLevel("debug"))
	assert.Error(t, UpdateLevel("nope"))
}
