package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSQLConsole/pkg/config"
)

func TestNew_LevelAndFormat(t *testing.T) {
	cfg := config.Default()
	cfg.Debug = true
	cfg.Log.Format = "json"

	logger, closer, err := New(&cfg)
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestNew_LogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Log.File = filepath.Join(t.TempDir(), "logs", "webapp.log")

	logger, closer, err := New(&cfg)
	require.NoError(t, err)

	logger.Info("hello from the console")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(cfg.Log.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the console")
}
