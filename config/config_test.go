package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.True(t, cfg.AutoCheckpoint())
	require.Equal(t, 5, cfg.Checkpoints.AutoPruneKeepLatest)
	require.Equal(t, 10, cfg.Checkpoints.HistoryRunsInjected)
	require.Equal(t, "rewind.db", cfg.StorePath)
}

func TestParseYAML(t *testing.T) {
	data := []byte(`
StorePath: /tmp/agent.db
LogLevel: debug
Model:
  ID: gpt-4o-mini
  Temperature: 0.2
Checkpoints:
  Auto: false
  AutoPruneKeepLatest: 3
  HistoryRunsInjected: 4
`)
	cfg, err := ParseYAML(data)
	require.NoError(t, err)
	require.Equal(t, "/tmp/agent.db", cfg.StorePath)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "gpt-4o-mini", cfg.Model.ID)
	require.NotNil(t, cfg.Model.Temperature)
	require.Equal(t, 0.2, *cfg.Model.Temperature)
	require.False(t, cfg.AutoCheckpoint())
	require.Equal(t, 3, cfg.Checkpoints.AutoPruneKeepLatest)
	require.Equal(t, 4, cfg.Checkpoints.HistoryRunsInjected)
}

func TestParseYAML_UnknownFieldRejected(t *testing.T) {
	_, err := ParseYAML([]byte("NoSuchOption: true\n"))
	require.Error(t, err)
}

func TestParseYAML_Validation(t *testing.T) {
	_, err := ParseYAML([]byte("Checkpoints:\n  AutoPruneKeepLatest: 0\n"))
	require.Error(t, err)
	_, err = ParseYAML([]byte("Checkpoints:\n  HistoryRunsInjected: -1\n"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REWIND_STORE_PATH", "/tmp/env.db")
	t.Setenv("REWIND_MODEL_ID", "gpt-env")
	t.Setenv("REWIND_MODEL_TEMPERATURE", "0.7")
	t.Setenv("REWIND_AUTO_CHECKPOINT", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/tmp/env.db", cfg.StorePath)
	require.Equal(t, "gpt-env", cfg.Model.ID)
	require.NotNil(t, cfg.Model.Temperature)
	require.Equal(t, 0.7, *cfg.Model.Temperature)
	require.False(t, cfg.AutoCheckpoint())
}
