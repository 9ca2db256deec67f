package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "throttle.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[semaphores]
database = 10
`), 0o600))

	conf, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, int64(10), conf.Semaphores["database"])
	assert.Equal(t, ":8080", conf.HTTP.Listen)
	assert.Equal(t, "stderr", conf.Log.Output)
	assert.Equal(t, "info", conf.Log.Severity)
	assert.Equal(t, "1s", conf.ExpiryInterval)
	assert.Equal(t, "10s", conf.MetricsInterval)
}

func TestCheckAndSetDefaults_RejectsEmptySemaphores(t *testing.T) {
	conf := &Config{}
	err := conf.CheckAndSetDefaults()
	require.Error(t, err)
}

func TestCheckAndSetDefaults_RejectsNegativeMax(t *testing.T) {
	conf := &Config{Semaphores: map[string]int64{"a": -1}}
	err := conf.CheckAndSetDefaults()
	require.Error(t, err)
}

func TestCheckAndSetDefaults_RejectsBadDuration(t *testing.T) {
	conf := &Config{Semaphores: map[string]int64{"a": 1}, ExpiryInterval: "not-a-duration"}
	err := conf.CheckAndSetDefaults()
	require.Error(t, err)
}

func TestExampleConfig_IsValidTOMLShape(t *testing.T) {
	assert.Contains(t, ExampleConfig(), "[semaphores]")
	assert.Contains(t, ExampleConfig(), "[http]")
	assert.Contains(t, ExampleConfig(), "[log]")
}
