package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nspcc-dev/dispatchernode/pkg/config"
)

const sampleYAML = `
ApplicationConfiguration:
  LogLevel: debug
  Storage:
    Backend: bolt
    BoltDBPath: data/dispatcher.db
  Runtimes:
    - ID: 1
  Services:
    - Name: wallet
      Version: "1.0.0"
  Genesis:
    - ID: 10
      Name: wallet
      Artifact:
        Name: wallet
        Version: "1.0.0"
`

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestLoadFileParsesAndValidates(t *testing.T) {
	path := writeFile(t, sampleYAML)
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.ApplicationConfiguration.LogLevel)
	require.Equal(t, config.StorageBolt, cfg.ApplicationConfiguration.Storage.Backend)
	require.Len(t, cfg.ApplicationConfiguration.Runtimes, 1)
	require.Len(t, cfg.ApplicationConfiguration.Genesis, 1)
}

func TestLoadFileRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, sampleYAML+"\n  TotallyUnknownField: true\n")
	_, err := config.LoadFile(path)
	require.Error(t, err)
}

func TestLoadFileRejectsBoltWithoutPath(t *testing.T) {
	const bad = `
ApplicationConfiguration:
  Storage:
    Backend: bolt
`
	path := writeFile(t, bad)
	_, err := config.LoadFile(path)
	require.Error(t, err)
}

func TestLoadFileRejectsDuplicateRuntimeIDs(t *testing.T) {
	const bad = `
ApplicationConfiguration:
  Runtimes:
    - ID: 1
    - ID: 1
`
	path := writeFile(t, bad)
	_, err := config.LoadFile(path)
	require.Error(t, err)
}

func TestLoadFileRewritesRelativeStoragePaths(t *testing.T) {
	path := writeFile(t, sampleYAML)
	cfg, err := config.LoadFile(path, "/srv/dispatcher")
	require.NoError(t, err)
	require.Equal(t, "/srv/dispatcher/data/dispatcher.db", cfg.ApplicationConfiguration.Storage.BoltDBPath)
}

func TestLoadFileDefaultsToMemoryBackend(t *testing.T) {
	const minimal = `
ApplicationConfiguration:
  Runtimes:
    - ID: 1
`
	path := writeFile(t, minimal)
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, config.StorageMemory, cfg.ApplicationConfiguration.Storage.Backend)
}
