package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"kftray-core/internal/core"
)

func createTempConfigFile(t *testing.T, dir, filename string, content File) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	data, err := yaml.Marshal(&content)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoad_DefaultOnly(t *testing.T) {
	tempDir := t.TempDir()
	restoreUser := withUserConfigDir(t, filepath.Join(tempDir, "nouser"))
	defer restoreUser()
	restoreProject := withProjectConfigDir(t, filepath.Join(tempDir, "noproject"))
	defer restoreProject()

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), loaded.Settings)
	assert.Empty(t, loaded.Forwards)
}

func TestLoad_UserOverride(t *testing.T) {
	tempDir := t.TempDir()
	restoreUser := withUserConfigDir(t, tempDir)
	defer restoreUser()
	restoreProject := withProjectConfigDir(t, filepath.Join(tempDir, "noproject"))
	defer restoreProject()

	userFile := File{
		Settings: Settings{DisconnectTimeoutMinutes: 45, NetworkMonitorEnabled: true},
		Forwards: []core.Config{
			{ID: 1, WorkloadType: core.WorkloadService, Protocol: core.ProtocolTCP, Service: "svc-a", LocalPort: 8080, RemotePort: "80"},
		},
	}
	createTempConfigFile(t, tempDir, configFileName, userFile)

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45, loaded.Settings.DisconnectTimeoutMinutes)
	require.Len(t, loaded.Forwards, 1)
	assert.Equal(t, "svc-a", loaded.Forwards[0].Service)
}

func TestLoad_ProjectOverridesUserByID(t *testing.T) {
	userDir := t.TempDir()
	projectDir := t.TempDir()
	restoreUser := withUserConfigDir(t, userDir)
	defer restoreUser()
	restoreProject := withProjectConfigDir(t, projectDir)
	defer restoreProject()

	createTempConfigFile(t, userDir, configFileName, File{
		Forwards: []core.Config{
			{ID: 1, Service: "svc-user", LocalPort: 8080, RemotePort: "80"},
			{ID: 2, Service: "svc-keep", LocalPort: 9090, RemotePort: "90"},
		},
	})
	createTempConfigFile(t, projectDir, configFileName, File{
		Forwards: []core.Config{
			{ID: 1, Service: "svc-project", LocalPort: 8081, RemotePort: "81"},
		},
	})

	loaded, err := Load()
	require.NoError(t, err)
	require.Len(t, loaded.Forwards, 2)

	byID := make(map[int64]core.Config)
	for _, fwd := range loaded.Forwards {
		byID[fwd.ID] = fwd
	}
	assert.Equal(t, "svc-project", byID[1].Service)
	assert.Equal(t, "svc-keep", byID[2].Service)
}

func withUserConfigDir(t *testing.T, dir string) func() {
	t.Helper()
	originalHomeDir := osUserHomeDir
	originalPath := getUserConfigPath
	osUserHomeDir = func() (string, error) { return dir, nil }
	getUserConfigPath = func() (string, error) { return filepath.Join(dir, configFileName), nil }
	return func() {
		osUserHomeDir = originalHomeDir
		getUserConfigPath = originalPath
	}
}

func withProjectConfigDir(t *testing.T, dir string) func() {
	t.Helper()
	originalWd := osGetwd
	originalPath := getProjectConfigPath
	osGetwd = func() (string, error) { return dir, nil }
	getProjectConfigPath = func() (string, error) { return filepath.Join(dir, configFileName), nil }
	return func() {
		osGetwd = originalWd
		getProjectConfigPath = originalPath
	}
}
