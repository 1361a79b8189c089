package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// For mocking in tests.
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/kftray-core"
	projectConfigDir = ".kftray-core"
	configFileName   = "config.yaml"
)

// Load layers the default settings with an optional user config
// ($HOME/.config/kftray-core/config.yaml) and an optional project config
// (./.kftray-core/config.yaml), in that order.
func Load() (File, error) {
	result := DefaultFile()

	userConfigPath, err := getUserConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not determine user config path: %v\n", err)
	} else if _, statErr := os.Stat(userConfigPath); !os.IsNotExist(statErr) {
		userFile, err := loadFile(userConfigPath)
		if err != nil {
			return File{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
		}
		result = merge(result, userFile)
	}

	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not determine project config path: %v\n", err)
	} else if _, statErr := os.Stat(projectConfigPath); !os.IsNotExist(statErr) {
		projectFile, err := loadFile(projectConfigPath)
		if err != nil {
			return File{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
		}
		result = merge(result, projectFile)
	}

	return result, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

func loadFile(path string) (File, error) {
	var f File
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, err
	}
	return f, nil
}

// merge layers overlay onto base: scalar settings overwrite when set,
// forwards merge by ID (overlay entries replace base entries of the same
// ID, new IDs are appended).
func merge(base, overlay File) File {
	merged := base

	if overlay.Settings.DisconnectTimeoutMinutes != 0 {
		merged.Settings.DisconnectTimeoutMinutes = overlay.Settings.DisconnectTimeoutMinutes
	}
	merged.Settings.NetworkMonitorEnabled = overlay.Settings.NetworkMonitorEnabled || base.Settings.NetworkMonitorEnabled
	if overlay.Settings.HTTPLogsMaxFileSize != 0 {
		merged.Settings.HTTPLogsMaxFileSize = overlay.Settings.HTTPLogsMaxFileSize
	}
	if overlay.Settings.HTTPLogsRetentionDays != 0 {
		merged.Settings.HTTPLogsRetentionDays = overlay.Settings.HTTPLogsRetentionDays
	}
	if overlay.Settings.HTTPLogDir != "" {
		merged.Settings.HTTPLogDir = overlay.Settings.HTTPLogDir
	}
	merged.Settings.HTTPLogsDefaultEnabled = overlay.Settings.HTTPLogsDefaultEnabled || base.Settings.HTTPLogsDefaultEnabled

	if len(overlay.Forwards) > 0 {
		byID := make(map[int64]int, len(merged.Forwards))
		for i, fwd := range merged.Forwards {
			byID[fwd.ID] = i
		}
		for _, fwd := range overlay.Forwards {
			if i, ok := byID[fwd.ID]; ok {
				merged.Forwards[i] = fwd
			} else {
				merged.Forwards = append(merged.Forwards, fwd)
			}
		}
	}

	return merged
}

// GetUserConfigDir returns the user configuration directory path.
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}
