package config

import "kftray-core/internal/core"

// Settings holds the process-wide knobs an external settings store
// would expose: idle-disconnect timeout, network-monitor toggle, and
// the HTTP log pipeline's defaults.
type Settings struct {
	DisconnectTimeoutMinutes int    `yaml:"disconnectTimeoutMinutes,omitempty"`
	NetworkMonitorEnabled    bool   `yaml:"networkMonitorEnabled"`
	HTTPLogsDefaultEnabled   bool   `yaml:"httpLogsDefaultEnabled,omitempty"`
	HTTPLogsMaxFileSize      int64  `yaml:"httpLogsMaxFileSize,omitempty"`
	HTTPLogsRetentionDays    int    `yaml:"httpLogsRetentionDays,omitempty"`
	HTTPLogDir               string `yaml:"httpLogDir,omitempty"`
}

// File is the on-disk layout of a kftray-core config file: the shared
// settings block plus the list of forward declarations.
type File struct {
	Settings Settings      `yaml:"settings"`
	Forwards []core.Config `yaml:"forwards"`
}

// DefaultSettings mirrors the defaults applied when no config file, or an
// incomplete one, is found.
func DefaultSettings() Settings {
	return Settings{
		DisconnectTimeoutMinutes: 0,
		NetworkMonitorEnabled:    true,
		HTTPLogsDefaultEnabled:   false,
		HTTPLogsMaxFileSize:      10 << 20,
		HTTPLogsRetentionDays:    7,
		HTTPLogDir:               "./kftray-logs",
	}
}
