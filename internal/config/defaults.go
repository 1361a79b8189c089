package config

// DefaultFile returns the configuration used when no user or project
// config file exists.
func DefaultFile() File {
	return File{Settings: DefaultSettings()}
}
