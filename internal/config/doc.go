// Package config provides configuration management for kftray-core.
//
// This package implements a layered configuration system: a file is
// loaded from multiple sources and merged in order, with later sources
// overriding earlier ones.
//
// # Configuration Layers
//
//  1. Default Configuration (embedded in binary)
//     - Provides sensible defaults for every setting
//
//  2. User Configuration (~/.config/kftray-core/config.yaml)
//     - User-specific settings that apply across projects
//
//  3. Project Configuration (./.kftray-core/config.yaml)
//     - Project-specific settings, shareable via version control
//
// # Configuration Structure
//
//	settings:
//	  disconnectTimeoutMinutes: 30
//	  networkMonitorEnabled: true
//	  httpLogsDefaultEnabled: false
//	  httpLogsMaxFileSize: 10485760
//	  httpLogsRetentionDays: 7
//
//	forwards:
//	  - id: 1
//	    workloadType: service
//	    protocol: tcp
//	    context: my-cluster
//	    namespace: default
//	    service: my-service
//	    localPort: 8080
//	    remotePort: "80"
//	    alias: my-service-local
//
// # Usage Example
//
//	file, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, fwd := range file.Forwards {
//	    fmt.Printf("forward %s: %d -> %s\n", fwd.DisplayAlias(), fwd.LocalPort, fwd.RemotePort)
//	}
package config
