package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kftray-core/internal/config"
	"kftray-core/internal/httplog"
	"kftray-core/internal/kubeclient"
	"kftray-core/internal/relay"
	"kftray-core/internal/registry"
	"kftray-core/pkg/logging"
)

var debug bool

func newForwardCmd() *cobra.Command {
	forwardCmd := &cobra.Command{
		Use:   "forward",
		Short: "Manage port-forward fleets",
	}
	forwardCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable verbose logging")
	forwardCmd.AddCommand(newForwardStartCmd())
	forwardCmd.AddCommand(newForwardListCmd())
	return forwardCmd
}

func newForwardStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start every forward declared in the config file and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			logging.InitForCLI(level, os.Stdout)

			file, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if len(file.Forwards) == 0 {
				logging.Info("CLI", "no forwards declared in config")
				return nil
			}

			sup, logs, err := buildSupervisor(file.Settings)
			if err != nil {
				return err
			}
			for _, fwd := range file.Forwards {
				logs.Set(fwd.ID, fwd.HTTPLogsEnabled || file.Settings.HTTPLogsDefaultEnabled)
			}

			ctx := context.Background()
			results := sup.Start(ctx, file.Forwards)

			started := 0
			for _, r := range results {
				if r.Status == 0 {
					started++
					logging.Info("CLI", "started config %d on 127.0.0.1:%d -> %s:%s", r.ConfigID, r.BoundLocalPort, r.Service, r.RemotePort)
				} else {
					logging.Error("CLI", fmt.Errorf("%s", r.Stderr), "failed to start config %d", r.ConfigID)
				}
			}

			if started == 0 {
				sup.Shutdown(ctx)
				return fmt.Errorf("all %d forwards failed to start", len(results))
			}

			logging.Info("CLI", "%d/%d forwards running. Press Ctrl+C to stop.", started, len(results))

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logging.Info("CLI", "shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			sup.Shutdown(shutdownCtx)
			return nil
		},
	}
}

func newForwardListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List forwards declared in the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			for _, fwd := range file.Forwards {
				fmt.Printf("%d\t%s\t%s:%d -> %s:%s (%s, %s)\n",
					fwd.ID, fwd.DisplayAlias(), fwd.Context, fwd.LocalPort, fwd.Service, fwd.RemotePort, fwd.Protocol, fwd.WorkloadType)
			}
			return nil
		},
	}
}

func buildSupervisor(settings config.Settings) (*registry.Supervisor, *httplog.EnableMap, error) {
	factory := kubeclient.NewFactory()

	templates, err := relay.ParseDefaultTemplateSet()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse relay templates: %w", err)
	}
	relayMgr := relay.NewManager(templates)

	logs := httplog.NewEnableMap()

	supSettings := registry.Settings{
		DisconnectTimeoutMinutes: settings.DisconnectTimeoutMinutes,
		NetworkMonitorEnabled:    settings.NetworkMonitorEnabled,
		HealthCheckInterval:      15 * time.Second,
		HTTPLogsMaxFileSize:      settings.HTTPLogsMaxFileSize,
		HTTPLogsRetentionDays:    settings.HTTPLogsRetentionDays,
		HTTPLogsQueueCapacity:    1024,
		HTTPLogsFlushInterval:    2 * time.Second,
		HTTPLogDir:               settings.HTTPLogDir,
	}
	if supSettings.HTTPLogsMaxFileSize == 0 {
		supSettings.HTTPLogsMaxFileSize = 10 << 20
	}
	if supSettings.HTTPLogDir == "" {
		supSettings.HTTPLogDir = "./kftray-logs"
	}

	return registry.NewSupervisor(factory, relayMgr, logs, nil, nil, supSettings), logs, nil
}
