package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the base command when kftray-core is called without
// subcommands.
var rootCmd = &cobra.Command{
	Use:   "kftray-core",
	Short: "Manage Kubernetes port-forward fleets from the command line",
	Long: `kftray-core resolves Kubernetes targets, opens TCP/UDP port-forwards
(optionally through a relay pod for proxy/expose modes), and supervises
them with health checks and an idle-disconnect timer.`,
	SilenceUsage: true,
}

// SetVersion sets the version reported by "kftray-core version" / --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and runs it. This
// is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "kftray-core version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newForwardCmd())
	rootCmd.AddCommand(newVersionCmd())
}
