// Command audiocontrold tracks the state of the configured audio players and
// publishes their events over HTTP and WebSocket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"audiocontrold/internal/config"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "audiocontrold",
	Short:         "Audio player state daemon",
	Long:          "audiocontrold follows MPD, LMS and pipe-fed players and serves their state and events.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDaemon,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon (the default when no command is given)",
	RunE:  runDaemon,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration with the source of each value",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath, cmd.Flags(), nil)
		if err != nil {
			return err
		}
		return cfg.Dump(cmd.OutOrStdout())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "audiocontrold %s\n", version)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "path to config file (default ~/.config/"+config.DefaultFileName+")")
	config.RegisterFlags(pf)

	rootCmd.AddCommand(runCmd, configCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "audiocontrold:", err)
		os.Exit(1)
	}
}
