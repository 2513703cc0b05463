package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mosaicdev/mosaic/internal/logger"
)

var (
	debugMode             bool
	quietMode             bool
	version, commit, date string
)

// SetVersionInfo sets version information from ldflags
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

var rootCmd = &cobra.Command{
	Use:   "mosaic",
	Short: "Daemon for managing multiple coding-agent conversations across git worktrees",
	Long: `Mosaic is the backend daemon of a desktop application that manages many
coding-agent conversations, each running in its own git worktree. It spawns
the agent runtime on demand, multiplexes session event streams, and exposes
them to the desktop shell over a websocket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", true, "Enable debug logging (on by default)")
	rootCmd.PersistentFlags().BoolVarP(&quietMode, "quiet", "q", false, "Reduce logging to info level only")

	viper.SetEnvPrefix("MOSAIC")
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	if quietMode {
		logger.SetDebug(false)
	} else if debugMode {
		logger.SetDebug(true)
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(versionTemplate())
	return rootCmd.Execute()
}

func versionTemplate() string {
	if commit != "none" && commit != "" {
		return fmt.Sprintf("mosaic %s\n  commit: %s\n  built:  %s\n", version, commit, date)
	}
	return fmt.Sprintf("mosaic %s\n", version)
}
