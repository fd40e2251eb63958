// Command mindlog is the command-line front end of the mindlog journal
// store: it records and lists entries, syncs them with the cloud and runs
// the background daemon and live dashboard.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mindlog/mindlog/internal/config"
	"github.com/mindlog/mindlog/internal/logging"
	"github.com/mindlog/mindlog/internal/ui"
)

var (
	// cfg and logs are set before any command runs.
	cfg  *config.Config
	logs *logging.Factory

	configPath string
	dataDir    string
	quiet      bool
	noColor    bool

	// confirm asks before destructive commands.
	confirm = ui.Confirm
)

var rootCmd = &cobra.Command{
	Use:   "mindlog",
	Short: "Local-first journal store with cloud sync",
	Long: `mindlog keeps journal entries from five exercise modules in a local
SQLite database, mirrors them to a flat key/value store, and syncs them with a
cloud backend when you are signed in. Everything works offline.

Configuration is read from mindlog.{yaml,toml,json} in $XDG_CONFIG_HOME/mindlog,
~/.config/mindlog or the current directory, and from MINDLOG_* environment
variables (MINDLOG_REMOTE_KIND=http, MINDLOG_SYNC_INTERVAL=1m, ...).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logs == nil {
			return nil
		}
		return logs.Close()
	},
}

// setup loads the configuration and the log destination.
func setup(cmd *cobra.Command) error {
	if noColor {
		ui.SetColor(false)
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dataDir != "" {
		loaded.DataDir = dataDir
	}
	cfg = loaded

	logs, err = logging.Setup(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Console:    cmd.ErrOrStderr(),
		Quiet:      quiet,
	})
	return err
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "journal", Title: "Journal:"},
		&cobra.Group{ID: "sync", Title: "Cloud sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: search standard locations)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the data directory")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress log output on stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
