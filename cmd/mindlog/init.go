package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mindlog/mindlog/internal/config"
	"github.com/mindlog/mindlog/internal/logstore/migrate"
	"github.com/mindlog/mindlog/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "maint",
	Short:   "Create the data directory and migrate legacy data",
	Long: `Prepare the data directory: create the SQLite database and, on first
run, migrate entries from the legacy flat store into it. Running init again
is harmless; migration happens only once.

With --write-config a config file holding every default is written (to
--config, or to the first search location) unless one already exists.`,
	Args: cobra.NoArgs,
	// The config file has to exist before setup reads it.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		writeConfig, _ := cmd.Flags().GetBool("write-config")
		if writeConfig {
			if err := writeDefaultConfig(cmd.OutOrStdout()); err != nil {
				return err
			}
		}
		return setup(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		migrated := "no (database unavailable; using legacy store)"
		if migrate.Done(a.legacy) {
			migrated = "yes"
		}

		fmt.Fprintf(out, "%s Initialized %s\n", ui.RenderPass("✓"), a.cfg.DataDir)
		ui.PrintFields(out, []ui.Field{
			{Name: "   Database", Value: a.cfg.DBPath()},
			{Name: "   Legacy store", Value: a.cfg.LegacyDir()},
			{Name: "   Migrated", Value: migrated},
			{Name: "   Entries", Value: fmt.Sprint(len(a.svc.GetAllLogs()))},
		})
		return nil
	},
}

func writeDefaultConfig(out io.Writer) error {
	path := configPath
	if path == "" {
		path = filepath.Join(config.SearchPaths()[0], "mindlog.yaml")
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "%s Config already exists: %s\n", ui.RenderWarn("⚠"), path)
		return nil
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s Wrote config: %s\n", ui.RenderPass("✓"), path)
	return nil
}

func init() {
	initCmd.Flags().Bool("write-config", false, "Write a default config file")
	rootCmd.AddCommand(initCmd)
}
