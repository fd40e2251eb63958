package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mindlog/mindlog/internal/logstore/migrate"
	"github.com/mindlog/mindlog/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export <file.jsonl>",
	GroupID: "maint",
	Short:   "Write every entry to a JSONL file",
	Long: `Write every entry, newest first, to a JSONL file (one JSON object per
line). The file is replaced atomically.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		entries := a.svc.GetAllLogs()
		if err := migrate.ExportJSONL(args[0], entries); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Exported %d entries to %s\n", ui.RenderPass("✓"), len(entries), args[0])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file.jsonl>",
	GroupID: "maint",
	Short:   "Merge entries from a JSONL file",
	Long: `Merge entries from a JSONL file into the journal. Entries are matched
by uuid and the most recently updated copy wins, so importing the same file
twice changes nothing. Lines without a uuid or a known partition are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := migrate.FromJSONL(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		accepted, err := a.svc.ImportLogs(cmd.Context(), entries)
		if err != nil {
			return err
		}
		if err := a.svc.Flush(cmd.Context()); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s Imported %d entries from %s\n", ui.RenderPass("✓"), accepted, args[0])
		if skipped := len(entries) - accepted; skipped > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "   Skipped: %d\n", skipped)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd)
}
