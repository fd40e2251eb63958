package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mindlog/mindlog/internal/logstore/db"
	"github.com/mindlog/mindlog/internal/logstore/legacy"
	"github.com/mindlog/mindlog/internal/logstore/loadtest"
	"github.com/mindlog/mindlog/internal/service"
	"github.com/mindlog/mindlog/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "maint",
	Short:   "Measure save and read latency under concurrent load",
	Long: `Run a concurrent workload against a scratch journal: writer goroutines
call SaveLog while reader goroutines read the merged view. Reports latency
percentiles for both, then checks the result has every entry exactly once,
newest first.

The scratch journal lives in a temporary directory and is removed
afterwards; your own data is never touched.

Examples:
  mindlog bench
  mindlog bench --writers 32 --readers 32 --ops 500
  mindlog bench --no-db --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		writers, _ := cmd.Flags().GetInt("writers")
		readers, _ := cmd.Flags().GetInt("readers")
		ops, _ := cmd.Flags().GetInt("ops")
		seed, _ := cmd.Flags().GetInt64("seed")
		noDB, _ := cmd.Flags().GetBool("no-db")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		if writers <= 0 || readers < 0 || ops <= 0 {
			return errors.New("--writers and --ops must be positive, --readers not negative")
		}

		dir, err := os.MkdirTemp("", "mindlog-bench-*")
		if err != nil {
			return fmt.Errorf("failed to create scratch directory: %w", err)
		}
		defer os.RemoveAll(dir)

		kv, err := legacy.NewFileKV(filepath.Join(dir, "legacy"))
		if err != nil {
			return err
		}
		logger := logs.New("bench")
		store := db.Unavailable(errors.New("disabled with --no-db"))
		if !noDB {
			store = db.New(filepath.Join(dir, "bench.db"), logger)
		}
		defer store.Close()

		svc := service.New(service.Options{
			Store:  store,
			Legacy: legacy.New(kv, legacy.DefaultPrefix, logger),
			Logger: logger,
		})
		defer svc.Close()
		if err := svc.Init(cmd.Context()); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !jsonOutput {
			fmt.Fprintf(out, "%s Running %d writers x %d ops, %d readers...\n\n",
				ui.RenderAccent("⏱"), writers, ops, readers)
		}

		report, err := loadtest.Run(cmd.Context(), svc, loadtest.Config{
			Writers:      writers,
			Readers:      readers,
			OpsPerWorker: ops,
			Seed:         seed,
		})
		if err != nil {
			return err
		}
		verifyErr := loadtest.Verify(svc, writers*ops)

		if jsonOutput {
			report.Save.Durations = nil
			report.Read.Durations = nil
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			return verifyErr
		}

		report.Print(out)
		fmt.Fprintln(out)
		if verifyErr != nil {
			fmt.Fprintf(out, "%s Verification failed: %v\n", ui.RenderFail("✗"), verifyErr)
			return verifyErr
		}
		fmt.Fprintf(out, "%s Verified %d entries\n", ui.RenderPass("✓"), report.Saved)
		return nil
	},
}

func init() {
	benchCmd.Flags().Int("writers", 8, "Goroutines calling SaveLog")
	benchCmd.Flags().Int("readers", 8, "Goroutines reading the merged view")
	benchCmd.Flags().Int("ops", 200, "Operations per goroutine")
	benchCmd.Flags().Int64("seed", 42, "Payload generator seed")
	benchCmd.Flags().Bool("no-db", false, "Run without the SQLite store (legacy mirror only)")
	benchCmd.Flags().Bool("json", false, "Output the report as JSON")

	rootCmd.AddCommand(benchCmd)
}
