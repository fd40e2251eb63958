package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mindlog/mindlog/internal/logstore/daemon"
	"github.com/mindlog/mindlog/internal/logstore/dashboard"
	"github.com/mindlog/mindlog/internal/remote"
	"github.com/mindlog/mindlog/internal/service"
	"github.com/mindlog/mindlog/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Run a delta sync and pull the profile and stats documents on start
  2. Repeat both every sync.interval
  3. Watch the profile and stats files in the legacy store and publish
     local edits once they have been quiet for sync.debounce

With --dashboard the live change feed is served as well.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		d, err := daemon.New(a.svc, a.cfg.LegacyDir(),
			daemon.DocumentFiles(a.legacy, remote.DocProfile, remote.DocStats),
			&daemon.Config{
				SyncInterval:     a.cfg.Sync.Interval,
				DebounceInterval: a.cfg.Sync.Debounce,
				Logger:           logs.New("daemon"),
			})
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		out := cmd.OutOrStdout()
		if withDashboard {
			server, detach, err := startDashboard(a.svc, a.cfg.Dashboard.Host, a.cfg.Dashboard.Port)
			if err != nil {
				return err
			}
			defer func() {
				detach()
				if err := server.Stop(); err != nil {
					logs.New("dashboard").Printf("Error during shutdown: %v", err)
				}
			}()
			fmt.Fprintf(out, "   Dashboard: ws://%s/ws\n", server.GetAddr())
		}

		fmt.Fprintf(out, "%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Fprintf(out, "   Watching: %s\n", a.cfg.LegacyDir())
		fmt.Fprintf(out, "   Interval: %v\n", a.cfg.Sync.Interval)
		fmt.Fprintf(out, "\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			return fmt.Errorf("daemon stopped with error: %w", err)
		}
		stats := d.Stats()
		fmt.Fprintf(out, "Daemon stopped after %d syncs, %d documents published\n", stats.Syncs, stats.Published)
		return nil
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Serve the live change feed over WebSocket",
	Long: `Start a WebSocket server that streams journal changes in real time.

Messages:
- entry: an entry was saved or updated
- cleared: partitions were cleared
- synced: partitions were rewritten by a sync or import
- document: the profile or stats document changed
- stats: entry counts after any change (also sent on connect)

HTTP endpoints: /health, /api/logs[?partition=module1], /api/stats.

Example usage:
  mindlog dashboard                  # port from dashboard.port (8080)
  mindlog dashboard --port 9000

Connect with a WebSocket client:
  ws://localhost:8080/ws

The feed only sees changes made by this process; run 'mindlog daemon
--dashboard' to include changes pulled by periodic syncs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		port := cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		server, detach, err := startDashboard(a.svc, a.cfg.Dashboard.Host, port)
		if err != nil {
			return err
		}
		defer detach()

		out := cmd.OutOrStdout()
		addr := server.GetAddr()
		fmt.Fprintf(out, "Dashboard server started on http://%s\n", addr)
		fmt.Fprintf(out, "WebSocket endpoint: ws://%s/ws\n", addr)
		fmt.Fprintf(out, "Health check: http://%s/health\n", addr)
		fmt.Fprintln(out, "\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Fprintln(out, "\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}
		fmt.Fprintln(out, "Dashboard server stopped")
		return nil
	},
}

// startDashboard serves svc's change feed and returns the running server
// and the function that unsubscribes it from svc.
func startDashboard(svc *service.Service, host string, port int) (*dashboard.Server, func(), error) {
	logger := logs.New("dashboard")
	server := dashboard.NewServer(svc, &dashboard.Config{
		Host:   host,
		Port:   port,
		Logger: logger,
	})
	if err := server.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start dashboard: %w", err)
	}
	detach := dashboard.NewHandler(server, logger).Attach(svc)
	return server, detach, nil
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Also serve the live change feed")
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on (overrides dashboard.port)")

	rootCmd.AddCommand(daemonCmd, dashboardCmd)
}
