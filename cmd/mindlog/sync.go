package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindlog/mindlog/internal/config"
	"github.com/mindlog/mindlog/internal/remote"
	"github.com/mindlog/mindlog/internal/remote/httpapi"
	"github.com/mindlog/mindlog/internal/remote/mongo"
	"github.com/mindlog/mindlog/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one delta sync with the cloud",
	Long: `Pull records changed since the last sync, merge them into the local
partitions (newest update wins per entry), then push local entries changed
since the last sync.

Offline or signed out, this is a no-op.

The memory remote lives only as long as one mindlog process. Each 'mindlog
sync' starts with an empty one while the sync checkpoint persists, so it only
pushes entries changed since the last sync and never pulls anything back. Use
it with 'mindlog daemon', which keeps one remote for its whole run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		out := cmd.OutOrStdout()
		if a.remote == nil {
			fmt.Fprintf(out, "%s No remote configured (remote.kind = %s)\n", ui.RenderWarn("⚠"), a.cfg.Remote.Kind)
			return nil
		}
		if _, err := a.remote.CurrentUser(cmd.Context()); err != nil {
			fmt.Fprintf(out, "%s Not signed in; run 'mindlog login' first\n", ui.RenderWarn("⚠"))
			return nil
		}

		fmt.Fprintf(out, "%s Syncing...\n", ui.RenderAccent("🔄"))
		start := time.Now()
		before := a.svc.LastSyncAt()
		if err := a.svc.SyncWithCloud(cmd.Context()); err != nil {
			return err
		}
		if err := a.svc.Flush(cmd.Context()); err != nil {
			return err
		}

		result := a.svc.LastSyncResult()
		if result == nil || !a.svc.LastSyncAt().After(before) {
			fmt.Fprintf(out, "%s Sync did not complete; see the log for details\n", ui.RenderWarn("⚠"))
			return nil
		}

		fmt.Fprintf(out, "%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		merged := make([]string, len(result.Merged))
		for i, p := range result.Merged {
			merged[i] = string(p)
		}
		ui.PrintFields(out, []ui.Field{
			{Name: "   Pulled", Value: fmt.Sprint(result.Pulled)},
			{Name: "   Pushed", Value: fmt.Sprint(result.Pushed)},
			{Name: "   Failed", Value: fmt.Sprint(result.PushFailed)},
			{Name: "   Merged", Value: orNone(strings.Join(merged, ", "))},
		})
		return nil
	},
}

var globalSyncCmd = &cobra.Command{
	Use:     "global-sync",
	GroupID: "sync",
	Short:   "Pull the profile and stats documents from the cloud",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		data, err := a.svc.SyncGlobalData(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if data == nil {
			fmt.Fprintf(out, "%s Nothing pulled (offline or signed out)\n", ui.RenderWarn("⚠"))
			return nil
		}
		fmt.Fprintf(out, "%s Pulled global data\n", ui.RenderPass("✓"))
		ui.PrintFields(out, []ui.Field{
			{Name: "   Profile", Value: presence(data.Profile)},
			{Name: "   Stats", Value: presence(data.Stats)},
		})
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show storage and sync status",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		dbSize := "not created"
		if a.cfg.Storage.Engine == config.EngineNone {
			dbSize = "disabled"
		} else if info, err := os.Stat(a.cfg.DBPath()); err == nil {
			dbSize = ui.HumanSize(info.Size())
		}

		account := "signed out"
		switch {
		case a.remote == nil:
			account = "no remote"
		default:
			if user, err := a.remote.CurrentUser(cmd.Context()); err == nil {
				account = user.ID
				if user.Email != "" {
					account += " <" + user.Email + ">"
				}
			}
		}

		total := len(a.svc.GetAllLogs())
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "\n%s mindlog status\n\n", ui.RenderAccent("📊"))
		ui.PrintFields(out, []ui.Field{
			{Name: "Data dir", Value: a.cfg.DataDir},
			{Name: "Config", Value: orNone(a.cfg.Source)},
			{Name: "State", Value: a.svc.State().String()},
			{Name: "Database", Value: a.cfg.DBPath() + " (" + dbSize + ")"},
			{Name: "Entries", Value: fmt.Sprint(total)},
			{Name: "Remote", Value: a.cfg.Remote.Kind},
			{Name: "Account", Value: account},
			{Name: "Last sync", Value: ui.Ago(a.svc.LastSyncAt(), time.Now())},
		})
		fmt.Fprintln(out)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "sync",
	Short:   "Sign in to the cloud backend",
	Long: `Sign in to the configured remote.

The http remote takes a JWT issued by the server (--token); the session is
kept locally until it expires or you log out. The mongo remote takes the
owner id to file records under (--owner).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		owner, _ := cmd.Flags().GetString("owner")
		verify, _ := cmd.Flags().GetBool("verify")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		var user remote.User
		switch r := a.remote.(type) {
		case *httpapi.Client:
			if token == "" {
				return errors.New("--token is required for the http remote")
			}
			if user, err = r.SignIn(token); err != nil {
				return err
			}
			if verify {
				ctx, cancel := remote.WithTimeout(cmd.Context(), a.cfg.Remote.Timeout)
				defer cancel()
				if user, err = r.Verify(ctx); err != nil {
					return fmt.Errorf("server rejected the session: %w", err)
				}
			}
		case *mongo.Store:
			if owner == "" {
				return errors.New("--owner is required for the mongo remote")
			}
			if user, err = r.SignIn(owner); err != nil {
				return err
			}
		case nil:
			return errors.New("no remote configured; set remote.kind")
		default:
			return fmt.Errorf("the %s remote does not support login", a.cfg.Remote.Kind)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s Signed in as %s\n", ui.RenderPass("✓"), user.ID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "sync",
	Short:   "Sign out of the cloud backend",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		if a.remote == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No remote configured.")
			return nil
		}
		ctx, cancel := remote.WithTimeout(cmd.Context(), a.cfg.Remote.Timeout)
		defer cancel()
		if err := a.remote.SignOut(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Signed out\n", ui.RenderPass("✓"))
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:     "reset",
	GroupID: "maint",
	Short:   "Sign out and delete all local data",
	Long: `Sign out of the remote and wipe every local copy: the database, the
legacy store (entries, profile, stats, flags and the sync checkpoint) and the
cache. Remote records are kept and come back on the next sync after login.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			ok, err := confirm("Delete all local data?", "This signs you out and cannot be undone.")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		a.svc.ClearAllData(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "%s All local data deleted\n", ui.RenderPass("✓"))
		return nil
	},
}

func presence(doc json.RawMessage) string {
	if len(doc) == 0 {
		return "none"
	}
	return ui.HumanSize(int64(len(doc)))
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func init() {
	loginCmd.Flags().String("token", "", "Session token (http remote)")
	loginCmd.Flags().String("owner", "", "Owner id (mongo remote)")
	loginCmd.Flags().Bool("verify", false, "Confirm the session with the server (http remote)")
	resetCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(syncCmd, globalSyncCmd, statusCmd, loginCmd, logoutCmd, resetCmd)
}
