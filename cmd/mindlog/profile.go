package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mindlog/mindlog/internal/remote"
	"github.com/mindlog/mindlog/internal/ui"
)

var profileCmd = &cobra.Command{
	Use:     "profile",
	GroupID: "journal",
	Short:   "Show or edit the profile document",
	Long: `The profile is a single JSON document kept beside the journal. It is
stored locally and, when signed in, published to the cloud under a fixed id
so every device sees the latest copy.`,
}

var profileSetCmd = &cobra.Command{
	Use:   "set key=value...",
	Short: "Set profile fields",
	Long: `Set one or more profile fields, keeping the others. A field set to an
empty value is removed.

Example:
  mindlog profile set name=Sam goal="sleep better" reminders=true`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parsePairs(args)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		profile := map[string]any{}
		if _, err := a.svc.LoadDocument(remote.DocProfile, &profile); err != nil {
			logs.New("profile").Printf("WARNING: replacing unreadable profile: %v", err)
			profile = map[string]any{}
		}
		for k, v := range fields {
			if v == "" {
				delete(profile, k)
				continue
			}
			profile[k] = v
		}

		if err := a.svc.SaveProfile(cmd.Context(), profile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Profile saved\n", ui.RenderPass("✓"))
		return nil
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the profile document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		var profile map[string]any
		found, err := a.svc.LoadDocument(remote.DocProfile, &profile)
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMuted("No profile. Set one with 'mindlog profile set key=value'."))
			return nil
		}

		data, err := json.MarshalIndent(profile, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileSetCmd, profileShowCmd)
	rootCmd.AddCommand(profileCmd)
}
