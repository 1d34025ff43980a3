package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and change runtime settings",
	}
	settingsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(st *store.Store) error {
				settings, err := st.ListSettings(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(settings))
				for _, s := range settings {
					rows = append(rows, []string{s.Key, s.Value, s.UpdatedAt.Local().Format(stampLayout)})
				}
				writeTable(cmd.OutOrStdout(), []string{"KEY", "VALUE", "UPDATED"}, rows)
				return nil
			})
		},
	})
	settingsCmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(st *store.Store) error {
				value, ok, err := st.GetSetting(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("setting %q is not set", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})
		},
	})
	settingsCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], strings.TrimSpace(args[1])
			if key != store.SettingTranscriptionModelSize {
				return fmt.Errorf("unknown setting %q", key)
			}
			if value == "" {
				return fmt.Errorf("value must not be blank")
			}
			return ctx.withStore(cmd.Context(), func(st *store.Store) error {
				if err := st.SetSetting(cmd.Context(), key, value); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, value)
				return nil
			})
		},
	})
	return settingsCmd
}
