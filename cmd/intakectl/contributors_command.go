package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/keys"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

func newContributorsCommand(ctx *commandContext) *cobra.Command {
	contributorsCmd := &cobra.Command{
		Use:   "contributors",
		Short: "Manage contributor accounts",
	}
	contributorsCmd.AddCommand(newContributorsListCommand(ctx))
	contributorsCmd.AddCommand(newContributorsRoleCommand(ctx, "promote", store.RoleAdmin))
	contributorsCmd.AddCommand(newContributorsRoleCommand(ctx, "demote", store.RoleContributor))
	return contributorsCmd
}

func newContributorsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List contributors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(st *store.Store) error {
				contributors, err := st.ListContributors(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(contributors))
				for _, c := range contributors {
					rows = append(rows, []string{
						c.Key,
						c.DisplayName,
						c.Role,
						strconv.Itoa(c.LastOrdinal),
						c.CreatedAt.Local().Format(stampLayout),
					})
				}
				writeTable(cmd.OutOrStdout(), []string{"KEY", "NAME", "ROLE", "LAST ORDINAL", "CREATED"}, rows)
				return nil
			})
		},
	}
}

func newContributorsRoleCommand(ctx *commandContext, use, role string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name-or-key>",
		Short: fmt.Sprintf("Set a contributor's role to %s", role),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := keys.ContributorKey(args[0])
			return ctx.withStore(cmd.Context(), func(st *store.Store) error {
				if err := st.SetContributorRole(cmd.Context(), key, role); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", key, role)
				return nil
			})
		},
	}
}
