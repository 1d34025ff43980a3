package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

func newRecordsCommand(ctx *commandContext) *cobra.Command {
	recordsCmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect finalized records",
	}
	recordsCmd.AddCommand(newRecordsListCommand(ctx))
	return recordsCmd
}

func newRecordsListCommand(ctx *commandContext) *cobra.Command {
	var (
		contributor string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(st *store.Store) error {
				var (
					records []store.Record
					err     error
				)
				if contributor != "" {
					records, err = st.ListRecords(cmd.Context(), contributor)
				} else {
					records, err = st.ListRecentRecords(cmd.Context(), limit)
				}
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(records))
				for _, r := range records {
					rows = append(rows, []string{
						r.ID,
						r.ContributorKey,
						r.FormType,
						r.CreatedAt.Local().Format(stampLayout),
						r.FollowUpStatus,
						strconv.Itoa(r.Content.AnsweredCount()),
					})
				}
				writeTable(cmd.OutOrStdout(), []string{"ID", "CONTRIBUTOR", "FORM", "CREATED", "FOLLOW-UPS", "ANSWERED"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&contributor, "contributor", "", "Only list records of this contributor key")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum records to list")
	return cmd
}
