package cli

import (
	"github.com/rpggio/tally/internal/domain/journal"
	"github.com/spf13/cobra"
)

func newCountsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "counts <project-id>",
		Short: "Print a project's derived counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			summary, err := a.Counts.Summarize(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
}

func newJournalCommand(opts *rootOptions) *cobra.Command {
	var (
		projectID     string
		correlationID string
		limit         int
	)
	cmd := &cobra.Command{
		Use:   "journal [entity-id]",
		Short: "Print the recorded write phases, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			listOpts := journal.ListOptions{
				ProjectID:     projectID,
				CorrelationID: correlationID,
				Limit:         limit,
			}
			if len(args) == 1 {
				listOpts.EntityID = args[0]
			}
			entries, err := a.Journal.List(cmd.Context(), listOpts)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []journal.Entry{}
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "only entries for this project")
	cmd.Flags().StringVar(&correlationID, "correlation", "", "only entries for this correlation id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
	return cmd
}

func newAPIKeyCommand(opts *rootOptions) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "apikey <token> <user-id>",
		Short: "Register an API key for a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			if err := a.APIKeys.Create(cmd.Context(), args[0], args[1], description); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"userId": args[1]})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "note stored with the key")
	return cmd
}
