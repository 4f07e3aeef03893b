package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ingest",
		Short:        "Ingest waiting-time scrape jobs into the store",
		SilenceUsage: true,
	}
	cmd.AddCommand(newLatestCmd())
	cmd.AddCommand(newJobCmd())
	cmd.AddCommand(newSeedCmd())
	return cmd
}

func newLatestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Ingest the most recent successful scrape job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer app.Close()

			outcome, err := app.ingestion.IngestLatestJob(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), outcome)
		},
	}
}

func newJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job <job-id>",
		Short: "Ingest one scrape job by its CI job id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer app.Close()

			outcome, err := app.ingestion.IngestJobByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), outcome)
		},
	}
}

func newSeedCmd() *cobra.Command {
	var wipe bool

	cmd := &cobra.Command{
		Use:   "seed [dir]",
		Short: "Backfill every *.json scrape document in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			if wipe && app.cfg.IsProduction() {
				return errWipeInProduction
			}

			dir := app.cfg.Ingestion.SeedDir
			if len(args) == 1 {
				dir = args[0]
			}

			batch, err := app.seeder.Seed(cmd.Context(), dir, wipe)
			if batch != nil {
				if werr := writeJSON(cmd.OutOrStdout(), batch); werr != nil && err == nil {
					err = werr
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&wipe, "wipe", false, "Delete all ingested rows before seeding (refused when APP_ENV=production)")
	return cmd
}
