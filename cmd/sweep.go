package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/openfleet/bikesweep/internal/crawl"
	"github.com/openfleet/bikesweep/internal/export"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Crawl the configured grid and export per-brand CSVs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate(); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		exporter, err := export.New(cfg.Export)
		if err != nil {
			return err
		}

		coordinator, err := crawl.New(cfg, st, crawl.NewClient(cfg.Provider), exporter)
		if err != nil {
			return err
		}

		if err := coordinator.Run(ctx); err != nil {
			return eris.Wrap(err, "sweep")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
