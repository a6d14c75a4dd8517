package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openfleet/bikesweep/internal/export"
	"github.com/openfleet/bikesweep/internal/store"
)

// export re-serializes whatever the store currently holds, without
// crawling. Useful after an export-side failure, while the working
// database from the last sweep is still on disk.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the current store contents without crawling",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		exporter, err := export.New(cfg.Export)
		if err != nil {
			return err
		}

		startedAt := time.Now()
		for _, brand := range store.Brands {
			path, err := exporter.Export(ctx, st, brand, startedAt)
			if err != nil {
				zap.L().Error("export failed", zap.String("brand", brand), zap.Error(err))
				continue
			}
			zap.L().Info("exported", zap.String("brand", brand), zap.String("path", path))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
