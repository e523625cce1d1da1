package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the invoice tables and the artifact table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		// Database artifact stores migrate on open.
		reg, err := initRegistry(ctx)
		if err != nil {
			return err
		}
		defer reg.Close() //nolint:errcheck

		zap.L().Info("migrations complete",
			zap.String("store", cfg.Store.Driver),
			zap.String("artifacts", cfg.Artifacts.Driver),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
