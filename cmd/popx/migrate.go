package main

import (
	"github.com/popxhq/popx"
	"github.com/popxhq/popx/repository"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the session store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(nil).GetLogger("migrate")

			if dsn == "" {
				cfg := &popx.Config{}
				if err := popx.ParseEnv(cfg); err != nil {
					return err
				}
				dsn = cfg.DatabaseDSN
			}

			repo, err := repository.Open(dsn)
			if err != nil {
				return err
			}
			defer repo.Close()

			applied, err := repo.Migrate(cmd.Context(), popx.MigrationsFS())
			if err != nil {
				return err
			}

			if len(applied) == 0 {
				logger.Info("database is up to date", "dsn", dsn)
				return nil
			}
			logger.Info("applied migrations", "dsn", dsn, "versions", applied)
			return nil
		},
	}

	cmd.Flags().StringVar(&dsn, "dsn", "", "sqlite DSN, defaults to POPX_DB_DSN")
	return cmd
}
