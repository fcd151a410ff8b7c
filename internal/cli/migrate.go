package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/sandeepkv93/session-guard/internal/config"
	"github.com/sandeepkv93/session-guard/internal/repository"
)

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, closeDB, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer closeDB()
			err = repository.Migrate(db)
			if opts.ci {
				PrintCIResult(cmd.OutOrStdout(), err == nil, "migrate", nil, err)
			} else if err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			}
			return err
		},
	}
}

func openDatabase(cfg *config.Config) (*gorm.DB, func(), error) {
	db, err := repository.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return db, func() {
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				fmt.Fprintln(os.Stderr, "close database:", err)
			}
		}
	}, nil
}
