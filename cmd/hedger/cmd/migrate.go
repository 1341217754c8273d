package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wakala/hedger/internal/logger"
	"github.com/wakala/hedger/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := repository.InitDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("init db: %w", err)
		}
		defer db.Close()
		logger.L.Info("schema up to date", "db", cfg.DBPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
