package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/fiatescrow/coordinator/pkg/config"
	"github.com/fiatescrow/coordinator/pkg/database"
)

func newMigrateCommand() *cobra.Command {
	var configFile string
	var statusOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(configFile, statusOnly)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "coordinator.yaml", "optional YAML defaults file")
	cmd.Flags().BoolVar(&statusOnly, "status", false, "print migration status without applying anything")
	return cmd
}

func runMigrate(configFile string, statusOnly bool) error {
	logger := log.New(os.Stdout, "coordinatord: ", log.LstdFlags)

	if err := config.LoadDefaultsFile(configFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	db, err := database.NewClient(cfg, database.WithLogger(logger))
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()

	if statusOnly {
		infos, err := db.MigrationStatus(ctx)
		if err != nil {
			return err
		}
		for _, info := range infos {
			fmt.Printf("%s\tapplied=%v\n", info.Version, info.Applied)
		}
		return nil
	}

	return db.MigrateUp(ctx)
}
