package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pacfleet/pacfleet/pkg/config"
	"github.com/pacfleet/pacfleet/pkg/log"
	"github.com/pacfleet/pacfleet/pkg/storage"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pacfleet-migrate",
	Short: "Apply pacfleet database migrations",
	Long: `Apply or inspect the pacfleet schema migrations. The database is
selected by the same PACFLEET_DATABASE_* environment variables the server
reads; the tool works against both the embedded and the server engine.`,
}

func init() {
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(statusCmd)
}

var upCmd = &cobra.Command{
	Use:   "up [target-version]",
	Short: "Apply pending migrations, optionally stopping at a version",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := ""
		if len(args) == 1 {
			target = args[0]
		}
		return withDriver(func(ctx context.Context, d storage.Driver) error {
			if err := storage.MigrateTo(ctx, d, target); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which migrations have been applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDriver(func(ctx context.Context, d storage.Driver) error {
			applied, err := storage.AppliedVersions(ctx, d)
			if err != nil {
				return err
			}
			for _, m := range storage.Migrations {
				state := "pending"
				if applied[m.Version] {
					state = "applied"
				}
				fmt.Printf("%-8s %s\n", m.Version, state)
			}
			return nil
		})
	},
}

func withDriver(fn func(ctx context.Context, d storage.Driver) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogStructured,
		Output:     os.Stderr,
	})

	d, err := storage.OpenDriver(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer d.Close()

	return fn(context.Background(), d)
}
