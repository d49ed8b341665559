package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-x10/internal/bridge"
	"github.com/nerrad567/gray-logic-x10/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-x10/migrations"
)

func newMigrateCmd(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), configPath(), func(ctx context.Context, db *database.DB) error {
					if err := db.Migrate(ctx, migrations.FS); err != nil {
						return err
					}
					return printMigrationStatus(ctx, db, cmd.OutOrStdout())
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), configPath(), func(ctx context.Context, db *database.DB) error {
					if err := db.MigrateDown(ctx, migrations.FS); err != nil {
						return err
					}
					return printMigrationStatus(ctx, db, cmd.OutOrStdout())
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd.Context(), configPath(), func(ctx context.Context, db *database.DB) error {
					return printMigrationStatus(ctx, db, cmd.OutOrStdout())
				})
			},
		},
	)
	return cmd
}

func newAddressesCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "addresses",
		Short: "List X10 addresses seen on the powerline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd.Context(), configPath(), func(ctx context.Context, db *database.DB) error {
				if err := db.Migrate(ctx, migrations.FS); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
				seen, err := bridge.NewAddressRecorder(db.DB).Addresses(ctx)
				if err != nil {
					return fmt.Errorf("listing addresses: %w", err)
				}
				return printAddresses(cmd.OutOrStdout(), seen)
			})
		},
	}
}

// withDatabase opens the configured database for the duration of fn.
func withDatabase(ctx context.Context, configPath string, fn func(context.Context, *database.DB) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	return fn(ctx, db)
}

func printMigrationStatus(ctx context.Context, db *database.DB, out io.Writer) error {
	applied, pending, err := db.GetMigrationStatus(ctx, migrations.FS)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED")
	for _, m := range applied {
		fmt.Fprintf(w, "%s\tapplied\t%s\n", m.Version, m.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(w, "%s\tpending\t-\n", m.Version)
	}
	return w.Flush()
}

func printAddresses(out io.Writer, seen []bridge.SeenAddress) error {
	if len(seen) == 0 {
		_, err := fmt.Fprintln(out, "no addresses recorded")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tMESSAGES\tLAST FUNCTION\tLAST SEEN\tFIRST SEEN")
	for _, s := range seen {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			s.Address, s.MessageCount, s.LastFunction,
			s.LastSeen.Format(time.RFC3339), s.FirstSeen.Format(time.RFC3339))
	}
	return w.Flush()
}
