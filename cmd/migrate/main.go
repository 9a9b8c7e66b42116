// migrate runs the embedded SQL migrations against DATABASE_URL: migrate up | down | version.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"authsession/backend/internal/config"
	"authsession/backend/internal/db/migrate"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

// NewRootCmd creates the migrate command and its subcommands.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the accounts database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newDirectionCmd("up", "Apply all pending migrations"))
	cmd.AddCommand(newDirectionCmd("down", "Roll back all migrations"))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func databaseURL() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if cfg.DatabaseURL == "" {
		return "", oops.Code("CONFIG_INVALID").Errorf("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	return cfg.DatabaseURL, nil
}

func newDirectionCmd(direction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   direction,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, err := databaseURL()
			if err != nil {
				return err
			}
			if err := migrate.Run(dsn, direction); err != nil {
				return oops.Code("MIGRATION_FAILED").With("direction", direction).Wrap(err)
			}
			cmd.Printf("migrations %s: done\n", direction)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, err := databaseURL()
			if err != nil {
				return err
			}
			v, dirty, err := migrate.Version(dsn)
			if errors.Is(err, migrate.ErrNilVersion) {
				cmd.Println("no migrations applied")
				return nil
			}
			if err != nil {
				return oops.Code("MIGRATION_VERSION_FAILED").Wrap(err)
			}
			if dirty {
				cmd.Printf("version %d (dirty)\n", v)
				return nil
			}
			cmd.Printf("version %d\n", v)
			return nil
		},
	}
}
