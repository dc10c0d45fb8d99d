package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/promptdeck/internal/config"
	"github.com/nikhilbhutani/promptdeck/internal/database"
)

var databaseURL string

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the promptdeck database schema",
	Long: `migrate applies the SQL migrations embedded in the binary.

The database URL comes from --database-url, or from DATABASE_URL / the
config file when the flag is omitted.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres connection URL")

	rootCmd.AddCommand(upCmd, downCmd, versionCmd, forceCmd)
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := resolveURL()
		if err != nil {
			return err
		}
		return database.RunMigrations(url)
	},
}

var downCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back the last migration, or the given number of steps",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := 1
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("steps must be a positive integer, got %q", args[0])
			}
			steps = n
		}
		return withMigrator(func(m *migrate.Migrate) error {
			if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("roll back %d step(s): %w", steps, err)
			}
			return printVersion(cmd, m)
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *migrate.Migrate) error {
			return printVersion(cmd, m)
		})
	},
}

var forceCmd = &cobra.Command{
	Use:   "force <version>",
	Short: "Mark the schema as clean at version after a failed migration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("version must be an integer, got %q", args[0])
		}
		return withMigrator(func(m *migrate.Migrate) error {
			if err := m.Force(v); err != nil {
				return fmt.Errorf("force version %d: %w", v, err)
			}
			return printVersion(cmd, m)
		})
	},
}

func resolveURL() (string, error) {
	if databaseURL != "" {
		return databaseURL, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	if cfg.Database.URL == "" {
		return "", errors.New("no database URL: pass --database-url or set DATABASE_URL")
	}
	return cfg.Database.URL, nil
}

func withMigrator(fn func(m *migrate.Migrate) error) error {
	url, err := resolveURL()
	if err != nil {
		return err
	}
	m, err := database.NewMigrator(url)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func printVersion(cmd *cobra.Command, m *migrate.Migrate) error {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		cmd.Println("no migrations applied")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	cmd.Printf("version %d (dirty: %t)\n", v, dirty)
	return nil
}
