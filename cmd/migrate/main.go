package main

import (
	"database/sql"
	"log"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose"
	"github.com/spf13/cobra"

	"github.com/SirClappington/edgeq/internal/config"
)

func main() {
	cfg := config.Load()

	var dsn, dir string
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply edgeq database migrations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", cfg.PostgresDSN, "postgres connection string (POSTGRES_DSN)")
	root.PersistentFlags().StringVar(&dir, "dir", cfg.MigrationsDir, "migrations directory (MIGRATIONS_DIR)")

	root.AddCommand(
		gooseCommand("up", "Migrate to the most recent version", &dsn, &dir, goose.Up),
		gooseCommand("down", "Roll back the latest migration", &dsn, &dir, goose.Down),
		gooseCommand("status", "Print the status of every migration", &dsn, &dir, goose.Status),
	)

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func gooseCommand(use, short string, dsn, dir *string, fn func(*sql.DB, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := open(*dsn)
			if err != nil {
				return err
			}
			defer db.Close()
			return errors.Wrapf(fn(db, *dir), "migrate %s", use)
		},
	}
}

func open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("no database configured: set POSTGRES_DSN or --dsn")
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	return db, nil
}
