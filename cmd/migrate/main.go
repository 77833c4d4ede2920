package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"albumreviews/internal/config"
	"albumreviews/internal/logging"
)

func main() {
	if err := config.LoadEnvFiles("config/local.env", ".env"); err != nil {
		log.Fatal().Err(err).Msg("load env files")
	}

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "migrate"
	app.Usage = "Apply or roll back the album review schema."
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "postgres connection string",
			EnvVars:  []string{"DATABASE_URL"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "path",
			Value:   "migrations",
			Usage:   "directory holding the *.up.sql and *.down.sql files",
			EnvVars: []string{"MIGRATIONS_PATH"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			EnvVars: []string{"LOG_LEVEL"},
		},
	}
	app.Before = func(c *cli.Context) error {
		logging.SetGlobal(logging.New(logging.Config{Level: c.String("log-level"), Format: "text", Output: os.Stderr}))
		return nil
	}
	app.Commands = []*cli.Command{
		{
			Name:  "up",
			Usage: "apply all pending migrations",
			Action: withMigrator(func(m *migrate.Migrate, _ *cli.Context) error {
				return ignoreNoChange(m.Up())
			}),
		},
		{
			Name:      "down",
			Usage:     "roll back migrations, all of them unless --steps is given",
			ArgsUsage: " ",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "steps", Usage: "number of migrations to roll back"},
			},
			Action: withMigrator(func(m *migrate.Migrate, c *cli.Context) error {
				if steps := c.Int("steps"); steps > 0 {
					return ignoreNoChange(m.Steps(-steps))
				}
				return ignoreNoChange(m.Down())
			}),
		},
		{
			Name:  "version",
			Usage: "print the current schema version",
			Action: withMigrator(func(m *migrate.Migrate, c *cli.Context) error {
				version, dirty, err := m.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					fmt.Fprintln(c.App.Writer, "no migrations applied")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "version %d (dirty: %t)\n", version, dirty)
				return nil
			}),
		},
		{
			Name:      "force",
			Usage:     "set the schema version without running migrations, clearing the dirty flag",
			ArgsUsage: "VERSION",
			Action: withMigrator(func(m *migrate.Migrate, c *cli.Context) error {
				version, err := parseVersion(c.Args().First())
				if err != nil {
					return err
				}
				return m.Force(version)
			}),
		},
	}
	return app
}

// withMigrator opens the database and migration source for action and
// closes both afterwards.
func withMigrator(action func(*migrate.Migrate, *cli.Context) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		m, err := newMigrator(c.String("database-url"), c.String("path"))
		if err != nil {
			return err
		}
		defer func() {
			srcErr, dbErr := m.Close()
			if srcErr != nil || dbErr != nil {
				log.Warn().AnErr("source", srcErr).AnErr("database", dbErr).Msg("close migrator")
			}
		}()

		if err := action(m, c); err != nil {
			return fmt.Errorf("%s: %w", c.Command.Name, err)
		}
		log.Info().Str("command", c.Command.Name).Msg("done")
		return nil
	}
}

func newMigrator(databaseURL, dir string) (*migrate.Migrate, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create postgres driver: %w", err)
	}

	absPath, err := filepath.Abs(dir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resolve migrations path: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+filepath.ToSlash(absPath), "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = migrateLogger{logger: log.Logger}

	return m, nil
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info().Msg("no change")
		return nil
	}
	return err
}

func parseVersion(raw string) (int, error) {
	version, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || version < -1 {
		return 0, fmt.Errorf("force needs a version number, got %q", raw)
	}
	return version, nil
}

// migrateLogger adapts zerolog to migrate.Logger.
type migrateLogger struct {
	logger zerolog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Info().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool {
	return l.logger.GetLevel() <= zerolog.DebugLevel
}
