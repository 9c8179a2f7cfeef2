package server

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies database migrations from the given source directory.
// dir example: file://migrations
func Migrate(dir string, dsn string, direction string, steps int) error {
	if dir == "" {
		dir = "file://migrations"
	}
	m, err := migrate.New(dir, dsn)
	if err != nil {
		return err
	}
	run := func(err error) error {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return err
	}
	switch direction {
	case "up":
		if steps > 0 {
			return run(m.Steps(steps))
		}
		return run(m.Up())
	case "down":
		if steps > 0 {
			return run(m.Steps(-steps))
		}
		return run(m.Down())
	default:
		return fmt.Errorf("unknown direction: %s", direction)
	}
}
