// The initialization package contains functions that set up required
// dependencies such as the SQLite database, the migrations, the task queue
// and the instance-level actor.
package initialization

import (
	"context"
	"database/sql"
	"time"

	"github.com/golang-migrate/migrate"
	"github.com/golang-migrate/migrate/database/sqlite3"
	_ "github.com/golang-migrate/migrate/source/file"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mikestefanello/backlite"
	"github.com/rs/zerolog/log"

	"github.com/atolldev/atoll/internal/actors"
)

func OpenDB(connString string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", connString)
	if err != nil {
		log.Error().Err(err).Str("connection string", connString).Msg("failed to open database")
	}
	return db, err
}

// SetupDB applies all remaining migrations. Already being up to date is not
// an error.
func SetupDB(db *sql.DB, folder, dbname string) error {
	log.Info().Msg("starting migrations")
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		log.Error().Err(err).Msg("failed to create sqlite3 migration driver")
		return err
	}

	mig, err := migrate.NewWithDatabaseInstance(
		"file://"+folder,
		dbname,
		driver,
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to create Migrate object")
		return err
	}

	if err = mig.Up(); err != nil && err != migrate.ErrNoChange {
		log.Error().Err(err).Msg("failed to run migrations")
		return err
	}
	return nil
}

// InitQueue opens the task-queue client over the application database and
// installs its schema.
func InitQueue(db *sql.DB) (*backlite.Client, error) {
	client, err := backlite.NewClient(backlite.ClientConfig{
		DB:              db,
		NumWorkers:      2,
		ReleaseAfter:    10 * time.Minute,
		CleanupInterval: time.Hour,
	})
	if err != nil {
		return nil, err
	}
	if err = client.Install(); err != nil {
		return nil, err
	}
	return client, nil
}

// EnsureInstanceActor creates the instance-level actor and its keypair on
// first boot.
func EnsureInstanceActor(ctx context.Context, registry *actors.Registry, keys *actors.KeyManager) error {
	actor, err := registry.FindOrCreateInstanceActor(ctx)
	if err != nil {
		return err
	}
	if _, err = keys.EnsureForActor(ctx, actor); err != nil {
		return err
	}
	log.Info().Str("actor", actor.ActorURI).Msg("instance actor ready")
	return nil
}
