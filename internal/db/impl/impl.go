// Package impl implements db.DB over sqlite.
package impl

import (
	"database/sql"
	"errors"

	"github.com/atolldev/atoll/internal/config"
	"github.com/atolldev/atoll/internal/db"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

type dbImpl struct {
	Config config.Configuration
	db     *sql.DB
}

func New(cfg config.Configuration, d *sql.DB) db.DB {
	return &dbImpl{
		Config: cfg,
		db:     d,
	}
}

// handleError maps driver errors onto the db package sentinels so callers
// never have to inspect sqlite error codes themselves.
func (d *dbImpl) handleError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return db.ErrNotFound
	}

	var serr sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return db.ErrConflict
		}
	}

	log.Error().Err(err).Msg("storage error")
	return err
}

func (d *dbImpl) withTx(f func(tx *sql.Tx) error) (err error) {
	tx, err := d.db.Begin()
	if err != nil {
		return d.handleError(err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		} else if err != nil {
			_ = tx.Rollback()
		} else {
			err = d.handleError(tx.Commit())
		}
	}()

	err = f(tx)
	if err != nil {
		err = d.handleError(err)
	}
	return
}
