package ctxdb

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

var (
	ErrNoDB = fmt.Errorf("ctxdb: no db found in context")
)

// context registration

var dbKey int

func WithDB(ctx context.Context, db *sql.DB) context.Context {
	return context.WithValue(ctx, &dbKey, db)
}

func GetDB(ctx context.Context) *sql.DB {
	if v := ctx.Value(&dbKey); v != nil {
		return v.(*sql.DB)
	}

	return nil
}

// transactions

type TxFunc func(ctx context.Context, tx *sql.Tx) error

func UsingTx(ctx context.Context, opts *sql.TxOptions, fn TxFunc) error {
	db := GetDB(ctx)
	if db == nil {
		return ErrNoDB
	}

	return UsingTxOn(ctx, db, opts, fn)
}

func UsingTxOn(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFunc) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}

// IsBusy reports whether err is SQLite refusing a write because another
// connection holds the lock.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}

	s := err.Error()

	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

// RetryBusy runs fn until it succeeds, fails with something other than a
// busy error, or runs out of attempts.
func RetryBusy(ctx context.Context, attempts int, fn func() error) error {
	for {
		attempts--

		err := fn()
		if err == nil || !IsBusy(err) || attempts <= 0 {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(rand.Int63n(int64(time.Millisecond) * 500))):
		}
	}
}

// middleware

func Register(db *sql.DB) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithDB(r.Context(), db)))
	}
}
