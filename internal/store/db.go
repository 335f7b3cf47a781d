package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps split read/write bun connections over the on-device sqlite file.
// A single write connection with _txlock=immediate keeps writer contention
// deterministic; reads go through a small pool.
type DB struct {
	W *bun.DB
	R *bun.DB

	wsql *sql.DB
	rsql *sql.DB
}

func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	writeDSN := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", path)
	readDSN := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)

	wsql, err := sql.Open("sqlite3", writeDSN)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	wsql.SetMaxOpenConns(1)
	wsql.SetConnMaxLifetime(15 * time.Minute)

	rsql, err := sql.Open("sqlite3", readDSN)
	if err != nil {
		wsql.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	rsql.SetMaxOpenConns(4)
	rsql.SetConnMaxIdleTime(5 * time.Minute)

	return &DB{
		W:    bun.NewDB(wsql, sqlitedialect.New()),
		R:    bun.NewDB(rsql, sqlitedialect.New()),
		wsql: wsql,
		rsql: rsql,
	}, nil
}

func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	werr := db.W.Close()
	rerr := db.R.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// WithWriteTx runs fn in an explicit write transaction.
func (db *DB) WithWriteTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return db.W.RunInTx(ctx, &sql.TxOptions{}, fn)
}

// WithReadTx runs fn in a read-only transaction.
func (db *DB) WithReadTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return db.R.RunInTx(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

// NowMillis is the single clock used for local timestamps. Server timestamps
// always arrive as epoch milliseconds, so the store speaks millis everywhere.
func NowMillis() int64 { return time.Now().UnixMilli() }
