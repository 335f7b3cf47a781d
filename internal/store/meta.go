package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StaleAfter is how old a cached entity family may get before the UI shows a
// staleness warning.
const StaleAfter = 72 * time.Hour

func (db *DB) TouchMeta(ctx context.Context, key string, recordCount int, version string) error {
	m := &CacheMeta{Key: key, LastSynced: NowMillis(), RecordCount: recordCount, Version: version}
	_, err := db.W.NewInsert().Model(m).
		On("CONFLICT (key) DO UPDATE").
		Set("last_synced = EXCLUDED.last_synced").
		Set("record_count = EXCLUDED.record_count").
		Set("version = EXCLUDED.version").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("touch meta: %w", err)
	}
	return nil
}

func (db *DB) Meta(ctx context.Context, key string) (*CacheMeta, error) {
	m := new(CacheMeta)
	err := db.R.NewSelect().Model(m).Where("key = ?", key).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("meta: %w", err)
	}
	return m, nil
}

// IsStale reports whether the family was last synced more than StaleAfter
// ago. A family never synced is stale.
func (db *DB) IsStale(ctx context.Context, key string) (bool, error) {
	m, err := db.Meta(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	age := time.Duration(NowMillis()-m.LastSynced) * time.Millisecond
	return age > StaleAfter, nil
}

// DeviceID loads the stable per-install id, generating and persisting one on
// first run.
func (db *DB) DeviceID(ctx context.Context) (string, error) {
	var id string
	err := db.R.NewRaw(`SELECT device_id FROM device_identity LIMIT 1`).Scan(ctx, &id)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("load device id: %w", err)
	}
	id = uuid.NewString()
	if _, err := db.W.ExecContext(ctx, `INSERT INTO device_identity (device_id) VALUES (?)`, id); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}

// EnqueueMirror records a remote-mirror call before the fire-and-forget
// attempt so an offline window cannot lose it.
func (db *DB) EnqueueMirror(ctx context.Context, op string, payload []byte) (int64, error) {
	m := &MirrorOp{Op: op, Payload: payload, EnqueuedAt: NowMillis()}
	if _, err := db.W.NewInsert().Model(m).Exec(ctx); err != nil {
		return 0, fmt.Errorf("enqueue mirror: %w", err)
	}
	return m.ID, nil
}

func (db *DB) PendingMirrors(ctx context.Context, limit int) ([]MirrorOp, error) {
	var out []MirrorOp
	err := db.R.NewSelect().Model(&out).Order("id").Limit(limit).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("pending mirrors: %w", err)
	}
	return out, nil
}

func (db *DB) DeleteMirror(ctx context.Context, id int64) error {
	_, err := db.W.NewDelete().Model((*MirrorOp)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}
