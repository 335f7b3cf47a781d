package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
)

var ErrNotFound = errors.New("record not found")

// GetDraft returns the draft regardless of tombstone state.
func (db *DB) GetDraft(ctx context.Context, id string) (*DraftOrder, error) {
	d := new(DraftOrder)
	err := db.R.NewSelect().Model(d).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}
	return d, nil
}

// ListDrafts returns live drafts, newest first. Tombstoned drafts are kept in
// the table but hidden from the UI.
func (db *DB) ListDrafts(ctx context.Context) ([]DraftOrder, error) {
	var out []DraftOrder
	err := db.R.NewSelect().Model(&out).
		Where("deleted = 0").
		Order("updated_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	return out, nil
}

// PutDraft writes the record as-is (caller has already decided it wins).
func (db *DB) PutDraft(ctx context.Context, d *DraftOrder) error {
	_, err := db.W.NewInsert().Model(d).
		On("CONFLICT (id) DO UPDATE").
		Set("customer_id = EXCLUDED.customer_id").
		Set("customer_name = EXCLUDED.customer_name").
		Set("items = EXCLUDED.items").
		Set("updated_at = EXCLUDED.updated_at").
		Set("device_id = EXCLUDED.device_id").
		Set("needs_sync = EXCLUDED.needs_sync").
		Set("server_updated_at = EXCLUDED.server_updated_at").
		Set("deleted = EXCLUDED.deleted").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("put draft: %w", err)
	}
	return nil
}

// SaveLocalDraft records a UI mutation: bumps updated_at and marks the draft
// dirty for the next push.
func (db *DB) SaveLocalDraft(ctx context.Context, d *DraftOrder) error {
	d.UpdatedAt = NowMillis()
	if d.CreatedAt == 0 {
		d.CreatedAt = d.UpdatedAt
	}
	d.NeedsSync = true
	return db.PutDraft(ctx, d)
}

// TombstoneDraft soft-deletes so an out-of-order update cannot resurrect the
// record.
func (db *DB) TombstoneDraft(ctx context.Context, id string, serverTS int64) error {
	_, err := db.W.NewUpdate().Model((*DraftOrder)(nil)).
		Set("deleted = 1").
		Set("updated_at = ?", NowMillis()).
		Set("server_updated_at = CASE WHEN ? > server_updated_at THEN ? ELSE server_updated_at END", serverTS, serverTS).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tombstone draft: %w", err)
	}
	return nil
}

// DirtyDrafts returns everything awaiting a push, tombstones included.
func (db *DB) DirtyDrafts(ctx context.Context) ([]DraftOrder, error) {
	var out []DraftOrder
	err := db.R.NewSelect().Model(&out).Where("needs_sync = 1").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("dirty drafts: %w", err)
	}
	return out, nil
}

// ClearDraftDirty acknowledges a pushed draft and records the server stamp.
// The clear only applies to the version that was pushed: a draft edited while
// the push was in flight has a newer updated_at and keeps its dirty flag.
func (db *DB) ClearDraftDirty(ctx context.Context, id string, pushedAt int64) error {
	return db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewUpdate().Model((*DraftOrder)(nil)).
			Set("needs_sync = 0").
			Set("server_updated_at = CASE WHEN ? > server_updated_at THEN ? ELSE server_updated_at END", pushedAt, pushedAt).
			Where("id = ?", id).
			Where("updated_at <= ?", pushedAt).
			Exec(ctx)
		return err
	})
}
