package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (db *DB) GetPending(ctx context.Context, id string) (*PendingOrder, error) {
	p := new(PendingOrder)
	err := db.R.NewSelect().Model(p).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending: %w", err)
	}
	return p, nil
}

func (db *DB) ListPendings(ctx context.Context) ([]PendingOrder, error) {
	var out []PendingOrder
	err := db.R.NewSelect().Model(&out).Order("updated_at DESC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pendings: %w", err)
	}
	return out, nil
}

func (db *DB) PutPending(ctx context.Context, p *PendingOrder) error {
	_, err := db.W.NewInsert().Model(p).
		On("CONFLICT (id) DO UPDATE").
		Set("customer_id = EXCLUDED.customer_id").
		Set("customer_name = EXCLUDED.customer_name").
		Set("items = EXCLUDED.items").
		Set("status = EXCLUDED.status").
		Set("discount_percent = EXCLUDED.discount_percent").
		Set("target_total_with_vat = EXCLUDED.target_total_with_vat").
		Set("retry_count = EXCLUDED.retry_count").
		Set("error_message = EXCLUDED.error_message").
		Set("updated_at = EXCLUDED.updated_at").
		Set("device_id = EXCLUDED.device_id").
		Set("needs_sync = EXCLUDED.needs_sync").
		Set("server_updated_at = EXCLUDED.server_updated_at").
		Set("job_id = EXCLUDED.job_id").
		Set("job_status = EXCLUDED.job_status").
		Set("job_progress = EXCLUDED.job_progress").
		Set("job_order_id = EXCLUDED.job_order_id").
		Set("origin_draft_id = EXCLUDED.origin_draft_id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("put pending: %w", err)
	}
	return nil
}

func (db *DB) SaveLocalPending(ctx context.Context, p *PendingOrder) error {
	p.UpdatedAt = NowMillis()
	if p.CreatedAt == 0 {
		p.CreatedAt = p.UpdatedAt
	}
	p.NeedsSync = true
	return db.PutPending(ctx, p)
}

// DeletePending removes the record physically. Pending orders are short-lived
// and declared DeleteHard, unlike drafts.
func (db *DB) DeletePending(ctx context.Context, id string) error {
	_, err := db.W.NewDelete().Model((*PendingOrder)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete pending: %w", err)
	}
	return nil
}

// UpdateJob applies a bot job-state change without touching the dirty flag;
// job state originates server-side and is never pushed back.
func (db *DB) UpdateJob(ctx context.Context, id string, status JobStatus, progress int, jobOrderID, errMsg string) error {
	q := db.W.NewUpdate().Model((*PendingOrder)(nil)).
		Set("job_status = ?", status).
		Set("job_progress = ?", progress).
		Set("updated_at = ?", NowMillis()).
		Where("id = ?", id)
	if jobOrderID != "" {
		q = q.Set("job_order_id = ?", jobOrderID)
	}
	if errMsg != "" {
		q = q.Set("error_message = ?", errMsg).Set("status = ?", PendingStatusError)
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// DirtyPendings returns pending orders awaiting a push.
func (db *DB) DirtyPendings(ctx context.Context) ([]PendingOrder, error) {
	var out []PendingOrder
	err := db.R.NewSelect().Model(&out).Where("needs_sync = 1").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("dirty pendings: %w", err)
	}
	return out, nil
}

// ClearPendingDirty acknowledges a pushed pending order. Like drafts, an
// order re-dirtied mid-push keeps its flag.
func (db *DB) ClearPendingDirty(ctx context.Context, id string, pushedAt int64) error {
	_, err := db.W.NewUpdate().Model((*PendingOrder)(nil)).
		Set("needs_sync = 0").
		Set("server_updated_at = CASE WHEN ? > server_updated_at THEN ? ELSE server_updated_at END", pushedAt, pushedAt).
		Where("id = ?", id).
		Where("updated_at <= ?", pushedAt).
		Exec(ctx)
	return err
}

// CompletedJobPendings feeds the crash-recovery sweep: jobs that reached
// completed, with or without a known remote order id.
func (db *DB) CompletedJobPendings(ctx context.Context) ([]PendingOrder, error) {
	var out []PendingOrder
	err := db.R.NewSelect().Model(&out).
		Where("job_status = ?", JobCompleted).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("completed-job pendings: %w", err)
	}
	return out, nil
}
