// Package serverstore is the dev server-of-record storage: Postgres tables
// mirroring the synced entity families, with LWW-guarded upserts so a stale
// push is answered with "skipped" instead of clobbering newer state.
package serverstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-offline-sync.git/internal/store"
	"github.com/ariefcatur/go-offline-sync.git/internal/transport"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

const schema = `
CREATE TABLE IF NOT EXISTS draft_orders (
    id            TEXT PRIMARY KEY,
    customer_id   TEXT NOT NULL DEFAULT '',
    customer_name TEXT NOT NULL DEFAULT '',
    items         JSONB NOT NULL DEFAULT '[]',
    created_at    BIGINT NOT NULL DEFAULT 0,
    updated_at    BIGINT NOT NULL DEFAULT 0,
    device_id     TEXT NOT NULL DEFAULT '',
    deleted       BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS pending_orders (
    id            TEXT PRIMARY KEY,
    customer_id   TEXT NOT NULL DEFAULT '',
    customer_name TEXT NOT NULL DEFAULT '',
    items         JSONB NOT NULL DEFAULT '[]',
    status        TEXT NOT NULL DEFAULT 'pending',
    created_at    BIGINT NOT NULL DEFAULT 0,
    updated_at    BIGINT NOT NULL DEFAULT 0,
    device_id     TEXT NOT NULL DEFAULT '',
    job_id        TEXT NOT NULL DEFAULT '',
    job_status    TEXT NOT NULL DEFAULT '',
    job_progress  INTEGER NOT NULL DEFAULT 0,
    job_order_id  TEXT NOT NULL DEFAULT '',
    origin_draft_id TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS warehouse_items (
    id                 TEXT PRIMARY KEY,
    article_code       TEXT NOT NULL DEFAULT '',
    description        TEXT NOT NULL DEFAULT '',
    quantity           INTEGER NOT NULL DEFAULT 0,
    box_name           TEXT NOT NULL DEFAULT '',
    reserved_for_order TEXT NOT NULL DEFAULT '',
    sold_in_order      TEXT NOT NULL DEFAULT '',
    customer_name      TEXT NOT NULL DEFAULT '',
    sub_client_name    TEXT NOT NULL DEFAULT '',
    uploaded_at        BIGINT NOT NULL DEFAULT 0,
    device_id          TEXT NOT NULL DEFAULT ''
);`

func (r *Repo) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.Exec(ctx, schema)
	return err
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func (r *Repo) ListDrafts(ctx context.Context) ([]store.DraftOrder, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, customer_id, customer_name, items, created_at, updated_at, device_id, deleted
	                              FROM draft_orders ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.DraftOrder
	for rows.Next() {
		var d store.DraftOrder
		var items []byte
		if err := rows.Scan(&d.ID, &d.CustomerID, &d.CustomerName, &items, &d.CreatedAt, &d.UpdatedAt, &d.DeviceID, &d.Deleted); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(items, &d.Items); err != nil {
			return nil, fmt.Errorf("decode items for draft %s: %w", d.ID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertDraft applies one pushed draft. The server clock stamps updated_at;
// a push older than the stored copy is skipped and the device keeps its
// dirty flag for a later reconciliation pass.
func (r *Repo) UpsertDraft(ctx context.Context, d store.DraftOrder) (action string, serverTS int64, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existing int64
	err = tx.QueryRow(ctx, `SELECT updated_at FROM draft_orders WHERE id=$1`, d.ID).Scan(&existing)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		action = transport.ActionCreated
	case err != nil:
		return "", 0, err
	case d.UpdatedAt <= existing:
		return transport.ActionSkipped, existing, nil
	default:
		action = transport.ActionUpdated
	}

	items, err := json.Marshal(d.Items)
	if err != nil {
		return "", 0, err
	}
	serverTS = nowMillis()
	_, err = tx.Exec(ctx, `
		INSERT INTO draft_orders (id, customer_id, customer_name, items, created_at, updated_at, device_id, deleted)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			customer_id=EXCLUDED.customer_id, customer_name=EXCLUDED.customer_name,
			items=EXCLUDED.items, updated_at=EXCLUDED.updated_at,
			device_id=EXCLUDED.device_id, deleted=EXCLUDED.deleted`,
		d.ID, d.CustomerID, d.CustomerName, items, d.CreatedAt, serverTS, d.DeviceID, d.Deleted)
	if err != nil {
		return "", 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", 0, err
	}
	return action, serverTS, nil
}

func (r *Repo) ListPendings(ctx context.Context) ([]store.PendingOrder, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, customer_id, customer_name, items, status, created_at, updated_at,
	                                     device_id, job_id, job_status, job_progress, job_order_id, origin_draft_id
	                              FROM pending_orders ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.PendingOrder
	for rows.Next() {
		var p store.PendingOrder
		var items []byte
		if err := rows.Scan(&p.ID, &p.CustomerID, &p.CustomerName, &items, &p.Status, &p.CreatedAt, &p.UpdatedAt,
			&p.DeviceID, &p.JobID, &p.JobStatus, &p.JobProgress, &p.JobOrderID, &p.OriginDraftID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(items, &p.Items); err != nil {
			return nil, fmt.Errorf("decode items for pending %s: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) UpsertPending(ctx context.Context, p store.PendingOrder) (action string, serverTS int64, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existing int64
	err = tx.QueryRow(ctx, `SELECT updated_at FROM pending_orders WHERE id=$1`, p.ID).Scan(&existing)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		action = transport.ActionCreated
	case err != nil:
		return "", 0, err
	case p.UpdatedAt <= existing:
		return transport.ActionSkipped, existing, nil
	default:
		action = transport.ActionUpdated
	}

	items, err := json.Marshal(p.Items)
	if err != nil {
		return "", 0, err
	}
	serverTS = nowMillis()
	_, err = tx.Exec(ctx, `
		INSERT INTO pending_orders (id, customer_id, customer_name, items, status, created_at, updated_at,
		                            device_id, job_id, job_status, job_progress, job_order_id, origin_draft_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			customer_id=EXCLUDED.customer_id, customer_name=EXCLUDED.customer_name,
			items=EXCLUDED.items, status=EXCLUDED.status, updated_at=EXCLUDED.updated_at,
			device_id=EXCLUDED.device_id, job_id=EXCLUDED.job_id, job_status=EXCLUDED.job_status,
			job_progress=EXCLUDED.job_progress, job_order_id=EXCLUDED.job_order_id,
			origin_draft_id=EXCLUDED.origin_draft_id`,
		p.ID, p.CustomerID, p.CustomerName, items, p.Status, p.CreatedAt, serverTS,
		p.DeviceID, p.JobID, p.JobStatus, p.JobProgress, p.JobOrderID, p.OriginDraftID)
	if err != nil {
		return "", 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", 0, err
	}
	return action, serverTS, nil
}

func (r *Repo) ListWarehouse(ctx context.Context) ([]store.WarehouseItem, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, article_code, description, quantity, box_name, reserved_for_order,
	                                     sold_in_order, customer_name, sub_client_name, uploaded_at, device_id
	                              FROM warehouse_items ORDER BY article_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.WarehouseItem
	for rows.Next() {
		var it store.WarehouseItem
		if err := rows.Scan(&it.ID, &it.ArticleCode, &it.Description, &it.Quantity, &it.BoxName, &it.ReservedForOrder,
			&it.SoldInOrder, &it.CustomerName, &it.SubClientName, &it.UploadedAt, &it.DeviceID); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// BatchReserve tags free items for an order, mirroring the device-local rule:
// sold items are never re-reserved.
func (r *Repo) BatchReserve(ctx context.Context, req transport.BatchReserveReq) (int64, error) {
	tag := store.ReservationTag(req.OrderID)
	ct, err := r.DB.Exec(ctx, `
		UPDATE warehouse_items
		SET reserved_for_order=$1, customer_name=$2, sub_client_name=$3
		WHERE id = ANY($4) AND sold_in_order=''`,
		tag, req.CustomerName, req.SubClientName, req.ItemIDs)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (r *Repo) BatchRelease(ctx context.Context, req transport.BatchReleaseReq) (int64, error) {
	tag := store.ReservationTag(req.OrderID)
	ct, err := r.DB.Exec(ctx, `UPDATE warehouse_items SET reserved_for_order='' WHERE reserved_for_order=$1`, tag)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (r *Repo) BatchMarkSold(ctx context.Context, req transport.BatchMarkSoldReq) (int64, error) {
	tag := store.ReservationTag(req.PendingOrderID)
	ct, err := r.DB.Exec(ctx, `
		UPDATE warehouse_items
		SET sold_in_order=$1, reserved_for_order='',
		    customer_name=COALESCE(NULLIF($2,''), customer_name),
		    sub_client_name=COALESCE(NULLIF($3,''), sub_client_name)
		WHERE reserved_for_order=$4`,
		req.SoldOrderID, req.CustomerName, req.SubClientName, tag)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (r *Repo) BatchTransfer(ctx context.Context, req transport.BatchTransferReq) (int64, error) {
	fromTags := make([]string, 0, len(req.FromOrderIDs))
	for _, id := range req.FromOrderIDs {
		fromTags = append(fromTags, store.ReservationTag(id))
	}
	ct, err := r.DB.Exec(ctx, `UPDATE warehouse_items SET reserved_for_order=$1 WHERE reserved_for_order = ANY($2)`,
		store.ReservationTag(req.ToOrderID), fromTags)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
