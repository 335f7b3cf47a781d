package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
)

func (db *DB) GetWarehouseItem(ctx context.Context, id string) (*WarehouseItem, error) {
	it := new(WarehouseItem)
	err := db.R.NewSelect().Model(it).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get warehouse item: %w", err)
	}
	return it, nil
}

func (db *DB) ListWarehouseItems(ctx context.Context) ([]WarehouseItem, error) {
	var out []WarehouseItem
	err := db.R.NewSelect().Model(&out).Order("article_code").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list warehouse items: %w", err)
	}
	return out, nil
}

// ReplaceWarehouseItems clears and reinserts the whole table. The server is
// authoritative for inventory; partial merges are not tolerated.
func (db *DB) ReplaceWarehouseItems(ctx context.Context, items []WarehouseItem) error {
	return db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*WarehouseItem)(nil)).Where("1=1").Exec(ctx); err != nil {
			return fmt.Errorf("clear warehouse: %w", err)
		}
		if len(items) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
			return fmt.Errorf("reinsert warehouse: %w", err)
		}
		return nil
	})
}

// ItemsReservedFor returns items currently held under the given tag.
func (db *DB) ItemsReservedFor(ctx context.Context, tag string) ([]WarehouseItem, error) {
	var out []WarehouseItem
	err := db.R.NewSelect().Model(&out).Where("reserved_for_order = ?", tag).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("items reserved for %s: %w", tag, err)
	}
	return out, nil
}

// ReserveItems tags free items for an order and stamps tracking names. Items
// already sold are never re-reserved.
func (db *DB) ReserveItems(ctx context.Context, ids []string, tag, customerName, subClientName string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := db.W.NewUpdate().Model((*WarehouseItem)(nil)).
		Set("reserved_for_order = ?", tag).
		Set("customer_name = ?", customerName).
		Set("sub_client_name = ?", subClientName).
		Where("id IN (?)", bun.In(ids)).
		Where("sold_in_order = ''").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("reserve items: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ReleaseByTag clears the reservation on every item held under the tag.
func (db *DB) ReleaseByTag(ctx context.Context, tag string) (int64, error) {
	res, err := db.W.NewUpdate().Model((*WarehouseItem)(nil)).
		Set("reserved_for_order = ''").
		Where("reserved_for_order = ?", tag).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("release by tag: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MarkSoldByTag finalizes a reservation into a sale. The reservation tag is
// cleared in the same statement, keeping the exclusivity invariant.
func (db *DB) MarkSoldByTag(ctx context.Context, tag, soldOrderID, customerName, subClientName string) (int64, error) {
	q := db.W.NewUpdate().Model((*WarehouseItem)(nil)).
		Set("sold_in_order = ?", soldOrderID).
		Set("reserved_for_order = ''").
		Where("reserved_for_order = ?", tag)
	if customerName != "" {
		q = q.Set("customer_name = ?", customerName)
	}
	if subClientName != "" {
		q = q.Set("sub_client_name = ?", subClientName)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("mark sold by tag: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// TransferReservations re-tags items held under any of the from tags, used
// when orders are merged.
func (db *DB) TransferReservations(ctx context.Context, fromTags []string, toTag string) (int64, error) {
	if len(fromTags) == 0 {
		return 0, nil
	}
	res, err := db.W.NewUpdate().Model((*WarehouseItem)(nil)).
		Set("reserved_for_order = ?", toTag).
		Where("reserved_for_order IN (?)", bun.In(fromTags)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("transfer reservations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
