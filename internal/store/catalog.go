package store

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// VariantsByProductName returns the package-size variants sharing a grouping
// key, the unit the packaging calculator works on.
func (db *DB) VariantsByProductName(ctx context.Context, productName string) ([]ProductVariant, error) {
	var out []ProductVariant
	err := db.R.NewSelect().Model(&out).
		Where("product_name = ?", productName).
		Order("package_size DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("variants by product name: %w", err)
	}
	return out, nil
}

func (db *DB) ListProducts(ctx context.Context) ([]Product, error) {
	var out []Product
	err := db.R.NewSelect().Model(&out).Order("name").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return out, nil
}

// ReplaceCatalog refreshes products, variants and prices from a full server
// snapshot in one transaction.
func (db *DB) ReplaceCatalog(ctx context.Context, products []Product, variants []ProductVariant, prices []Price) error {
	return db.WithWriteTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		for _, pair := range []struct {
			model any
			rows  any
			empty bool
		}{
			{(*Product)(nil), &products, len(products) == 0},
			{(*ProductVariant)(nil), &variants, len(variants) == 0},
			{(*Price)(nil), &prices, len(prices) == 0},
		} {
			if _, err := tx.NewDelete().Model(pair.model).Where("1=1").Exec(ctx); err != nil {
				return fmt.Errorf("clear catalog table: %w", err)
			}
			if pair.empty {
				continue
			}
			if _, err := tx.NewInsert().Model(pair.rows).Exec(ctx); err != nil {
				return fmt.Errorf("insert catalog rows: %w", err)
			}
		}
		return nil
	})
}

// PriceFor resolves the customer-specific price, falling back to the generic
// row when no customer price exists.
func (db *DB) PriceFor(ctx context.Context, productID, customerID string) (*Price, error) {
	var out []Price
	err := db.R.NewSelect().Model(&out).
		Where("product_id = ?", productID).
		Where("customer_id IN (?, '')", customerID).
		Order("customer_id DESC"). // customer-specific row sorts after '' ascending; DESC puts it first
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("price for product: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return &out[0], nil
}
