package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func TestDraftLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	d := &DraftOrder{
		ID:           "d1",
		CustomerName: "ACME",
		Items:        ItemList{{ProductID: "p1", Qty: 3, UnitPriceCents: 500}},
		DeviceID:     "dev-a",
	}
	require.NoError(t, db.SaveLocalDraft(ctx, d))
	assert.True(t, d.NeedsSync)
	assert.NotZero(t, d.UpdatedAt)
	assert.Equal(t, d.UpdatedAt, d.CreatedAt)

	dirty, err := db.DirtyDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	assert.Equal(t, "d1", dirty[0].ID)

	require.NoError(t, db.ClearDraftDirty(ctx, "d1", d.UpdatedAt))
	dirty, err = db.DirtyDrafts(ctx)
	require.NoError(t, err)
	assert.Empty(t, dirty)

	got, err := db.GetDraft(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, d.UpdatedAt, got.ServerUpdatedAt)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 3, got.Items[0].Qty)
}

func TestTombstoneHidesDraft(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveLocalDraft(ctx, &DraftOrder{ID: "d1"}))
	require.NoError(t, db.TombstoneDraft(ctx, "d1", 1000))

	live, err := db.ListDrafts(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)

	got, err := db.GetDraft(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, int64(1000), got.ServerUpdatedAt)

	// an older server stamp never rewinds the tombstone stamp
	require.NoError(t, db.TombstoneDraft(ctx, "d1", 500))
	got, err = db.GetDraft(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.ServerUpdatedAt)
}

func TestClearDirtyKeepsFlagForMidPushEdit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// snapshot at updated_at=100 goes out; an edit lands at 200 before the ack
	require.NoError(t, db.PutDraft(ctx, &DraftOrder{ID: "d1", CustomerName: "v1", UpdatedAt: 100, NeedsSync: true}))
	require.NoError(t, db.PutDraft(ctx, &DraftOrder{ID: "d1", CustomerName: "v2", UpdatedAt: 200, NeedsSync: true}))

	require.NoError(t, db.ClearDraftDirty(ctx, "d1", 100))
	dirty, err := db.DirtyDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, dirty, 1, "an edit made during the push must stay dirty")
	assert.Equal(t, "v2", dirty[0].CustomerName)

	// acknowledging the edited version does clear it
	require.NoError(t, db.ClearDraftDirty(ctx, "d1", 200))
	dirty, err = db.DirtyDrafts(ctx)
	require.NoError(t, err)
	assert.Empty(t, dirty)
}

func TestClearPendingDirtyKeepsFlagForMidPushEdit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.PutPending(ctx, &PendingOrder{ID: "p1", CustomerName: "v1", UpdatedAt: 100, NeedsSync: true}))
	require.NoError(t, db.PutPending(ctx, &PendingOrder{ID: "p1", CustomerName: "v2", UpdatedAt: 200, NeedsSync: true}))

	require.NoError(t, db.ClearPendingDirty(ctx, "p1", 100))
	dirty, err := db.DirtyPendings(ctx)
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	assert.Equal(t, "v2", dirty[0].CustomerName)

	require.NoError(t, db.ClearPendingDirty(ctx, "p1", 200))
	dirty, err = db.DirtyPendings(ctx)
	require.NoError(t, err)
	assert.Empty(t, dirty)
}

func TestGetDraftNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetDraft(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWarehouseReserveAndSell(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	items := []WarehouseItem{
		{ID: "w1", ArticleCode: "A1", Quantity: 2},
		{ID: "w2", ArticleCode: "A2", Quantity: 1},
		{ID: "w3", ArticleCode: "A3", Quantity: 1, SoldInOrder: "old-sale"},
	}
	require.NoError(t, db.ReplaceWarehouseItems(ctx, items))

	tag := ReservationTag("po1")
	n, err := db.ReserveItems(ctx, []string{"w1", "w2", "w3"}, tag, "ACME", "Sub")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "sold items are never re-reserved")

	reserved, err := db.ItemsReservedFor(ctx, tag)
	require.NoError(t, err)
	assert.Len(t, reserved, 2)
	assert.Equal(t, "ACME", reserved[0].CustomerName)

	n, err = db.MarkSoldByTag(ctx, tag, "ord-9", "", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := db.GetWarehouseItem(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "ord-9", got.SoldInOrder)
	assert.Empty(t, got.ReservedForOrder)
	assert.Equal(t, "ACME", got.CustomerName, "tracking names survive the sale")
}

func TestWarehouseExclusivityEnforced(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.ReplaceWarehouseItems(ctx, []WarehouseItem{{ID: "w1"}}))
	_, err := db.ReserveItems(ctx, []string{"w1"}, ReservationTag("po1"), "", "")
	require.NoError(t, err)

	// setting sold without clearing the reservation violates the CHECK
	_, err = db.W.ExecContext(ctx, `UPDATE warehouse_items SET sold_in_order = 'x' WHERE id = 'w1'`)
	assert.Error(t, err)
}

func TestTransferReservations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.ReplaceWarehouseItems(ctx, []WarehouseItem{
		{ID: "w1", ReservedForOrder: ReservationTag("a")},
		{ID: "w2", ReservedForOrder: ReservationTag("b")},
		{ID: "w3"},
	}))
	n, err := db.TransferReservations(ctx, []string{ReservationTag("a"), ReservationTag("b")}, ReservationTag("c"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	moved, err := db.ItemsReservedFor(ctx, ReservationTag("c"))
	require.NoError(t, err)
	assert.Len(t, moved, 2)
}

func TestUpdateJobErrorSetsStatus(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveLocalPending(ctx, &PendingOrder{ID: "p1", Status: PendingStatusPending}))
	require.NoError(t, db.UpdateJob(ctx, "p1", JobFailed, 40, "", "bot rejected the order"))

	got, err := db.GetPending(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.JobStatus)
	assert.Equal(t, PendingStatusError, got.Status)
	assert.Equal(t, "bot rejected the order", got.ErrorMessage)
}

func TestCompletedJobPendings(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveLocalPending(ctx, &PendingOrder{ID: "p1", JobStatus: JobCompleted, JobOrderID: "ord-1"}))
	require.NoError(t, db.SaveLocalPending(ctx, &PendingOrder{ID: "p2", JobStatus: JobProcessing}))

	done, err := db.CompletedJobPendings(ctx)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "p1", done[0].ID)
}

func TestCanTransitionJob(t *testing.T) {
	assert.True(t, CanTransitionJob("", JobStarted))
	assert.True(t, CanTransitionJob(JobStarted, JobProcessing))
	assert.True(t, CanTransitionJob(JobProcessing, JobProcessing))
	assert.True(t, CanTransitionJob(JobProcessing, JobCompleted))
	assert.False(t, CanTransitionJob(JobCompleted, JobProcessing))
	assert.False(t, CanTransitionJob(JobFailed, JobCompleted))
}

func TestDeviceIDStable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a, err := db.DeviceID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, a)
	b, err := db.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMirrorQueue(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id1, err := db.EnqueueMirror(ctx, "reserve", []byte(`{"orderId":"po1"}`))
	require.NoError(t, err)
	id2, err := db.EnqueueMirror(ctx, "release", []byte(`{"orderId":"po2"}`))
	require.NoError(t, err)
	require.Less(t, id1, id2)

	ops, err := db.PendingMirrors(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "reserve", ops[0].Op)

	require.NoError(t, db.DeleteMirror(ctx, id1))
	ops, err = db.PendingMirrors(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "release", ops[0].Op)
}

func TestCacheMetaStaleness(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	stale, err := db.IsStale(ctx, "draftOrders")
	require.NoError(t, err)
	assert.True(t, stale, "never-synced family is stale")

	require.NoError(t, db.TouchMeta(ctx, "draftOrders", 7, ""))
	stale, err = db.IsStale(ctx, "draftOrders")
	require.NoError(t, err)
	assert.False(t, stale)

	m, err := db.Meta(ctx, "draftOrders")
	require.NoError(t, err)
	assert.Equal(t, 7, m.RecordCount)
}

func TestDeletePolicies(t *testing.T) {
	assert.Equal(t, DeleteTombstone, PolicyFor("draft_orders"))
	assert.Equal(t, DeleteHard, PolicyFor("pending_orders"))
}

func TestCatalogAndPrices(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.ReplaceCatalog(ctx,
		[]Product{{ID: "p1", Name: "Widget"}},
		[]ProductVariant{
			{ID: "v1", ProductID: "p1", ProductName: "Widget", PackageSize: 1},
			{ID: "v5", ProductID: "p1", ProductName: "Widget", PackageSize: 5},
		},
		[]Price{
			{ID: "pr1", ProductID: "p1", CustomerID: "", UnitPriceCents: 900},
			{ID: "pr2", ProductID: "p1", CustomerID: "c1", UnitPriceCents: 800},
		})
	require.NoError(t, err)

	vs, err := db.VariantsByProductName(ctx, "Widget")
	require.NoError(t, err)
	require.Len(t, vs, 2)
	assert.Equal(t, 5, vs[0].PackageSize, "largest package first")

	pr, err := db.PriceFor(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(800), pr.UnitPriceCents)

	pr, err = db.PriceFor(ctx, "p1", "other")
	require.NoError(t, err)
	assert.Equal(t, int64(900), pr.UnitPriceCents, "falls back to the list price")
}
