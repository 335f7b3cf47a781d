package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ariefcatur/go-offline-sync.git/internal/packaging"
	"github.com/ariefcatur/go-offline-sync.git/internal/reservation"
	"github.com/ariefcatur/go-offline-sync.git/internal/store"
	"github.com/ariefcatur/go-offline-sync.git/internal/syncx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAgent(t *testing.T) (*store.DB, *httptest.Server) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(context.Background(), db))

	coord := &reservation.Coordinator{
		Store:  db,
		Log:    zap.NewNop().Sugar(),
		Online: func() bool { return false }, // mirror calls stay queued
	}
	h := &AgentHandler{
		Store:        db,
		Orchestrator: &syncx.Orchestrator{}, // Trigger before Run is a no-op
		Coordinator:  coord,
		DeviceID:     "dev-test",
		Log:          zap.NewNop().Sugar(),
	}
	router := NewRouter()
	h.Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return db, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestSaveAndListDrafts(t *testing.T) {
	db, srv := newTestAgent(t)

	resp := postJSON(t, srv.URL+"/drafts", map[string]any{
		"customerName": "ACME",
		"items":        []map[string]any{{"product_id": "p1", "qty": 2, "unit_price_cents": 900}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var saved struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}
	decode(t, resp, &saved)
	require.True(t, saved.Success)
	require.NotEmpty(t, saved.ID)

	d, err := db.GetDraft(context.Background(), saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "dev-test", d.DeviceID)
	assert.True(t, d.NeedsSync)

	listResp, err := http.Get(srv.URL + "/drafts")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var list struct {
		Success     bool               `json:"success"`
		DraftOrders []store.DraftOrder `json:"draftOrders"`
	}
	decode(t, listResp, &list)
	require.Len(t, list.DraftOrders, 1)
	assert.Equal(t, "ACME", list.DraftOrders[0].CustomerName)
}

func TestDiscardDraftTombstones(t *testing.T) {
	db, srv := newTestAgent(t)
	ctx := context.Background()
	require.NoError(t, db.SaveLocalDraft(ctx, &store.DraftOrder{ID: "d1"}))

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/drafts/d1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	d, err := db.GetDraft(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, d.Deleted)
	assert.True(t, d.NeedsSync, "deletion must still be pushed")
}

func TestConvertDraft(t *testing.T) {
	db, srv := newTestAgent(t)
	ctx := context.Background()

	require.NoError(t, db.SaveLocalDraft(ctx, &store.DraftOrder{
		ID: "d1", CustomerName: "ACME",
		Items: store.ItemList{{ProductID: "p1", Qty: 1, UnitPriceCents: 100}},
	}))
	require.NoError(t, db.ReplaceWarehouseItems(ctx, []store.WarehouseItem{
		{ID: "w1", ReservedForOrder: store.ReservationTag("d1")},
	}))

	resp := postJSON(t, srv.URL+"/drafts/d1/convert", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Success        bool   `json:"success"`
		PendingOrderID string `json:"pendingOrderId"`
	}
	decode(t, resp, &out)
	require.True(t, out.Success)

	p, err := db.GetPending(ctx, out.PendingOrderID)
	require.NoError(t, err)
	assert.Equal(t, "ACME", p.CustomerName)
	assert.Equal(t, "d1", p.OriginDraftID)
	assert.True(t, p.NeedsSync)

	d, err := db.GetDraft(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, d.Deleted)

	moved, err := db.ItemsReservedFor(ctx, store.ReservationTag(out.PendingOrderID))
	require.NoError(t, err)
	assert.Len(t, moved, 1, "reservations follow the converted order")
}

func TestPackagingPlanEndpoint(t *testing.T) {
	db, srv := newTestAgent(t)
	ctx := context.Background()
	require.NoError(t, db.ReplaceCatalog(ctx, nil, []store.ProductVariant{
		{ID: "v5", ProductName: "Widget", PackageSize: 5},
		{ID: "v1", ProductName: "Widget", PackageSize: 1},
	}, nil))

	resp := postJSON(t, srv.URL+"/packaging/plan", map[string]any{"productName": "Widget", "quantity": 7})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res packaging.Result
	decode(t, resp, &res)
	require.True(t, res.Success)
	assert.Equal(t, 3, res.TotalPackages)
}

func TestPackagingPlanInfeasibleIsStillOK(t *testing.T) {
	db, srv := newTestAgent(t)
	require.NoError(t, db.ReplaceCatalog(context.Background(), nil, []store.ProductVariant{
		{ID: "v5", ProductName: "Widget", PackageSize: 5, MinQty: 5},
	}, nil))

	resp := postJSON(t, srv.URL+"/packaging/plan", map[string]any{"productName": "Widget", "quantity": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode, "infeasibility is a typed result, not an HTTP error")
	var res packaging.Result
	decode(t, resp, &res)
	assert.False(t, res.Success)
	assert.Equal(t, 5, res.SuggestedQuantity)
}

func TestSolveDiscountEndpoint(t *testing.T) {
	_, srv := newTestAgent(t)
	resp := postJSON(t, srv.URL+"/pricing/solve-discount", map[string]any{
		"items":              []map[string]any{{"product_id": "p1", "qty": 2, "unit_price_cents": 1000, "vat_percent": 22}},
		"targetTotalWithVat": "12.20",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res struct {
		Success         bool   `json:"success"`
		DiscountPercent string `json:"discountPercent"`
	}
	decode(t, resp, &res)
	assert.True(t, res.Success)
}

func TestCacheStatusEndpoint(t *testing.T) {
	db, srv := newTestAgent(t)
	require.NoError(t, db.TouchMeta(context.Background(), syncx.MetaDrafts, 4, ""))

	resp, err := http.Get(srv.URL + "/cache/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var out struct {
		Success  bool `json:"success"`
		Families []struct {
			Key         string `json:"key"`
			RecordCount int    `json:"recordCount"`
			Stale       bool   `json:"stale"`
		} `json:"families"`
	}
	decode(t, resp, &out)
	require.True(t, out.Success)
	require.Len(t, out.Families, 3)

	byKey := map[string]bool{}
	for _, f := range out.Families {
		byKey[f.Key] = f.Stale
		if f.Key == syncx.MetaDrafts {
			assert.False(t, f.Stale)
		}
	}
	assert.True(t, byKey[syncx.MetaWarehouse], "never-synced family reports stale")
}
