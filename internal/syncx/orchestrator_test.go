package syncx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-offline-sync.git/internal/realtime"
	"github.com/ariefcatur/go-offline-sync.git/internal/store"
	"github.com/ariefcatur/go-offline-sync.git/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(context.Background(), db))
	return db
}

// fakeServer answers the sync REST boundary from in-memory state.
type fakeServer struct {
	mu         sync.Mutex
	drafts     []store.DraftOrder
	pendings   []store.PendingOrder
	warehouse  []store.WarehouseItem
	pushAction string // action answered for every pushed record
	pushed     []store.DraftOrder
	onPush     func() // runs while the draft push is being handled
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sync/draft-orders", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			f.mu.Lock()
			defer f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "draftOrders": f.drafts})
		case http.MethodPost:
			var req struct {
				DraftOrders []store.DraftOrder `json:"draftOrders"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if f.onPush != nil {
				f.onPush()
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			f.pushed = append(f.pushed, req.DraftOrders...)
			results := make([]transport.PushResult, 0, len(req.DraftOrders))
			for _, d := range req.DraftOrders {
				results = append(results, transport.PushResult{ID: d.ID, Action: f.pushAction})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "results": results})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/sync/pending-orders", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			f.mu.Lock()
			defer f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "pendingOrders": f.pendings})
		case http.MethodPost:
			var req struct {
				PendingOrders []store.PendingOrder `json:"pendingOrders"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			results := make([]transport.PushResult, 0, len(req.PendingOrders))
			for _, p := range req.PendingOrders {
				results = append(results, transport.PushResult{ID: p.ID, Action: transport.ActionCreated})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "results": results})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/sync/warehouse-items", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "warehouseItems": f.warehouse})
	})
	return mux
}

func newOrchestrator(t *testing.T, db *store.DB, baseURL string) *Orchestrator {
	t.Helper()
	client := transport.NewClient(baseURL, zap.NewNop().Sugar())
	client.MaxRetries = 0
	return &Orchestrator{
		Store:    db,
		API:      &transport.API{C: client},
		DeviceID: "dev-a",
		Log:      zap.NewNop().Sugar(),
		Notifier: realtime.NewNotifier(zap.NewNop().Sugar()),
	}
}

func TestSyncAllPullsAndPushes(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fake := &fakeServer{
		pushAction: transport.ActionCreated,
		drafts: []store.DraftOrder{
			{ID: "srv-d1", CustomerName: "FromServer", UpdatedAt: 500},
		},
		warehouse: []store.WarehouseItem{
			{ID: "w1", ArticleCode: "A1", Quantity: 3},
		},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	local := &store.DraftOrder{ID: "loc-d1", CustomerName: "Mine", DeviceID: "dev-a"}
	require.NoError(t, db.SaveLocalDraft(ctx, local))

	o := newOrchestrator(t, db, srv.URL)
	o.SyncAll(ctx)

	// pulled draft landed clean
	got, err := db.GetDraft(ctx, "srv-d1")
	require.NoError(t, err)
	assert.Equal(t, "FromServer", got.CustomerName)
	assert.Equal(t, int64(500), got.ServerUpdatedAt)
	assert.False(t, got.NeedsSync)

	// local dirty draft was pushed and acknowledged
	fake.mu.Lock()
	require.Len(t, fake.pushed, 1)
	assert.Equal(t, "loc-d1", fake.pushed[0].ID)
	fake.mu.Unlock()
	dirty, err := db.DirtyDrafts(ctx)
	require.NoError(t, err)
	assert.Empty(t, dirty)

	// warehouse is replaced wholesale
	items, err := db.ListWarehouseItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "A1", items[0].ArticleCode)

	// all three families touched their freshness metadata
	for _, key := range []string{MetaDrafts, MetaPendings, MetaWarehouse} {
		stale, err := db.IsStale(ctx, key)
		require.NoError(t, err)
		assert.False(t, stale, key)
	}
}

func TestSkippedPushKeepsDirtyFlag(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fake := &fakeServer{pushAction: transport.ActionSkipped}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	require.NoError(t, db.SaveLocalDraft(ctx, &store.DraftOrder{ID: "d1", DeviceID: "dev-a"}))

	o := newOrchestrator(t, db, srv.URL)
	o.SyncAll(ctx)

	dirty, err := db.DirtyDrafts(ctx)
	require.NoError(t, err)
	assert.Len(t, dirty, 1, "a skipped record stays dirty for reconciliation")
}

func TestPullRespectsNewerLocalState(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fake := &fakeServer{
		pushAction: transport.ActionCreated,
		drafts:     []store.DraftOrder{{ID: "d1", CustomerName: "Stale", UpdatedAt: 100}},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	require.NoError(t, db.PutDraft(ctx, &store.DraftOrder{
		ID: "d1", CustomerName: "Fresh", UpdatedAt: 300, ServerUpdatedAt: 300,
	}))

	o := newOrchestrator(t, db, srv.URL)
	o.SyncAll(ctx)

	got, err := db.GetDraft(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Fresh", got.CustomerName)
}

func TestEditDuringPushStaysDirty(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// dirty draft whose snapshot predates the edit by a wide margin
	require.NoError(t, db.PutDraft(ctx, &store.DraftOrder{
		ID: "d1", CustomerName: "v1", UpdatedAt: store.NowMillis() - 60_000, NeedsSync: true,
	}))

	fake := &fakeServer{pushAction: transport.ActionCreated}
	fake.onPush = func() {
		// a UI edit lands while the push is in flight
		d, err := db.GetDraft(ctx, "d1")
		require.NoError(t, err)
		d.CustomerName = "v2-edited-during-push"
		require.NoError(t, db.SaveLocalDraft(ctx, d))
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	o := newOrchestrator(t, db, srv.URL)
	o.SyncAll(ctx)

	dirty, err := db.DirtyDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, dirty, 1, "the acknowledgement must not wipe the in-flight edit's flag")
	assert.Equal(t, "v2-edited-during-push", dirty[0].CustomerName)
}

func TestSyncAllSkipsWhileOffline(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	o := newOrchestrator(t, db, srv.URL)
	o.Online = func() bool { return false }
	o.SyncAll(ctx)
	assert.Zero(t, hits)
}

func TestNotifierFiresOnChange(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fake := &fakeServer{
		pushAction: transport.ActionCreated,
		warehouse:  []store.WarehouseItem{{ID: "w1"}},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	o := newOrchestrator(t, db, srv.URL)
	notified := make(chan struct{}, 1)
	o.Notifier.Subscribe(func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})
	o.SyncAll(ctx)

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("expected a change notification after the warehouse pull")
	}
}

func TestUnchangedCycleDoesNotNotify(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fake := &fakeServer{
		pushAction: transport.ActionCreated,
		warehouse: []store.WarehouseItem{
			{ID: "w1", ArticleCode: "A1", Quantity: 3},
			{ID: "w2", ArticleCode: "A2", Quantity: 1},
		},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	o := newOrchestrator(t, db, srv.URL)
	var mu sync.Mutex
	notifies := 0
	o.Notifier.Subscribe(func() {
		mu.Lock()
		notifies++
		mu.Unlock()
	})

	o.SyncAll(ctx)
	mu.Lock()
	require.Equal(t, 1, notifies, "first pull brings new inventory")
	mu.Unlock()

	// identical server state on the next cycle stays silent
	o.SyncAll(ctx)
	mu.Lock()
	assert.Equal(t, 1, notifies)
	mu.Unlock()

	// a real change notifies again
	fake.mu.Lock()
	fake.warehouse[0].Quantity = 5
	fake.mu.Unlock()
	o.SyncAll(ctx)
	mu.Lock()
	assert.Equal(t, 2, notifies)
	mu.Unlock()
}
