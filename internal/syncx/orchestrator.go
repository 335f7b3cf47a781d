// Package syncx runs the periodic + event-triggered bidirectional sync: pull
// server state, push locally dirty records, per entity family, each family
// reconciled independently.
package syncx

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ariefcatur/go-offline-sync.git/internal/realtime"
	"github.com/ariefcatur/go-offline-sync.git/internal/reservation"
	"github.com/ariefcatur/go-offline-sync.git/internal/store"
	"github.com/ariefcatur/go-offline-sync.git/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	MetaDrafts    = "draftOrders"
	MetaPendings  = "pendingOrders"
	MetaWarehouse = "warehouseItems"
)

type Orchestrator struct {
	Store       *store.DB
	API         *transport.API
	Coordinator *reservation.Coordinator
	DeviceID    string
	Log         *zap.SugaredLogger
	Notifier    *realtime.Notifier

	Interval time.Duration
	Online   func() bool // nil = always online
	Visible  func() bool // nil = always visible

	syncing atomic.Bool
	trigger chan struct{}
}

func (o *Orchestrator) online() bool  { return o.Online == nil || o.Online() }
func (o *Orchestrator) visible() bool { return o.Visible == nil || o.Visible() }

// Trigger requests a sync cycle without blocking. Overlapping triggers
// collapse: at most one cycle runs at a time and at most one is queued.
func (o *Orchestrator) Trigger() {
	if o.trigger == nil {
		return
	}
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run drives the loop: an eager pull on startup, then the recurring timer,
// plus manual/online triggers. The timer no-ops while offline, hidden, or a
// cycle is already in flight.
func (o *Orchestrator) Run(ctx context.Context) {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	o.trigger = make(chan struct{}, 1)

	o.SyncAll(ctx)

	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !o.online() || !o.visible() {
				continue
			}
			o.SyncAll(ctx)
		case <-o.trigger:
			o.SyncAll(ctx)
		}
	}
}

// SyncAll runs one cycle across all families concurrently. It never returns
// an error: a failed family is logged and does not abort the others. The
// reentrancy guard collapses overlapping invocations into a no-op.
func (o *Orchestrator) SyncAll(ctx context.Context) {
	if !o.syncing.CompareAndSwap(false, true) {
		return
	}
	defer o.syncing.Store(false)

	if !o.online() {
		return
	}

	// replay queued reservation mirrors before pulling, so the pull reflects
	// our own mutations
	if o.Coordinator != nil {
		if err := o.Coordinator.DrainMirrors(ctx, 100); err != nil {
			o.Log.Warnw("mirror drain", "err", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	changed := make([]atomic.Bool, 3)
	g.Go(func() error {
		ch, err := o.syncDrafts(ctx)
		if err != nil {
			o.Log.Warnw("draft sync failed", "err", err)
		}
		changed[0].Store(ch)
		return nil
	})
	g.Go(func() error {
		ch, err := o.syncPendings(ctx)
		if err != nil {
			o.Log.Warnw("pending sync failed", "err", err)
		}
		changed[1].Store(ch)
		return nil
	})
	g.Go(func() error {
		ch, err := o.syncWarehouse(ctx)
		if err != nil {
			o.Log.Warnw("warehouse sync failed", "err", err)
		}
		changed[2].Store(ch)
		return nil
	})
	_ = g.Wait()

	if o.Notifier != nil && (changed[0].Load() || changed[1].Load() || changed[2].Load()) {
		o.Notifier.Notify()
	}
}

// syncDrafts pulls then pushes, in that order, so a push of stale-looking
// local data cannot be clobbered by a pull computed from cached results.
func (o *Orchestrator) syncDrafts(ctx context.Context) (bool, error) {
	changed := false

	serverDrafts, err := o.API.PullDrafts(ctx)
	if err != nil {
		return changed, err
	}
	for _, sd := range serverDrafts {
		local, err := o.Store.GetDraft(ctx, sd.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return changed, err
		}
		if local != nil && !realtime.Reconcile(local.ServerUpdatedAt, sd.UpdatedAt) {
			continue
		}
		d := sd
		d.ServerUpdatedAt = sd.UpdatedAt
		d.NeedsSync = false
		if err := o.Store.PutDraft(ctx, &d); err != nil {
			return changed, err
		}
		changed = true
	}
	if err := o.Store.TouchMeta(ctx, MetaDrafts, len(serverDrafts), ""); err != nil {
		return changed, err
	}

	dirty, err := o.Store.DirtyDrafts(ctx)
	if err != nil {
		return changed, err
	}
	if len(dirty) == 0 {
		return changed, nil
	}
	results, err := o.API.PushDrafts(ctx, dirty)
	if err != nil {
		return changed, err
	}
	byID := make(map[string]store.DraftOrder, len(dirty))
	for _, d := range dirty {
		byID[d.ID] = d
	}
	for _, r := range results {
		if r.Action == transport.ActionSkipped {
			// server already holds an equal-or-newer version; the dirty flag
			// stays set for a future reconciliation pass
			continue
		}
		if err := o.Store.ClearDraftDirty(ctx, r.ID, byID[r.ID].UpdatedAt); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

func (o *Orchestrator) syncPendings(ctx context.Context) (bool, error) {
	changed := false

	serverPendings, err := o.API.PullPendings(ctx)
	if err != nil {
		return changed, err
	}
	for _, sp := range serverPendings {
		local, err := o.Store.GetPending(ctx, sp.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return changed, err
		}
		if local != nil && !realtime.Reconcile(local.ServerUpdatedAt, sp.UpdatedAt) {
			continue
		}
		p := sp
		p.ServerUpdatedAt = sp.UpdatedAt
		p.NeedsSync = false
		if err := o.Store.PutPending(ctx, &p); err != nil {
			return changed, err
		}
		changed = true
	}
	if err := o.Store.TouchMeta(ctx, MetaPendings, len(serverPendings), ""); err != nil {
		return changed, err
	}

	dirty, err := o.Store.DirtyPendings(ctx)
	if err != nil {
		return changed, err
	}
	if len(dirty) == 0 {
		return changed, nil
	}
	results, err := o.API.PushPendings(ctx, dirty)
	if err != nil {
		return changed, err
	}
	byID := make(map[string]store.PendingOrder, len(dirty))
	for _, p := range dirty {
		byID[p.ID] = p
	}
	for _, r := range results {
		if r.Action == transport.ActionSkipped {
			continue
		}
		if err := o.Store.ClearPendingDirty(ctx, r.ID, byID[r.ID].UpdatedAt); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

// syncWarehouse is pull-only: the server is authoritative for inventory, so
// local state is replaced wholesale rather than merged field by field. An
// identical snapshot skips the replace and reports no change, keeping the UI
// quiet across idle cycles.
func (o *Orchestrator) syncWarehouse(ctx context.Context) (bool, error) {
	items, err := o.API.PullWarehouse(ctx)
	if err != nil {
		return false, err
	}
	current, err := o.Store.ListWarehouseItems(ctx)
	if err != nil {
		return false, err
	}
	changed := !sameWarehouse(current, items)
	if changed {
		if err := o.Store.ReplaceWarehouseItems(ctx, items); err != nil {
			return false, err
		}
	}
	if err := o.Store.TouchMeta(ctx, MetaWarehouse, len(items), ""); err != nil {
		return changed, err
	}
	return changed, nil
}

func sameWarehouse(local, pulled []store.WarehouseItem) bool {
	if len(local) != len(pulled) {
		return false
	}
	byID := make(map[string]store.WarehouseItem, len(local))
	for _, it := range local {
		byID[it.ID] = it
	}
	for _, it := range pulled {
		if byID[it.ID] != it {
			return false
		}
	}
	return true
}
