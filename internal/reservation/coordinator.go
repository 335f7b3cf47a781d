// Package reservation keeps warehouse reservation state authoritative on the
// device: every operation mutates the local store first and synchronously,
// then mirrors to the remote inventory service on a best-effort basis. Mirror
// calls are queued before the attempt so an offline window or crash is
// retried by the next sync cycle instead of being lost.
package reservation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-offline-sync.git/internal/store"
	"github.com/ariefcatur/go-offline-sync.git/internal/transport"
	"go.uber.org/zap"
)

const (
	opReserve  = "reserve"
	opRelease  = "release"
	opMarkSold = "mark-sold"
	opTransfer = "transfer"
)

// Tracking carries the customer names stamped onto items for reporting.
type Tracking struct {
	CustomerName  string `json:"customerName,omitempty"`
	SubClientName string `json:"subClientName,omitempty"`
}

type Coordinator struct {
	Store *store.DB
	API   *transport.API
	Log   *zap.SugaredLogger

	// Online reports connectivity; nil means always online. When offline the
	// remote attempt is skipped entirely and only the queue entry remains.
	Online func() bool

	// AsyncMirror detaches the remote attempt from the caller. Tests set it
	// false to make mirroring deterministic.
	AsyncMirror bool
}

func (c *Coordinator) online() bool { return c.Online == nil || c.Online() }

// Reserve tags the items' warehouse sources for the pending order. The local
// mutation always succeeds and is immediately visible; the remote mirror
// never blocks or rolls it back.
func (c *Coordinator) Reserve(ctx context.Context, pendingOrderID string, itemIDs []string, tr Tracking) error {
	tag := store.ReservationTag(pendingOrderID)
	n, err := c.Store.ReserveItems(ctx, itemIDs, tag, tr.CustomerName, tr.SubClientName)
	if err != nil {
		return fmt.Errorf("reserve locally: %w", err)
	}
	c.Log.Infow("reserved warehouse items", "order", pendingOrderID, "items", n)

	c.mirror(ctx, opReserve, transport.BatchReserveReq{
		OrderID:       pendingOrderID,
		ItemIDs:       itemIDs,
		CustomerName:  tr.CustomerName,
		SubClientName: tr.SubClientName,
	})
	return nil
}

// Release clears the reservation on every item tagged for the order.
func (c *Coordinator) Release(ctx context.Context, pendingOrderID string) error {
	tag := store.ReservationTag(pendingOrderID)
	n, err := c.Store.ReleaseByTag(ctx, tag)
	if err != nil {
		return fmt.Errorf("release locally: %w", err)
	}
	c.Log.Infow("released warehouse items", "order", pendingOrderID, "items", n)

	c.mirror(ctx, opRelease, transport.BatchReleaseReq{OrderID: pendingOrderID})
	return nil
}

// MarkSold finalizes the order's reservations into a permanent sale tagged
// with the resulting remote order id.
func (c *Coordinator) MarkSold(ctx context.Context, pendingOrderID, soldOrderID string, tr Tracking) error {
	tag := store.ReservationTag(pendingOrderID)
	n, err := c.Store.MarkSoldByTag(ctx, tag, soldOrderID, tr.CustomerName, tr.SubClientName)
	if err != nil {
		return fmt.Errorf("mark sold locally: %w", err)
	}
	c.Log.Infow("marked warehouse items sold", "order", pendingOrderID, "soldOrder", soldOrderID, "items", n)

	c.mirror(ctx, opMarkSold, transport.BatchMarkSoldReq{
		PendingOrderID: pendingOrderID,
		SoldOrderID:    soldOrderID,
		CustomerName:   tr.CustomerName,
		SubClientName:  tr.SubClientName,
	})
	return nil
}

// Transfer re-tags items reserved under any of the from orders to the target
// order, used when drafts or pendings are merged.
func (c *Coordinator) Transfer(ctx context.Context, fromOrderIDs []string, toOrderID string) error {
	fromTags := make([]string, 0, len(fromOrderIDs))
	for _, id := range fromOrderIDs {
		fromTags = append(fromTags, store.ReservationTag(id))
	}
	n, err := c.Store.TransferReservations(ctx, fromTags, store.ReservationTag(toOrderID))
	if err != nil {
		return fmt.Errorf("transfer locally: %w", err)
	}
	c.Log.Infow("transferred reservations", "to", toOrderID, "items", n)

	c.mirror(ctx, opTransfer, transport.BatchTransferReq{FromOrderIDs: fromOrderIDs, ToOrderID: toOrderID})
	return nil
}

// FinalizeCompleted is the normal post-completion cleanup: reservations become
// a sale and the pending-order record goes away.
func (c *Coordinator) FinalizeCompleted(ctx context.Context, pendingOrderID, soldOrderID string) error {
	p, err := c.Store.GetPending(ctx, pendingOrderID)
	if err != nil {
		return err
	}
	tr := Tracking{CustomerName: p.CustomerName}
	if err := c.MarkSold(ctx, pendingOrderID, soldOrderID, tr); err != nil {
		return err
	}
	return c.Store.DeletePending(ctx, pendingOrderID)
}

// RecoverCompleted is the on-load sweep: pending orders whose job completed
// with a known remote order id are finalized, recovering from a crash between
// completion and the normal cleanup. Completed orders with no remote order id
// are an ambiguous state and are deliberately left untouched.
func (c *Coordinator) RecoverCompleted(ctx context.Context) error {
	pendings, err := c.Store.CompletedJobPendings(ctx)
	if err != nil {
		return err
	}
	for _, p := range pendings {
		if p.JobOrderID == "" {
			c.Log.Warnw("completed job without remote order id, leaving untouched", "order", p.ID)
			continue
		}
		if err := c.FinalizeCompleted(ctx, p.ID, p.JobOrderID); err != nil {
			c.Log.Warnw("recover completed order", "order", p.ID, "err", err)
		}
	}
	return nil
}

// mirror queues the remote call, then attempts it. Failures are logged and
// swallowed; local state stays the source of truth until the orchestrator's
// next drain or pull reconciles it.
func (c *Coordinator) mirror(ctx context.Context, op string, req any) {
	raw, err := json.Marshal(req)
	if err != nil {
		c.Log.Errorw("encode mirror op", "op", op, "err", err)
		return
	}
	mirrorID, err := c.Store.EnqueueMirror(ctx, op, raw)
	if err != nil {
		c.Log.Warnw("enqueue mirror op", "op", op, "err", err)
		mirrorID = 0
	}
	if !c.online() {
		return
	}

	attempt := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.callRemote(ctx, op, raw); err != nil {
			c.Log.Warnw("mirror call failed, queued for retry", "op", op, "err", err)
			return
		}
		if mirrorID != 0 {
			_ = c.Store.DeleteMirror(ctx, mirrorID)
		}
	}
	if c.AsyncMirror {
		go attempt()
	} else {
		attempt()
	}
}

func (c *Coordinator) callRemote(ctx context.Context, op string, raw []byte) error {
	switch op {
	case opReserve:
		var req transport.BatchReserveReq
		if err := json.Unmarshal(raw, &req); err != nil {
			return err
		}
		_, err := c.API.BatchReserve(ctx, req)
		return err
	case opRelease:
		var req transport.BatchReleaseReq
		if err := json.Unmarshal(raw, &req); err != nil {
			return err
		}
		_, err := c.API.BatchRelease(ctx, req)
		return err
	case opMarkSold:
		var req transport.BatchMarkSoldReq
		if err := json.Unmarshal(raw, &req); err != nil {
			return err
		}
		_, err := c.API.BatchMarkSold(ctx, req)
		return err
	case opTransfer:
		var req transport.BatchTransferReq
		if err := json.Unmarshal(raw, &req); err != nil {
			return err
		}
		_, err := c.API.BatchTransfer(ctx, req)
		return err
	default:
		return fmt.Errorf("unknown mirror op %q", op)
	}
}

// DrainMirrors replays queued mirror calls in order. Called by the sync
// orchestrator at the start of every cycle.
func (c *Coordinator) DrainMirrors(ctx context.Context, limit int) error {
	if !c.online() {
		return nil
	}
	ops, err := c.Store.PendingMirrors(ctx, limit)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if err := c.callRemote(ctx, op.Op, op.Payload); err != nil {
			c.Log.Warnw("mirror drain stopped", "op", op.Op, "err", err)
			return nil // keep the rest queued, retry next cycle
		}
		if err := c.Store.DeleteMirror(ctx, op.ID); err != nil {
			return err
		}
	}
	return nil
}
