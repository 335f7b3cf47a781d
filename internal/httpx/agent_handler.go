package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-offline-sync.git/internal/packaging"
	"github.com/ariefcatur/go-offline-sync.git/internal/pricing"
	"github.com/ariefcatur/go-offline-sync.git/internal/reservation"
	"github.com/ariefcatur/go-offline-sync.git/internal/store"
	"github.com/ariefcatur/go-offline-sync.git/internal/syncx"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AgentHandler is the UI-facing surface of the sync agent. Every read comes
// straight from the local store; every mutation writes locally, marks the
// record dirty and nudges the orchestrator.
type AgentHandler struct {
	Store        *store.DB
	Orchestrator *syncx.Orchestrator
	Coordinator  *reservation.Coordinator
	DeviceID     string
	Log          *zap.SugaredLogger
}

func (h *AgentHandler) Register(r *chi.Mux) {
	r.Get("/drafts", h.listDrafts)
	r.Post("/drafts", h.saveDraft)
	r.Delete("/drafts/{id}", h.discardDraft)
	r.Post("/drafts/{id}/convert", h.convertDraft)
	r.Get("/pending-orders", h.listPendings)
	r.Get("/warehouse-items", h.listWarehouse)
	r.Post("/packaging/plan", h.packagingPlan)
	r.Post("/pricing/solve-discount", h.solveDiscount)
	r.Post("/sync/trigger", h.triggerSync)
	r.Get("/cache/status", h.cacheStatus)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *AgentHandler) listDrafts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	drafts, err := h.Store.ListDrafts(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "draftOrders": drafts})
}

func (h *AgentHandler) saveDraft(w http.ResponseWriter, r *http.Request) {
	var d store.DraftOrder
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.DeviceID = h.DeviceID
	d.Deleted = false

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.Store.SaveLocalDraft(ctx, &d); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.Orchestrator.Trigger() // opportunistic push
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": d.ID})
}

func (h *AgentHandler) discardDraft(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	d, err := h.Store.GetDraft(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	// local discard tombstones and marks dirty so the deletion is pushed
	d.Deleted = true
	if err := h.Store.SaveLocalDraft(ctx, d); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.Orchestrator.Trigger()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type convertReq struct {
	DiscountPercent    *float64 `json:"discountPercent,omitempty"`
	TargetTotalWithVAT *string  `json:"targetTotalWithVAT,omitempty"`
	WarehouseItemIDs   []string `json:"warehouseItemIds,omitempty"`
	SubClientName      string   `json:"subClientName,omitempty"`
}

// convertDraft finalizes a draft into a pending order: the draft is
// tombstoned, its reservations move to the new order, and the pending order
// is marked dirty for submission.
func (h *AgentHandler) convertDraft(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req convertReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	d, err := h.Store.GetDraft(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	p := &store.PendingOrder{
		ID:                 uuid.NewString(),
		CustomerID:         d.CustomerID,
		CustomerName:       d.CustomerName,
		Items:              d.Items,
		Status:             store.PendingStatusPending,
		DiscountPercent:    req.DiscountPercent,
		TargetTotalWithVAT: req.TargetTotalWithVAT,
		DeviceID:           h.DeviceID,
		OriginDraftID:      d.ID,
	}
	if err := h.Store.SaveLocalPending(ctx, p); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	d.Deleted = true
	if err := h.Store.SaveLocalDraft(ctx, d); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := h.Coordinator.Transfer(ctx, []string{d.ID}, p.ID); err != nil {
		h.Log.Warnw("transfer reservations on convert", "draft", d.ID, "err", err)
	}
	if len(req.WarehouseItemIDs) > 0 {
		tr := reservation.Tracking{CustomerName: d.CustomerName, SubClientName: req.SubClientName}
		if err := h.Coordinator.Reserve(ctx, p.ID, req.WarehouseItemIDs, tr); err != nil {
			h.Log.Warnw("reserve on convert", "pending", p.ID, "err", err)
		}
	}
	h.Orchestrator.Trigger()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "pendingOrderId": p.ID})
}

func (h *AgentHandler) listPendings(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	pendings, err := h.Store.ListPendings(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "pendingOrders": pendings})
}

func (h *AgentHandler) listWarehouse(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	items, err := h.Store.ListWarehouseItems(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "warehouseItems": items})
}

type packagingReq struct {
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
}

func (h *AgentHandler) packagingPlan(w http.ResponseWriter, r *http.Request) {
	var req packagingReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	variants, err := h.Store.VariantsByProductName(ctx, req.ProductName)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	// infeasibility is a typed result, not an HTTP error, so the UI can show
	// a recoverable prompt
	writeJSON(w, http.StatusOK, packaging.Plan(variants, req.Quantity))
}

type solveDiscountReq struct {
	Items  []store.OrderItem `json:"items"`
	Target string            `json:"targetTotalWithVat"`
}

func (h *AgentHandler) solveDiscount(w http.ResponseWriter, r *http.Request) {
	var req solveDiscountReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	target, err := decimal.NewFromString(req.Target)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid target total"})
		return
	}
	writeJSON(w, http.StatusOK, pricing.SolveDiscount(req.Items, target))
}

func (h *AgentHandler) triggerSync(w http.ResponseWriter, r *http.Request) {
	h.Orchestrator.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
}

func (h *AgentHandler) cacheStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	type familyStatus struct {
		Key         string `json:"key"`
		LastSynced  int64  `json:"lastSynced"`
		RecordCount int    `json:"recordCount"`
		Stale       bool   `json:"stale"`
	}
	out := make([]familyStatus, 0, 3)
	for _, key := range []string{syncx.MetaDrafts, syncx.MetaPendings, syncx.MetaWarehouse} {
		fs := familyStatus{Key: key, Stale: true}
		if m, err := h.Store.Meta(ctx, key); err == nil {
			fs.LastSynced = m.LastSynced
			fs.RecordCount = m.RecordCount
		}
		if stale, err := h.Store.IsStale(ctx, key); err == nil {
			fs.Stale = stale
		}
		out = append(out, fs)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "families": out})
}
