// Package serverx is the HTTP surface of the dev server of record. Every
// accepted push is answered with a per-record action and broadcast to the
// push channel so other devices converge without polling.
package serverx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ariefcatur/go-offline-sync.git/internal/kafkax"
	"github.com/ariefcatur/go-offline-sync.git/internal/realtime"
	"github.com/ariefcatur/go-offline-sync.git/internal/serverstore"
	"github.com/ariefcatur/go-offline-sync.git/internal/store"
	"github.com/ariefcatur/go-offline-sync.git/internal/transport"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SyncHandler struct {
	Repo            *serverstore.Repo
	DraftProducer   *kafkax.Producer
	PendingProducer *kafkax.Producer
	Service         string
	Log             *zap.SugaredLogger
}

func (h *SyncHandler) Register(r *chi.Mux) {
	r.Get("/api/sync/draft-orders", h.getDrafts)
	r.Post("/api/sync/draft-orders", h.postDrafts)
	r.Get("/api/sync/pending-orders", h.getPendings)
	r.Post("/api/sync/pending-orders", h.postPendings)
	r.Get("/api/sync/warehouse-items", h.getWarehouse)
	r.Post("/api/warehouse/batch-reserve", h.batchReserve)
	r.Post("/api/warehouse/batch-release", h.batchRelease)
	r.Post("/api/warehouse/batch-mark-sold", h.batchMarkSold)
	r.Post("/api/warehouse/batch-transfer", h.batchTransfer)
	r.Post(transport.LoginPath, h.login)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *SyncHandler) broadcast(p *kafkax.Producer, eventType, recordID, deviceID string, payload any) {
	env := realtime.Envelope{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		DeviceID:     deviceID,
		Producer:     h.Service,
		Payload:      kafkax.MustMarshal(payload),
	}
	p.Publish(realtime.PartitionKey(recordID), kafkax.MustMarshal(env))
}

func (h *SyncHandler) getDrafts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	drafts, err := h.Repo.ListDrafts(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "draftOrders": drafts})
}

func (h *SyncHandler) postDrafts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DraftOrders []store.DraftOrder `json:"draftOrders"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	results := make([]transport.PushResult, 0, len(req.DraftOrders))
	for _, d := range req.DraftOrders {
		action, serverTS, err := h.Repo.UpsertDraft(ctx, d)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
			return
		}
		results = append(results, transport.PushResult{ID: d.ID, Action: action})
		if action == transport.ActionSkipped {
			continue
		}
		eventType := realtime.EventDraftUpdated
		if action == transport.ActionCreated {
			eventType = realtime.EventDraftCreated
		}
		if d.Deleted {
			h.broadcast(h.DraftProducer, realtime.EventDraftDeleted, d.ID, d.DeviceID,
				realtime.DraftDeletedPayload{DraftID: d.ID})
			continue
		}
		d.UpdatedAt = serverTS
		h.broadcast(h.DraftProducer, eventType, d.ID, d.DeviceID, realtime.DraftPayload{Draft: d})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": results})
}

func (h *SyncHandler) getPendings(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	pendings, err := h.Repo.ListPendings(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "pendingOrders": pendings})
}

func (h *SyncHandler) postPendings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PendingOrders []store.PendingOrder `json:"pendingOrders"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	results := make([]transport.PushResult, 0, len(req.PendingOrders))
	for _, p := range req.PendingOrders {
		action, serverTS, err := h.Repo.UpsertPending(ctx, p)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
			return
		}
		results = append(results, transport.PushResult{ID: p.ID, Action: action})
		if action == transport.ActionSkipped {
			continue
		}
		eventType := realtime.EventPendingUpdated
		if action == transport.ActionCreated {
			eventType = realtime.EventPendingCreated
		}
		p.UpdatedAt = serverTS
		h.broadcast(h.PendingProducer, eventType, p.ID, p.DeviceID, realtime.PendingPayload{Pending: p})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": results})
}

func (h *SyncHandler) getWarehouse(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	items, err := h.Repo.ListWarehouse(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "warehouseItems": items})
}

func (h *SyncHandler) batchReserve(w http.ResponseWriter, r *http.Request) {
	var req transport.BatchReserveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid json"})
		return
	}
	n, err := h.Repo.BatchReserve(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "affected": n})
}

func (h *SyncHandler) batchRelease(w http.ResponseWriter, r *http.Request) {
	var req transport.BatchReleaseReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid json"})
		return
	}
	n, err := h.Repo.BatchRelease(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "affected": n})
}

func (h *SyncHandler) batchMarkSold(w http.ResponseWriter, r *http.Request) {
	var req transport.BatchMarkSoldReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid json"})
		return
	}
	n, err := h.Repo.BatchMarkSold(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "affected": n})
}

func (h *SyncHandler) batchTransfer(w http.ResponseWriter, r *http.Request) {
	var req transport.BatchTransferReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid json"})
		return
	}
	n, err := h.Repo.BatchTransfer(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "affected": n})
}

// login is a dev stub: any non-empty credentials get a token.
func (h *SyncHandler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "bad credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": uuid.NewString()})
}
