package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ariefcatur/go-offline-sync.git/internal/store"
)

// API is the typed surface over the sync server's REST boundary.
type API struct {
	C *Client
}

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionSkipped = "skipped"
)

type PushResult struct {
	ID     string `json:"id"`
	Action string `json:"action"`
}

type pushResponse struct {
	Success bool         `json:"success"`
	Results []PushResult `json:"results"`
}

type draftsResponse struct {
	Success     bool               `json:"success"`
	DraftOrders []store.DraftOrder `json:"draftOrders"`
}

type pendingsResponse struct {
	Success       bool                 `json:"success"`
	PendingOrders []store.PendingOrder `json:"pendingOrders"`
}

type warehouseResponse struct {
	Success        bool                  `json:"success"`
	WarehouseItems []store.WarehouseItem `json:"warehouseItems"`
}

func (a *API) PullDrafts(ctx context.Context) ([]store.DraftOrder, error) {
	var resp draftsResponse
	if err := a.C.DoJSON(ctx, http.MethodGet, "/api/sync/draft-orders", nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("pull draft-orders: server reported failure")
	}
	return resp.DraftOrders, nil
}

func (a *API) PushDrafts(ctx context.Context, drafts []store.DraftOrder) ([]PushResult, error) {
	var resp pushResponse
	body := map[string]any{"draftOrders": drafts}
	if err := a.C.DoJSON(ctx, http.MethodPost, "/api/sync/draft-orders", body, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (a *API) PullPendings(ctx context.Context) ([]store.PendingOrder, error) {
	var resp pendingsResponse
	if err := a.C.DoJSON(ctx, http.MethodGet, "/api/sync/pending-orders", nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("pull pending-orders: server reported failure")
	}
	return resp.PendingOrders, nil
}

func (a *API) PushPendings(ctx context.Context, pendings []store.PendingOrder) ([]PushResult, error) {
	var resp pushResponse
	body := map[string]any{"pendingOrders": pendings}
	if err := a.C.DoJSON(ctx, http.MethodPost, "/api/sync/pending-orders", body, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (a *API) PullWarehouse(ctx context.Context) ([]store.WarehouseItem, error) {
	var resp warehouseResponse
	if err := a.C.DoJSON(ctx, http.MethodGet, "/api/sync/warehouse-items", nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("pull warehouse-items: server reported failure")
	}
	return resp.WarehouseItems, nil
}

// --- warehouse mutation mirror endpoints ---

type BatchReserveReq struct {
	OrderID       string   `json:"orderId"`
	ItemIDs       []string `json:"itemIds"`
	CustomerName  string   `json:"customerName,omitempty"`
	SubClientName string   `json:"subClientName,omitempty"`
}

type BatchReleaseReq struct {
	OrderID string `json:"orderId"`
}

type BatchMarkSoldReq struct {
	PendingOrderID string `json:"pendingOrderId"`
	SoldOrderID    string `json:"soldOrderId"`
	CustomerName   string `json:"customerName,omitempty"`
	SubClientName  string `json:"subClientName,omitempty"`
}

type BatchTransferReq struct {
	FromOrderIDs []string `json:"fromOrderIds"`
	ToOrderID    string   `json:"toOrderId"`
}

type batchResponse struct {
	Success  bool `json:"success"`
	Affected int  `json:"affected"`
}

func (a *API) BatchReserve(ctx context.Context, req BatchReserveReq) (int, error) {
	var resp batchResponse
	if err := a.C.DoJSON(ctx, http.MethodPost, "/api/warehouse/batch-reserve", req, &resp); err != nil {
		return 0, err
	}
	return resp.Affected, nil
}

func (a *API) BatchRelease(ctx context.Context, req BatchReleaseReq) (int, error) {
	var resp batchResponse
	if err := a.C.DoJSON(ctx, http.MethodPost, "/api/warehouse/batch-release", req, &resp); err != nil {
		return 0, err
	}
	return resp.Affected, nil
}

func (a *API) BatchMarkSold(ctx context.Context, req BatchMarkSoldReq) (int, error) {
	var resp batchResponse
	if err := a.C.DoJSON(ctx, http.MethodPost, "/api/warehouse/batch-mark-sold", req, &resp); err != nil {
		return 0, err
	}
	return resp.Affected, nil
}

func (a *API) BatchTransfer(ctx context.Context, req BatchTransferReq) (int, error) {
	var resp batchResponse
	if err := a.C.DoJSON(ctx, http.MethodPost, "/api/warehouse/batch-transfer", req, &resp); err != nil {
		return 0, err
	}
	return resp.Affected, nil
}

// Login exchanges credentials for a bearer token. A 401 here is ordinary bad
// credentials, not session expiry, so the retry layer leaves it alone.
func (a *API) Login(ctx context.Context, username, password string) error {
	var resp struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := a.C.DoJSON(ctx, http.MethodPost, LoginPath, body, &resp); err != nil {
		return err
	}
	if !resp.Success || resp.Token == "" {
		return fmt.Errorf("login rejected")
	}
	a.C.Tokens.Set(resp.Token)
	return nil
}
