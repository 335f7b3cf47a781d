package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/uptrace/bun"
)

// OrderItem is one line of a draft or pending order. Items travel as a JSON
// column; individual lines are never addressed by position.
type OrderItem struct {
	ProductID       string  `json:"product_id"`
	Description     string  `json:"description,omitempty"`
	Qty             int     `json:"qty"`
	UnitPriceCents  int64   `json:"unit_price_cents"`
	VATPercent      float64 `json:"vat_percent,omitempty"`
	WarehouseItemID string  `json:"warehouse_item_id,omitempty"`
}

// ItemList stores order lines as a JSON TEXT column.
type ItemList []OrderItem

func (l ItemList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *ItemList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("items: unsupported scan type %T", src)
	}
}

type Product struct {
	bun.BaseModel `bun:"table:products"`

	ID          string `bun:"id,pk" json:"id"`
	Code        string `bun:"code" json:"code"`
	Name        string `bun:"name" json:"name"`
	Description string `bun:"description" json:"description"`
	UpdatedAt   int64  `bun:"updated_at" json:"updatedAt"`
}

// ProductVariant is one package-size SKU of a product. Variants of related
// SKUs share product_name, the grouping key used by the packaging calculator.
type ProductVariant struct {
	bun.BaseModel `bun:"table:product_variants"`

	ID             string `bun:"id,pk" json:"id"`
	ProductID      string `bun:"product_id" json:"productId"`
	ProductName    string `bun:"product_name" json:"productName"`
	PackageSize    int    `bun:"package_size" json:"multipleQty"`
	MinQty         int    `bun:"min_qty" json:"minQty"`
	MaxQty         int    `bun:"max_qty" json:"maxQty"`
	PackageContent string `bun:"package_content" json:"packageContentLabel"`
	UpdatedAt      int64  `bun:"updated_at" json:"updatedAt"`
}

type Price struct {
	bun.BaseModel `bun:"table:prices"`

	ID             string  `bun:"id,pk" json:"id"`
	ProductID      string  `bun:"product_id" json:"productId"`
	CustomerID     string  `bun:"customer_id" json:"customerId"`
	UnitPriceCents int64   `bun:"unit_price_cents" json:"unitPriceCents"`
	VATPercent     float64 `bun:"vat_percent" json:"vatPercent"`
	UpdatedAt      int64   `bun:"updated_at" json:"updatedAt"`
}

type DraftOrder struct {
	bun.BaseModel `bun:"table:draft_orders"`

	ID              string   `bun:"id,pk" json:"id"`
	CustomerID      string   `bun:"customer_id" json:"customerId"`
	CustomerName    string   `bun:"customer_name" json:"customerName"`
	Items           ItemList `bun:"items" json:"items"`
	CreatedAt       int64    `bun:"created_at" json:"createdAt"`
	UpdatedAt       int64    `bun:"updated_at" json:"updatedAt"`
	DeviceID        string   `bun:"device_id" json:"deviceId"`
	NeedsSync       bool     `bun:"needs_sync" json:"needsSync"`
	ServerUpdatedAt int64    `bun:"server_updated_at" json:"serverUpdatedAt"`
	Deleted         bool     `bun:"deleted" json:"deleted"`
}

type PendingStatus string

const (
	PendingStatusPending   PendingStatus = "pending"
	PendingStatusSyncing   PendingStatus = "syncing"
	PendingStatusError     PendingStatus = "error"
	PendingStatusWarehouse PendingStatus = "completed-warehouse"
)

type JobStatus string

const (
	JobStarted    JobStatus = "started"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

var validJobNext = map[JobStatus]map[JobStatus]bool{
	JobStarted:    {JobProcessing: true, JobCompleted: true, JobFailed: true},
	JobProcessing: {JobProcessing: true, JobCompleted: true, JobFailed: true},
	JobCompleted:  {},
	JobFailed:     {},
}

// CanTransitionJob reports whether a job status change is legal. An empty
// `from` means the job has not started yet.
func CanTransitionJob(from, to JobStatus) bool {
	if from == "" {
		return true
	}
	return validJobNext[from][to]
}

type PendingOrder struct {
	bun.BaseModel `bun:"table:pending_orders"`

	ID                 string        `bun:"id,pk" json:"id"`
	CustomerID         string        `bun:"customer_id" json:"customerId"`
	CustomerName       string        `bun:"customer_name" json:"customerName"`
	Items              ItemList      `bun:"items" json:"items"`
	Status             PendingStatus `bun:"status" json:"status"`
	DiscountPercent    *float64      `bun:"discount_percent" json:"discountPercent,omitempty"`
	TargetTotalWithVAT *string       `bun:"target_total_with_vat" json:"targetTotalWithVAT,omitempty"`
	RetryCount         int           `bun:"retry_count" json:"retryCount"`
	ErrorMessage       string        `bun:"error_message" json:"errorMessage,omitempty"`
	CreatedAt          int64         `bun:"created_at" json:"createdAt"`
	UpdatedAt          int64         `bun:"updated_at" json:"updatedAt"`
	DeviceID           string        `bun:"device_id" json:"deviceId"`
	NeedsSync          bool          `bun:"needs_sync" json:"needsSync"`
	ServerUpdatedAt    int64         `bun:"server_updated_at" json:"serverUpdatedAt"`
	JobID              string        `bun:"job_id" json:"jobId,omitempty"`
	JobStatus          JobStatus     `bun:"job_status" json:"jobStatus,omitempty"`
	JobProgress        int           `bun:"job_progress" json:"jobProgress,omitempty"`
	JobOrderID         string        `bun:"job_order_id" json:"jobOrderId,omitempty"`
	OriginDraftID      string        `bun:"origin_draft_id" json:"originDraftId,omitempty"`
}

type WarehouseItem struct {
	bun.BaseModel `bun:"table:warehouse_items"`

	ID               string `bun:"id,pk" json:"id"`
	ArticleCode      string `bun:"article_code" json:"articleCode"`
	Description      string `bun:"description" json:"description"`
	Quantity         int    `bun:"quantity" json:"quantity"`
	BoxName          string `bun:"box_name" json:"boxName"`
	ReservedForOrder string `bun:"reserved_for_order" json:"reservedForOrder,omitempty"`
	SoldInOrder      string `bun:"sold_in_order" json:"soldInOrder,omitempty"`
	CustomerName     string `bun:"customer_name" json:"customerName,omitempty"`
	SubClientName    string `bun:"sub_client_name" json:"subClientName,omitempty"`
	UploadedAt       int64  `bun:"uploaded_at" json:"uploadedAt"`
	DeviceID         string `bun:"device_id" json:"deviceId"`
}

type CacheMeta struct {
	bun.BaseModel `bun:"table:cache_metadata"`

	Key         string `bun:"key,pk" json:"key"`
	LastSynced  int64  `bun:"last_synced" json:"lastSynced"`
	RecordCount int    `bun:"record_count" json:"recordCount"`
	Version     string `bun:"version" json:"version"`
}

// MirrorOp is a queued remote-mirror call for the reservation coordinator. A
// crashed or offline attempt is retried by the next sync cycle instead of
// being lost.
type MirrorOp struct {
	bun.BaseModel `bun:"table:mirror_queue"`

	ID         int64  `bun:"id,pk,autoincrement" json:"id"`
	Op         string `bun:"op" json:"op"`
	Payload    []byte `bun:"payload" json:"payload"`
	EnqueuedAt int64  `bun:"enqueued_at" json:"enqueuedAt"`
}

// DeletePolicy is a declared per-entity choice between tombstoning and
// physical deletion. New entity families must pick one explicitly.
type DeletePolicy int

const (
	DeleteTombstone DeletePolicy = iota
	DeleteHard
)

var deletePolicies = map[string]DeletePolicy{
	"draft_orders":   DeleteTombstone,
	"pending_orders": DeleteHard,
}

func PolicyFor(table string) DeletePolicy { return deletePolicies[table] }

// ReservationTag builds the reserved_for_order value for a pending order.
func ReservationTag(pendingOrderID string) string { return "pending-" + pendingOrderID }
