package realtime

import (
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-offline-sync.git/internal/store"
)

const (
	EventDraftCreated   = "DRAFT_CREATED"
	EventDraftUpdated   = "DRAFT_UPDATED"
	EventDraftDeleted   = "DRAFT_DELETED"
	EventDraftConverted = "DRAFT_CONVERTED"

	EventPendingCreated   = "PENDING_CREATED"
	EventPendingUpdated   = "PENDING_UPDATED"
	EventPendingDeleted   = "PENDING_DELETED"
	EventPendingSubmitted = "PENDING_SUBMITTED"

	EventJobStarted   = "JOB_STARTED"
	EventJobProgress  = "JOB_PROGRESS"
	EventJobCompleted = "JOB_COMPLETED"
	EventJobFailed    = "JOB_FAILED"
)

const (
	TopicDraftEvents   = "sync.draft-orders"
	TopicPendingEvents = "sync.pending-orders"
)

// PartitionKey keeps all events of one record ordered within the topic.
func PartitionKey(id string) []byte { return []byte(id) }

// IsJobEvent reports whether the event originates from the server-side
// placement bot. Bot events are never echo-suppressed: they must reach every
// device, including the one that created the order.
func IsJobEvent(eventType string) bool {
	switch eventType {
	case EventPendingSubmitted, EventJobStarted, EventJobProgress, EventJobCompleted, EventJobFailed:
		return true
	}
	return false
}

type Envelope struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	EventVersion int             `json:"event_version"`
	OccurredAt   time.Time       `json:"timestamp"` // server clock, the LWW authority
	DeviceID     string          `json:"device_id,omitempty"`
	Producer     string          `json:"producer"`
	Payload      json.RawMessage `json:"payload"`
}

// ServerTS is the envelope timestamp in the epoch-millis form the store uses.
func (e Envelope) ServerTS() int64 { return e.OccurredAt.UnixMilli() }

// ---- payloads ----

type DraftPayload struct {
	Draft store.DraftOrder `json:"draft"`
}

type DraftDeletedPayload struct {
	DraftID string `json:"draftId"`
}

type DraftConvertedPayload struct {
	DraftID        string `json:"draftId"`
	PendingOrderID string `json:"pendingOrderId"`
}

type PendingPayload struct {
	Pending store.PendingOrder `json:"pending"`
}

type PendingDeletedPayload struct {
	PendingOrderID string `json:"pendingOrderId"`
}

type JobPayload struct {
	PendingOrderID string `json:"pendingOrderId"`
	JobID          string `json:"jobId"`
	Progress       int    `json:"progress,omitempty"`
	JobOrderID     string `json:"jobOrderId,omitempty"`
	Error          string `json:"error,omitempty"`
}
