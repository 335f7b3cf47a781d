package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-offline-sync.git/internal/kafkax"
	"github.com/ariefcatur/go-offline-sync.git/internal/redisx"
	"github.com/ariefcatur/go-offline-sync.git/internal/store"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DraftService applies server-pushed draft-order events to the local store.
// One instance per process, explicitly constructed and injected.
type DraftService struct {
	Store    *store.DB
	Redis    *redis.Client // optional, best-effort event dedup
	DeviceID string
	Log      *zap.SugaredLogger
	Notifier *Notifier
}

// Handle is mounted as the kafka consumer handler for TopicDraftEvents.
func (s *DraftService) Handle(ctx context.Context, m kafkago.Message) error {
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return fmt.Errorf("decode draft event: %w", err)
	}
	if s.seen(ctx, env.EventID) {
		return nil
	}

	// Echo suppression: this device already holds the authoritative copy of
	// its own mutation.
	if env.DeviceID != "" && env.DeviceID == s.DeviceID && !IsJobEvent(env.EventType) {
		return nil
	}

	applied, err := s.apply(ctx, env)
	if err != nil {
		return err
	}
	if applied {
		s.Notifier.Notify()
	}
	return nil
}

func (s *DraftService) apply(ctx context.Context, env Envelope) (bool, error) {
	ts := env.ServerTS()
	switch env.EventType {
	case EventDraftCreated, EventDraftUpdated:
		p, err := kafkax.UnwrapPayload[DraftPayload](env.Payload)
		if err != nil {
			return false, err
		}
		local, err := s.Store.GetDraft(ctx, p.Draft.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		if local != nil && !Reconcile(local.ServerUpdatedAt, ts) {
			return false, nil // local copy is newer or equal
		}
		d := p.Draft
		d.ServerUpdatedAt = ts
		d.NeedsSync = false
		return true, s.Store.PutDraft(ctx, &d)

	case EventDraftDeleted:
		p, err := kafkax.UnwrapPayload[DraftDeletedPayload](env.Payload)
		if err != nil {
			return false, err
		}
		return true, s.tombstone(ctx, p.DraftID, ts)

	case EventDraftConverted:
		p, err := kafkax.UnwrapPayload[DraftConvertedPayload](env.Payload)
		if err != nil {
			return false, err
		}
		return true, s.tombstone(ctx, p.DraftID, ts)

	default:
		s.Log.Debugw("ignoring draft event", "type", env.EventType)
		return false, nil
	}
}

// tombstone soft-deletes, inserting the tombstone row when the draft was
// never seen locally so a stale update cannot recreate it later.
func (s *DraftService) tombstone(ctx context.Context, id string, serverTS int64) error {
	_, err := s.Store.GetDraft(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return s.Store.PutDraft(ctx, &store.DraftOrder{
			ID:              id,
			UpdatedAt:       store.NowMillis(),
			ServerUpdatedAt: serverTS,
			Deleted:         true,
		})
	}
	if err != nil {
		return err
	}
	return s.Store.TombstoneDraft(ctx, id, serverTS)
}

func (s *DraftService) seen(ctx context.Context, eventID string) bool {
	if s.Redis == nil || eventID == "" {
		return false
	}
	key := fmt.Sprintf(redisx.KeyDedup, "draft-rt", eventID)
	exists, err := redisx.Exists(ctx, s.Redis, key)
	if err != nil {
		return false // dedup is best-effort; LWW makes re-application safe
	}
	if exists {
		return true
	}
	_ = s.Redis.Set(ctx, key, "1", redisx.TTLDedup).Err()
	return false
}
