package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-offline-sync.git/internal/kafkax"
	"github.com/ariefcatur/go-offline-sync.git/internal/redisx"
	"github.com/ariefcatur/go-offline-sync.git/internal/store"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Finalizer runs the normal cleanup after a confirmed job completion:
// finalize reservations as sold and drop the pending-order record. Implemented
// by the reservation coordinator.
type Finalizer interface {
	FinalizeCompleted(ctx context.Context, pendingOrderID, soldOrderID string) error
}

// DefaultCleanupDelay gives the UI time to show the success state before the
// completed order disappears.
const DefaultCleanupDelay = 4 * time.Second

// DefaultThrottleInterval collapses JOB_PROGRESS bursts into one write per
// order per interval.
const DefaultThrottleInterval = 300 * time.Millisecond

// PendingService applies pending-order and bot job events to the local store.
type PendingService struct {
	Store     *store.DB
	Redis     *redis.Client // optional, best-effort event dedup + status cache
	DeviceID  string
	Log       *zap.SugaredLogger
	Notifier  *Notifier
	Finalizer Finalizer

	CleanupDelay time.Duration
	throttle     *ProgressThrottle
}

// Start prepares the progress throttle. Must be called before Handle.
func (s *PendingService) Start(ctx context.Context, throttleInterval time.Duration) {
	if throttleInterval <= 0 {
		throttleInterval = DefaultThrottleInterval
	}
	if s.CleanupDelay <= 0 {
		s.CleanupDelay = DefaultCleanupDelay
	}
	s.throttle = NewProgressThrottle(throttleInterval, func(buf map[string]JobUpdate) {
		s.flushProgress(ctx, buf)
	})
}

func (s *PendingService) Stop() {
	if s.throttle != nil {
		s.throttle.Stop()
	}
}

// Handle is mounted as the kafka consumer handler for TopicPendingEvents.
func (s *PendingService) Handle(ctx context.Context, m kafkago.Message) error {
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return fmt.Errorf("decode pending event: %w", err)
	}
	if s.seen(ctx, env.EventID) {
		return nil
	}
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

func (s *PendingService) apply(ctx context.Context, env Envelope) (bool, error) {
	ts := env.ServerTS()
	switch env.EventType {
	case EventPendingCreated, EventPendingUpdated, EventPendingSubmitted:
		p, err := kafkax.UnwrapPayload[PendingPayload](env.Payload)
		if err != nil {
			return false, err
		}
		local, err := s.Store.GetPending(ctx, p.Pending.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		if local != nil && !Reconcile(local.ServerUpdatedAt, ts) {
			return false, nil
		}
		po := p.Pending
		po.ServerUpdatedAt = ts
		po.NeedsSync = false
		if err := s.Store.PutPending(ctx, &po); err != nil {
			return false, err
		}
		s.cacheStatus(ctx, po.ID, string(po.Status))
		return true, nil

	case EventPendingDeleted:
		p, err := kafkax.UnwrapPayload[PendingDeletedPayload](env.Payload)
		if err != nil {
			return false, err
		}
		// hard delete by declared policy, unlike drafts
		return true, s.Store.DeletePending(ctx, p.PendingOrderID)

	case EventJobStarted:
		return s.applyJob(ctx, env, store.JobStarted)

	case EventJobProgress:
		p, err := kafkax.UnwrapPayload[JobPayload](env.Payload)
		if err != nil {
			return false, err
		}
		s.throttle.Add(p.PendingOrderID, JobUpdate{JobID: p.JobID, Progress: p.Progress})
		return false, nil // flushed later in one batch

	case EventJobCompleted:
		applied, err := s.applyJob(ctx, env, store.JobCompleted)
		if err != nil {
			return applied, err
		}
		p, _ := kafkax.UnwrapPayload[JobPayload](env.Payload)
		s.scheduleCleanup(p.PendingOrderID, p.JobOrderID)
		return applied, nil

	case EventJobFailed:
		return s.applyJob(ctx, env, store.JobFailed)

	default:
		s.Log.Debugw("ignoring pending event", "type", env.EventType)
		return false, nil
	}
}

func (s *PendingService) applyJob(ctx context.Context, env Envelope, status store.JobStatus) (bool, error) {
	p, err := kafkax.UnwrapPayload[JobPayload](env.Payload)
	if err != nil {
		return false, err
	}
	local, err := s.Store.GetPending(ctx, p.PendingOrderID)
	if errors.Is(err, store.ErrNotFound) {
		// job event for an order this device never saw; the next pull fixes it
		s.Log.Debugw("job event for unknown pending order", "id", p.PendingOrderID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !store.CanTransitionJob(local.JobStatus, status) {
		return false, nil // stale transition, e.g. progress after completed
	}
	progress := p.Progress
	if status == store.JobCompleted {
		progress = 100
	}
	if err := s.Store.UpdateJob(ctx, p.PendingOrderID, status, progress, p.JobOrderID, p.Error); err != nil {
		return false, err
	}
	s.cacheStatus(ctx, p.PendingOrderID, string(status))
	return true, nil
}

func (s *PendingService) flushProgress(ctx context.Context, buf map[string]JobUpdate) {
	for id, u := range buf {
		local, err := s.Store.GetPending(ctx, id)
		if err != nil {
			continue
		}
		if !store.CanTransitionJob(local.JobStatus, store.JobProcessing) {
			continue
		}
		if err := s.Store.UpdateJob(ctx, id, store.JobProcessing, u.Progress, u.JobOrderID, ""); err != nil {
			s.Log.Warnw("flush job progress", "id", id, "err", err)
		}
	}
	s.Notifier.Notify()
}

// scheduleCleanup removes the completed order after CleanupDelay via the
// finalizer; a crash in between is caught by the recovery sweep on next load.
func (s *PendingService) scheduleCleanup(pendingOrderID, soldOrderID string) {
	if s.Finalizer == nil || pendingOrderID == "" || soldOrderID == "" {
		return
	}
	time.AfterFunc(s.CleanupDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Finalizer.FinalizeCompleted(ctx, pendingOrderID, soldOrderID); err != nil {
			s.Log.Warnw("finalize completed order", "id", pendingOrderID, "err", err)
			return
		}
		s.Notifier.Notify()
	})
}

func (s *PendingService) cacheStatus(ctx context.Context, id, status string) {
	if s.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, id)
	_ = s.Redis.Set(ctx, key, fmt.Sprintf(`{"status":%q}`, status), redisx.TTLStatusCache).Err()
}

func (s *PendingService) seen(ctx context.Context, eventID string) bool {
	if s.Redis == nil || eventID == "" {
		return false
	}
	key := fmt.Sprintf(redisx.KeyDedup, "pending-rt", eventID)
	exists, err := redisx.Exists(ctx, s.Redis, key)
	if err != nil {
		return false
	}
	if exists {
		return true
	}
	_ = s.Redis.Set(ctx, key, "1", redisx.TTLDedup).Err()
	return false
}
