// Package events is the durable domain event bus: a publish/subscribe
// hub with a persisted log and a replay method. Every publish is
// appended to domain_event_log via internal/store before fan-out, so a
// client that reconnects after a gap can recover what it missed instead
// of only ever seeing events emitted while connected.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/control-plane/internal/models"
	"github.com/fieldops/control-plane/internal/store"
)

// DomainEvent is the envelope published on the bus: a CloudEvents-ish
// type/source/subject/time/data shape plus the monotonic Seq the replay
// buffer indexes on.
type DomainEvent struct {
	ID      string                 `json:"id"`
	Seq     int64                  `json:"seq"`
	Type    string                 `json:"type"`
	Source  string                 `json:"source"`
	Subject string                 `json:"subject,omitempty"`
	Time    time.Time              `json:"time"`
	UserID  *string                `json:"userId,omitempty"`
	Data    map[string]interface{} `json:"data"`
}

func (e *DomainEvent) JSON() ([]byte, error) { return json.Marshal(e) }

// Subscriber is the callback a registry wires in to receive published
// events. Returning quickly matters: Publish invokes subscribers
// synchronously, one after another, after releasing Bus's lock.
type Subscriber func(*DomainEvent)

// Bus is an in-process publish/persist/fan-out bus. Subscribers are plain
// callbacks (wshub.Registry.Broadcast is the only production subscriber);
// tests may subscribe directly.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string]Subscriber // subscriber id -> callback
	store      *store.Store
	logger     *log.Logger
	bufferSize int
	seq        int64
	buffer     []*DomainEvent // bounded FIFO replay buffer
}

// NewBus creates a bus backed by st for durability, with a replay buffer
// holding the last bufferSize events in memory (default 1000).
func NewBus(st *store.Store, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Bus{
		subs:       make(map[string]Subscriber),
		store:      st,
		logger:     log.New(log.Writer(), "[EVENTS] ", log.LstdFlags),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a callback under id, replacing any existing
// subscriber with that id. wshub.Registry uses one subscription for its
// whole broadcast fan-out, not one per client.
func (b *Bus) Subscribe(id string, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = fn
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish persists the event to domain_event_log, assigns it the next
// sequence number, appends it to the replay buffer, and fans it out to
// every subscriber. Persistence failures are logged but do not block
// fan-out: a client still wants the event live even if the durable log
// write lagged behind — the log is best-effort-durable, not
// transactionally coupled to delivery.
func (b *Bus) Publish(ctx context.Context, eventType, source, subject string, userID *string, data map[string]interface{}) *DomainEvent {
	ev := &DomainEvent{
		ID:      uuid.NewString(),
		Type:    eventType,
		Source:  source,
		Subject: subject,
		Time:    time.Now(),
		UserID:  userID,
		Data:    data,
	}

	b.mu.Lock()
	b.seq++
	ev.Seq = b.seq
	b.buffer = append(b.buffer, ev)
	if len(b.buffer) > b.bufferSize {
		b.buffer = b.buffer[len(b.buffer)-b.bufferSize:]
	}
	subs := make([]Subscriber, 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	if b.store != nil {
		if err := b.persist(ctx, ev); err != nil {
			b.logger.Printf("failed to persist event %s (type=%s): %v", ev.ID, ev.Type, err)
		}
	}

	for _, fn := range subs {
		fn(ev)
	}
	return ev
}

func (b *Bus) persist(ctx context.Context, ev *DomainEvent) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = b.store.Exec(ctx, `
		INSERT INTO domain_event_log (id, seq, type, payload, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.Seq, ev.Type, payload, ev.UserID, ev.Time)
	return err
}

// Replay returns buffered events with Seq greater than sinceSeq, optionally
// filtered to eventTypes, oldest first, capped at limit. It first checks the
// in-memory buffer; if sinceSeq is older than the buffer's earliest entry it
// falls back to the durable log, or, on a bus with no store, returns what the
// buffer still holds.
func (b *Bus) Replay(ctx context.Context, sinceSeq int64, eventTypes []string, limit int) ([]*DomainEvent, error) {
	b.mu.RLock()
	haveFromBuffer := len(b.buffer) == 0 || b.buffer[0].Seq <= sinceSeq+1
	var out []*DomainEvent
	if haveFromBuffer || b.store == nil {
		for _, ev := range b.buffer {
			if ev.Seq <= sinceSeq {
				continue
			}
			if len(eventTypes) > 0 && !containsType(eventTypes, ev.Type) {
				continue
			}
			out = append(out, ev)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	b.mu.RUnlock()

	if haveFromBuffer || b.store == nil {
		return out, nil
	}
	return b.replayFromLog(ctx, sinceSeq, eventTypes, limit)
}

// ReplayFromTime returns every event with CreatedAt >= since, optionally
// filtered to eventTypes, oldest first, capped at limit. It is the
// timestamp-keyed counterpart to Replay: a client's {type:"replay",
// fromTimestamp} carries a unix timestamp, not a sequence number, so it
// must be compared against event time rather than Seq.
func (b *Bus) ReplayFromTime(ctx context.Context, since time.Time, eventTypes []string, limit int) ([]*DomainEvent, error) {
	b.mu.RLock()
	haveFromBuffer := len(b.buffer) == 0 || !b.buffer[0].Time.After(since)
	var out []*DomainEvent
	if haveFromBuffer || b.store == nil {
		for _, ev := range b.buffer {
			if ev.Time.Before(since) {
				continue
			}
			if len(eventTypes) > 0 && !containsType(eventTypes, ev.Type) {
				continue
			}
			out = append(out, ev)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	b.mu.RUnlock()

	if haveFromBuffer || b.store == nil {
		return out, nil
	}
	return b.replayFromLogByTime(ctx, since, eventTypes, limit)
}

func (b *Bus) replayFromLogByTime(ctx context.Context, since time.Time, eventTypes []string, limit int) ([]*DomainEvent, error) {
	if limit <= 0 {
		limit = b.bufferSize
	}
	var out []*DomainEvent
	err := b.store.Query(ctx, func(rows *sql.Rows) error {
		var rec models.DomainEventLog
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.Seq, &rec.Type, &payload, &rec.UserID, &rec.CreatedAt); err != nil {
			return err
		}
		var data map[string]interface{}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &data); err != nil {
				return err
			}
		}
		if len(eventTypes) > 0 && !containsType(eventTypes, rec.Type) {
			return nil
		}
		out = append(out, &DomainEvent{
			ID: rec.ID, Seq: rec.Seq, Type: rec.Type, Time: rec.CreatedAt,
			UserID: rec.UserID, Data: data,
		})
		return nil
	}, `SELECT id, seq, type, payload, user_id, created_at FROM domain_event_log
		WHERE created_at >= $1 ORDER BY created_at ASC LIMIT $2`, since, limit)
	return out, err
}

func (b *Bus) replayFromLog(ctx context.Context, sinceSeq int64, eventTypes []string, limit int) ([]*DomainEvent, error) {
	if limit <= 0 {
		limit = b.bufferSize
	}
	var out []*DomainEvent
	err := b.store.Query(ctx, func(rows *sql.Rows) error {
		var rec models.DomainEventLog
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.Seq, &rec.Type, &payload, &rec.UserID, &rec.CreatedAt); err != nil {
			return err
		}
		var data map[string]interface{}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &data); err != nil {
				return err
			}
		}
		if len(eventTypes) > 0 && !containsType(eventTypes, rec.Type) {
			return nil
		}
		out = append(out, &DomainEvent{
			ID: rec.ID, Seq: rec.Seq, Type: rec.Type, Time: rec.CreatedAt,
			UserID: rec.UserID, Data: data,
		})
		return nil
	}, `SELECT id, seq, type, payload, user_id, created_at FROM domain_event_log
		WHERE seq > $1 ORDER BY seq ASC LIMIT $2`, sinceSeq, limit)
	return out, err
}

func containsType(types []string, t string) bool {
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

// SubscriberCount reports the number of registered subscribers (tests,
// health checks).
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
