// Package wshub is the real-time client registry. Rather than an
// anonymous broadcast-to-everyone websocket pool, every session carries
// an identity and a subscription filter, and the authorization matrix is
// applied per event per session before a send, not just at connect time.
package wshub

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fieldops/control-plane/internal/events"
	"github.com/fieldops/control-plane/internal/metrics"
)

// Role mirrors the identity roles the authorization matrix keys on.
const (
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleAmbassador = "ambassador"
	RoleAffiliate  = "affiliate"
)

// SubscriptionFilter narrows which events a session wants, on top of
// whatever the authorization matrix already allows it to see.
type SubscriptionFilter struct {
	EventTypes []string
	EventIDs   []string
}

func (f SubscriptionFilter) matches(ev *events.DomainEvent) bool {
	if len(f.EventTypes) == 0 && len(f.EventIDs) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if t == ev.Type {
			return true
		}
	}
	// EventIDs filter on the domain Event entity the payload refers to,
	// not the envelope's own id.
	if eventID, ok := ev.Data["eventId"].(string); ok {
		for _, id := range f.EventIDs {
			if id == eventID {
				return true
			}
		}
	}
	return false
}

// session is one long-lived authenticated websocket connection.
type session struct {
	id          string
	userID      string
	role        string
	filter      SubscriptionFilter
	connectedAt time.Time

	mu       sync.Mutex
	lastPing time.Time
	conn     *websocket.Conn
	send     chan *events.DomainEvent
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastPing = time.Now()
	s.mu.Unlock()
}

func (s *session) staleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPing
}

func (s *session) setFilter(f SubscriptionFilter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

func (s *session) currentFilter() SubscriptionFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// Registry is the hub: register/unregister channels plus a
// mutex-guarded session map; Broadcast is the bus subscriber method.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session

	register   chan *session
	unregister chan *session

	bus     *events.Bus
	metrics *metrics.Metrics

	upgrader websocket.Upgrader
	logger   *log.Logger

	writeTimeout time.Duration
	staleAfter   time.Duration
	pingInterval time.Duration
}

// Config configures reaper/send timing (defaults: ping 30s, stale after
// 60s, write timeout 5s).
type Config struct {
	PingInterval time.Duration
	StaleAfter   time.Duration
	WriteTimeout time.Duration
}

func NewRegistry(bus *events.Bus, cfg Config) *Registry {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	r := &Registry{
		sessions:   make(map[string]*session),
		register:   make(chan *session),
		unregister: make(chan *session),
		bus:        bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:       log.New(log.Writer(), "[WSHUB] ", log.LstdFlags),
		writeTimeout: cfg.WriteTimeout,
		staleAfter:   cfg.StaleAfter,
		pingInterval: cfg.PingInterval,
	}
	bus.Subscribe("wshub-registry", r.Broadcast)
	return r
}

// WithMetrics attaches Prometheus instrumentation; omit in tests.
func (r *Registry) WithMetrics(m *metrics.Metrics) *Registry {
	r.metrics = m
	return r
}

// Run drives the register/unregister loop and the staleness reaper. It
// blocks until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-r.register:
			r.mu.Lock()
			r.sessions[s.id] = s
			r.mu.Unlock()
			r.logger.Printf("session %s connected (role=%s, total=%d)", s.id, s.role, r.Count())
			if r.metrics != nil {
				r.metrics.SetWSConnections(s.role, r.countByRole(s.role))
			}
		case s := <-r.unregister:
			r.mu.Lock()
			if _, ok := r.sessions[s.id]; ok {
				delete(r.sessions, s.id)
				close(s.send)
			}
			r.mu.Unlock()
			if r.metrics != nil {
				r.metrics.SetWSConnections(s.role, r.countByRole(s.role))
			}
		case <-ticker.C:
			r.reapStale()
		}
	}
}

// reapStale runs on Run's own goroutine, so it removes sessions inline
// rather than going back through the unregister channel it is draining.
func (r *Registry) reapStale() {
	cutoff := time.Now().Add(-r.staleAfter)
	r.mu.Lock()
	var stale []*session
	for _, s := range r.sessions {
		if s.staleSince().Before(cutoff) {
			stale = append(stale, s)
		}
	}
	for _, s := range stale {
		delete(r.sessions, s.id)
		close(s.send)
	}
	r.mu.Unlock()
	for _, s := range stale {
		r.logger.Printf("reaping stale session %s (role=%s)", s.id, s.role)
		if s.conn != nil {
			s.conn.Close()
		}
		if r.metrics != nil {
			r.metrics.SetWSConnections(s.role, r.countByRole(s.role))
		}
	}
}

// Count returns the number of connected sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) countByRole(role string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.role == role {
			n++
		}
	}
	return n
}

// HandleWebSocket upgrades the connection and registers a session for the
// already-authenticated userID/role, attached upstream by the auth
// middleware on a single endpoint negotiated after HTTP auth.
func (r *Registry) HandleWebSocket(w http.ResponseWriter, req *http.Request, userID, role string) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("upgrade error: %v", err)
		return
	}

	s := &session{
		id:          uuid.NewString(),
		userID:      userID,
		role:        role,
		connectedAt: time.Now(),
		lastPing:    time.Now(),
		conn:        conn,
		send:        make(chan *events.DomainEvent, 256),
	}
	r.register <- s

	go r.writePump(s)
	r.readPump(s)
}

func (r *Registry) writePump(s *session) {
	for ev := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(r.writeTimeout))
		if err := s.conn.WriteJSON(wireMessage{Type: "event", Data: ev}); err != nil {
			r.logger.Printf("write failed for session %s, disconnecting: %v", s.id, err)
			s.conn.Close()
			r.unregister <- s
			return
		}
	}
}

type clientMessage struct {
	Type         string              `json:"type"`
	Filters      *SubscriptionFilter `json:"filters,omitempty"`
	FromTimestamp int64              `json:"fromTimestamp,omitempty"`
	EventTypes   []string            `json:"eventTypes,omitempty"`
	Limit        int                 `json:"limit,omitempty"`
}

type wireMessage struct {
	Type      string              `json:"type"`
	Data      *events.DomainEvent `json:"data,omitempty"`
	Timestamp int64               `json:"timestamp,omitempty"`
}

func (r *Registry) readPump(s *session) {
	defer func() {
		s.conn.Close()
		r.unregister <- s
	}()
	for {
		var msg clientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "ping":
			s.touch()
			s.conn.SetWriteDeadline(time.Now().Add(r.writeTimeout))
			s.conn.WriteJSON(wireMessage{Type: "pong", Timestamp: time.Now().Unix()})
		case "subscribe":
			if msg.Filters != nil {
				s.setFilter(*msg.Filters)
			}
		case "replay":
			go r.serveReplay(s, msg)
		}
	}
}

func (r *Registry) serveReplay(s *session, msg clientMessage) {
	since := time.Unix(msg.FromTimestamp, 0)
	evs, err := r.bus.ReplayFromTime(context.Background(), since, msg.EventTypes, msg.Limit)
	if err != nil {
		r.logger.Printf("replay failed for session %s: %v", s.id, err)
		return
	}
	for _, ev := range evs {
		if !r.authorized(s, ev) {
			continue
		}
		select {
		case s.send <- ev:
		default:
		}
	}
}

// Broadcast is the Bus subscriber callback: it fans an event out to every
// session the authorization matrix and subscription filter allow.
func (r *Registry) Broadcast(ev *events.DomainEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if !r.authorized(s, ev) {
			continue
		}
		if !s.currentFilter().matches(ev) {
			continue
		}
		select {
		case s.send <- ev:
		default:
			r.logger.Printf("send buffer full for session %s, dropping event %s", s.id, ev.ID)
		}
	}
}

// authorized implements the per-role event-visibility matrix.
func (r *Registry) authorized(s *session, ev *events.DomainEvent) bool {
	switch s.role {
	case RoleAdmin, RoleManager:
		return true
	case RoleAmbassador:
		if ambassadorID, ok := ev.Data["ambassadorId"].(string); ok && ambassadorID == s.userID {
			return true
		}
		if eventID, ok := ev.Data["eventId"].(string); ok {
			for _, id := range s.currentFilter().EventIDs {
				if id == eventID {
					return true
				}
			}
		}
		return false
	case RoleAffiliate:
		return ev.Type == "external_sync.completed" || ev.Type == "payroll.processed"
	default:
		return false
	}
}
