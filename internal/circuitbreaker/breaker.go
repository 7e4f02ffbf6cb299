// Package circuitbreaker stops the integration clients and the sync
// orchestrator from hammering a partner that is down. It is deliberately
// not a generic request-counting breaker: tripping is tied to the error
// taxonomy in internal/retry, so only outage-class failures (server
// errors, network faults, rate limiting) open the circuit. A partner
// answering 404s or validation errors is up — those never trip it.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fieldops/control-plane/internal/retry"
)

// State is the circuit's position. Values are stable and exported to
// metrics as integers: 0=closed, 1=half_open, 2=open.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned while the cool-off is still running.
	ErrCircuitOpen = errors.New("circuitbreaker: partner circuit open")
	// ErrProbeInFlight is returned in half-open when another caller
	// already holds the single probe slot.
	ErrProbeInFlight = errors.New("circuitbreaker: recovery probe already in flight")
)

// Config tunes one partner's breaker.
type Config struct {
	Name string

	// Window is how far back outage failures are counted; TripFailures
	// of them inside the window open the circuit.
	Window       time.Duration
	TripFailures int

	// CooloffInitial is the first open-state cool-off; every trip
	// without an intervening recovery doubles it, capped at CooloffMax.
	CooloffInitial time.Duration
	CooloffMax     time.Duration

	// ProbeSuccesses is how many consecutive half-open probes must
	// succeed before the circuit closes again.
	ProbeSuccesses int

	// TripOn decides whether an error counts as a partner outage.
	// Defaults to OutageClass.
	TripOn func(error) bool

	OnStateChange func(name string, from, to State)
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	if c.TripFailures <= 0 {
		c.TripFailures = 5
	}
	if c.CooloffInitial <= 0 {
		c.CooloffInitial = 30 * time.Second
	}
	if c.CooloffMax <= 0 {
		c.CooloffMax = 5 * time.Minute
	}
	if c.ProbeSuccesses <= 0 {
		c.ProbeSuccesses = 2
	}
	if c.TripOn == nil {
		c.TripOn = OutageClass
	}
}

// OutageClass reports whether err says the partner itself is in trouble,
// per the retry classifier: server_error, network, and rate_limit count;
// everything else is a caller problem and leaves the circuit alone.
func OutageClass(err error) bool {
	var ce retry.ClassifiableError
	if errors.As(err, &ce) {
		return outageCategory(ce.Category())
	}
	return outageCategory(retry.Classify(err))
}

func outageCategory(c retry.Category) bool {
	return c == retry.CategoryServerError || c == retry.CategoryNetwork || c == retry.CategoryRateLimit
}

// CircuitBreaker tracks one partner's recent outage failures over a
// sliding window and gates calls while the partner cools off.
type CircuitBreaker struct {
	cfg    Config
	logger *log.Logger
	now    func() time.Time

	mu            sync.Mutex
	state         State
	failures      []time.Time // outage-class failures inside cfg.Window
	trips         int         // consecutive opens without a full recovery
	reopenAt      time.Time
	probeInFlight bool
	probeStreak   int
}

func New(cfg Config) *CircuitBreaker {
	cfg.applyDefaults()
	return &CircuitBreaker{
		cfg:    cfg,
		logger: log.New(log.Writer(), fmt.Sprintf("[BREAKER:%s] ", cfg.Name), log.LstdFlags),
		now:    time.Now,
	}
}

func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// SetOnStateChange replaces the state-change callback, e.g. to wire in
// Prometheus instrumentation after construction.
func (cb *CircuitBreaker) SetOnStateChange(fn func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.cfg.OnStateChange = fn
}

// Do runs fn if the circuit admits the call, then records its outcome.
// In half-open exactly one probe call is admitted at a time.
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if now.Before(cb.reopenAt) {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.probeInFlight = true
		return nil
	default: // StateHalfOpen
		if cb.probeInFlight {
			return ErrProbeInFlight
		}
		cb.probeInFlight = true
		return nil
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	probing := cb.state == StateHalfOpen
	if probing {
		cb.probeInFlight = false
	}

	// A response that isn't an outage — success, or a caller-class error
	// like validation/not_found — means the partner answered.
	if err == nil || !cb.cfg.TripOn(err) {
		if probing {
			cb.probeStreak++
			if cb.probeStreak >= cb.cfg.ProbeSuccesses {
				cb.failures = nil
				cb.trips = 0
				cb.transition(StateClosed)
			}
		}
		return
	}

	if probing {
		// Partner still down: reopen with a longer cool-off.
		cb.open(now)
		return
	}

	cb.failures = append(cb.pruned(now), now)
	if len(cb.failures) >= cb.cfg.TripFailures {
		cb.open(now)
	}
}

// open trips the circuit, doubling the cool-off for every consecutive
// trip since the last full recovery.
func (cb *CircuitBreaker) open(now time.Time) {
	cb.trips++
	cooloff := cb.cfg.CooloffInitial
	for i := 1; i < cb.trips && cooloff < cb.cfg.CooloffMax; i++ {
		cooloff *= 2
	}
	if cooloff > cb.cfg.CooloffMax {
		cooloff = cb.cfg.CooloffMax
	}
	cb.reopenAt = now.Add(cooloff)
	cb.probeStreak = 0
	cb.failures = nil
	cb.logger.Printf("circuit opened for %s (trip %d)", cooloff, cb.trips)
	cb.transition(StateOpen)
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// pruned drops failures that have aged out of the window.
func (cb *CircuitBreaker) pruned(now time.Time) []time.Time {
	cutoff := now.Add(-cb.cfg.Window)
	kept := cb.failures[:0]
	for _, t := range cb.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// State reports the circuit's effective position: an open circuit whose
// cool-off has elapsed reads as half-open, since the next call will be
// admitted as a probe.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && !cb.now().Before(cb.reopenAt) {
		return StateHalfOpen
	}
	return cb.state
}

// Snapshot is a point-in-time view for health endpoints.
type Snapshot struct {
	Name             string    `json:"name"`
	State            string    `json:"state"`
	RecentFailures   int       `json:"recentFailures"`
	ConsecutiveTrips int       `json:"consecutiveTrips"`
	ReopenAt         time.Time `json:"reopenAt,omitempty"`
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	state := cb.State()
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cutoff := cb.now().Add(-cb.cfg.Window)
	recent := 0
	for _, t := range cb.failures {
		if t.After(cutoff) {
			recent++
		}
	}
	return Snapshot{
		Name:             cb.cfg.Name,
		State:            state.String(),
		RecentFailures:   recent,
		ConsecutiveTrips: cb.trips,
		ReopenAt:         cb.reopenAt,
	}
}

// PartnerBreakers holds one breaker per external partner. The CRM breaker
// trips fast and cools off briefly — sign-up fan-out sits behind it and a
// stuck leg just lands in sync_failures for retry. The expense breaker
// tolerates more failures but cools off longer, since its traffic is
// batch reconciliation with no user waiting on it.
type PartnerBreakers struct {
	CRM     *CircuitBreaker
	Expense *CircuitBreaker
}

func NewPartnerBreakers() *PartnerBreakers {
	return &PartnerBreakers{
		CRM: New(Config{
			Name:           "crm",
			Window:         30 * time.Second,
			TripFailures:   5,
			CooloffInitial: 15 * time.Second,
			CooloffMax:     2 * time.Minute,
			ProbeSuccesses: 2,
		}),
		Expense: New(Config{
			Name:           "expense",
			Window:         60 * time.Second,
			TripFailures:   8,
			CooloffInitial: 30 * time.Second,
			CooloffMax:     5 * time.Minute,
			ProbeSuccesses: 3,
		}),
	}
}

// HealthStatus summarizes both partners for a health endpoint: degraded
// if any circuit is open.
func (p *PartnerBreakers) HealthStatus() (string, []Snapshot) {
	snaps := []Snapshot{p.CRM.Snapshot(), p.Expense.Snapshot()}
	for _, s := range snaps {
		if s.State == StateOpen.String() {
			return "degraded", snaps
		}
	}
	return "healthy", snaps
}
