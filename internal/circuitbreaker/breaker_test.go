package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errOutage = errors.New("partner returned 503: service unavailable")
	errCaller = errors.New("validation failed: missing email")
)

func newTestBreaker(cfg Config) (*CircuitBreaker, *time.Time) {
	cb := New(cfg)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func fail(cb *CircuitBreaker, err error) error {
	return cb.Do(context.Background(), func(context.Context) error { return err })
}

func TestDo_OutageFailuresInsideWindowTrip(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "t", TripFailures: 3})

	require.Error(t, fail(cb, errOutage))
	require.Error(t, fail(cb, errOutage))
	assert.Equal(t, StateClosed, cb.State())

	require.Error(t, fail(cb, errOutage))
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Do(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestDo_CallerClassErrorsNeverTrip(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "t", TripFailures: 2})

	for i := 0; i < 10; i++ {
		require.Error(t, fail(cb, errCaller))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestDo_FailuresAgeOutOfWindow(t *testing.T) {
	cb, now := newTestBreaker(Config{Name: "t", TripFailures: 3, Window: 10 * time.Second})

	require.Error(t, fail(cb, errOutage))
	require.Error(t, fail(cb, errOutage))
	*now = now.Add(11 * time.Second)
	require.Error(t, fail(cb, errOutage))
	assert.Equal(t, StateClosed, cb.State())
}

func TestDo_ProbeSuccessesCloseTheCircuit(t *testing.T) {
	cb, now := newTestBreaker(Config{
		Name: "t", TripFailures: 1, CooloffInitial: 5 * time.Second, ProbeSuccesses: 2,
	})

	require.Error(t, fail(cb, errOutage))
	assert.Equal(t, StateOpen, cb.State())

	*now = now.Add(6 * time.Second)
	require.NoError(t, fail(cb, nil))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, fail(cb, nil))
	assert.Equal(t, StateClosed, cb.State())
}

func TestDo_FailedProbeReopensWithLongerCooloff(t *testing.T) {
	cb, now := newTestBreaker(Config{
		Name: "t", TripFailures: 1,
		CooloffInitial: 10 * time.Second, CooloffMax: time.Minute,
	})

	require.Error(t, fail(cb, errOutage))
	*now = now.Add(11 * time.Second)
	require.Error(t, fail(cb, errOutage)) // probe fails, trip 2 doubles the cool-off

	*now = now.Add(11 * time.Second)
	err := cb.Do(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)

	*now = now.Add(10 * time.Second) // full 20s cool-off elapsed
	assert.NoError(t, fail(cb, nil))
}

func TestDo_SingleProbeSlotInHalfOpen(t *testing.T) {
	cb, now := newTestBreaker(Config{
		Name: "t", TripFailures: 1, CooloffInitial: 5 * time.Second, ProbeSuccesses: 2,
	})

	require.Error(t, fail(cb, errOutage))
	*now = now.Add(6 * time.Second)

	probeRunning := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		cb.Do(context.Background(), func(context.Context) error {
			close(probeRunning)
			<-release
			return nil
		})
	}()
	<-probeRunning

	err := cb.Do(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrProbeInFlight)
	close(release)
	<-done
}

func TestOutageClass(t *testing.T) {
	assert.True(t, OutageClass(errOutage))
	assert.True(t, OutageClass(errors.New("rate limit exceeded")))
	assert.True(t, OutageClass(errors.New("read tcp: connection reset by peer")))
	assert.False(t, OutageClass(errCaller))
	assert.False(t, OutageClass(errors.New("resource not found")))
}

func TestHealthStatus_DegradedWhileAnyCircuitOpen(t *testing.T) {
	p := NewPartnerBreakers()
	status, snaps := p.HealthStatus()
	assert.Equal(t, "healthy", status)
	assert.Len(t, snaps, 2)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p.CRM.now = func() time.Time { return now }
	for i := 0; i < 5; i++ {
		fail(p.CRM, errOutage)
	}
	status, _ = p.HealthStatus()
	assert.Equal(t, "degraded", status)
}
