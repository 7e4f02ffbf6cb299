package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_AssignsMonotonicSeq(t *testing.T) {
	b := NewBus(nil, 10)
	ev1 := b.Publish(context.Background(), "sign_up.created", "signup-pipeline", "su-1", nil, nil)
	ev2 := b.Publish(context.Background(), "sign_up.created", "signup-pipeline", "su-2", nil, nil)
	assert.Equal(t, int64(1), ev1.Seq)
	assert.Equal(t, int64(2), ev2.Seq)
}

func TestPublish_FansOutToSubscribers(t *testing.T) {
	b := NewBus(nil, 10)
	var mu sync.Mutex
	var received []*DomainEvent
	b.Subscribe("sub-1", func(ev *DomainEvent) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, ev)
	})
	b.Publish(context.Background(), "kpi.alert_triggered", "kpi-evaluator", "kpi-1", nil, map[string]interface{}{"x": 1})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "kpi.alert_triggered", received[0].Type)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := NewBus(nil, 10)
	count := 0
	b.Subscribe("sub-1", func(ev *DomainEvent) { count++ })
	b.Publish(context.Background(), "t1", "src", "", nil, nil)
	b.Unsubscribe("sub-1")
	b.Publish(context.Background(), "t2", "src", "", nil, nil)
	assert.Equal(t, 1, count)
}

func TestReplay_ReturnsOnlyEventsAfterSinceSeq(t *testing.T) {
	b := NewBus(nil, 10)
	for i := 0; i < 5; i++ {
		b.Publish(context.Background(), "e", "src", "", nil, nil)
	}
	out, err := b.Replay(context.Background(), 3, nil, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(4), out[0].Seq)
	assert.Equal(t, int64(5), out[1].Seq)
}

func TestReplay_FiltersByEventType(t *testing.T) {
	b := NewBus(nil, 10)
	b.Publish(context.Background(), "sign_up.created", "src", "", nil, nil)
	b.Publish(context.Background(), "kpi.alert_triggered", "src", "", nil, nil)
	b.Publish(context.Background(), "sign_up.created", "src", "", nil, nil)

	out, err := b.Replay(context.Background(), 0, []string{"kpi.alert_triggered"}, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "kpi.alert_triggered", out[0].Type)
}

func TestReplay_RespectsLimit(t *testing.T) {
	b := NewBus(nil, 10)
	for i := 0; i < 5; i++ {
		b.Publish(context.Background(), "e", "src", "", nil, nil)
	}
	out, err := b.Replay(context.Background(), 0, nil, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(1), out[0].Seq)
	assert.Equal(t, int64(2), out[1].Seq)
}

func TestBuffer_EvictsOldestPastCapacity(t *testing.T) {
	b := NewBus(nil, 3)
	for i := 0; i < 5; i++ {
		b.Publish(context.Background(), "e", "src", "", nil, nil)
	}
	out, err := b.Replay(context.Background(), 0, nil, 0)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, int64(3), out[0].Seq)
	assert.Equal(t, int64(5), out[2].Seq)
}

func TestReplayFromTime_ReturnsEventsAtOrAfterSince(t *testing.T) {
	b := NewBus(nil, 10)
	var published []*DomainEvent
	for i := 0; i < 5; i++ {
		published = append(published, b.Publish(context.Background(), "e", "src", "", nil, nil))
	}

	out, err := b.ReplayFromTime(context.Background(), published[2].Time, nil, 0)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, published[2].Seq, out[0].Seq)
	assert.Equal(t, published[4].Seq, out[2].Seq)
}

func TestReplayFromTime_ExcludesEventsBeforeSince(t *testing.T) {
	b := NewBus(nil, 10)
	b.Publish(context.Background(), "e", "src", "", nil, nil)
	future := time.Now().Add(time.Hour)
	out, err := b.ReplayFromTime(context.Background(), future, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestReplayFromTime_FiltersByEventType(t *testing.T) {
	b := NewBus(nil, 10)
	first := b.Publish(context.Background(), "sign_up.created", "src", "", nil, nil)
	b.Publish(context.Background(), "kpi.alert_triggered", "src", "", nil, nil)

	out, err := b.ReplayFromTime(context.Background(), first.Time, []string{"kpi.alert_triggered"}, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "kpi.alert_triggered", out[0].Type)
}

func TestSubscriberCount(t *testing.T) {
	b := NewBus(nil, 10)
	assert.Equal(t, 0, b.SubscriberCount())
	b.Subscribe("a", func(*DomainEvent) {})
	b.Subscribe("b", func(*DomainEvent) {})
	assert.Equal(t, 2, b.SubscriberCount())
	b.Unsubscribe("a")
	assert.Equal(t, 1, b.SubscriberCount())
}
