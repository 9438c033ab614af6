package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/promptgrid/internal/alert"
	"github.com/vnmchuo/promptgrid/internal/usage"
	"github.com/vnmchuo/promptgrid/internal/webhook"
	"github.com/vnmchuo/promptgrid/internal/worker"
)

type dispatched struct {
	tenantID string
	event    string
	data     any
}

type fakeDispatcher struct {
	mu  sync.Mutex
	got []dispatched
	err error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, tenantID, event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, dispatched{tenantID, event, data})
	return f.err
}

type fakeEvaluator struct {
	triggers []alert.Trigger
	err      error
}

func (f *fakeEvaluator) Evaluate(context.Context, string) ([]alert.Trigger, error) {
	return f.triggers, f.err
}

// inline runs jobs synchronously.
type inline struct{ err error }

func (i inline) Enqueue(job worker.Job) error {
	if i.err != nil {
		return i.err
	}
	_ = job.Run(context.Background())
	return nil
}

func TestUsageRecorded_DispatchesUsageAndAlerts(t *testing.T) {
	d := &fakeDispatcher{}
	trig := alert.Trigger{Alert: &alert.Alert{ID: "a1", Type: alert.Requests, Threshold: 100}, CurrentValue: 100}
	n := New(inline{}, d, &fakeEvaluator{triggers: []alert.Trigger{trig}}, zerolog.Nop())

	n.UsageRecorded(usage.Record{ID: "r1", TenantID: "t1"})

	require.Len(t, d.got, 2)
	assert.Equal(t, webhook.EventUsageCreated, d.got[0].event)
	assert.Equal(t, "r1", d.got[0].data.(usage.Record).ID)
	assert.Equal(t, webhook.EventAlertTriggered, d.got[1].event)
	assert.Equal(t, "a1", d.got[1].data.(alert.Trigger).Alert.ID)
}

func TestUsageRecorded_WebhookFailureStillEvaluatesAlerts(t *testing.T) {
	d := &fakeDispatcher{err: errors.New("no webhooks")}
	ev := &fakeEvaluator{triggers: []alert.Trigger{{Alert: &alert.Alert{ID: "a1"}}}}
	n := New(inline{}, d, ev, zerolog.Nop())

	n.UsageRecorded(usage.Record{TenantID: "t1"})
	assert.Len(t, d.got, 2)
}

func TestUsageRecorded_FullQueueDoesNotPanic(t *testing.T) {
	d := &fakeDispatcher{}
	n := New(inline{err: worker.ErrQueueFull}, d, &fakeEvaluator{}, zerolog.Nop())

	n.UsageRecorded(usage.Record{TenantID: "t1"})
	n.Publish("t1", webhook.EventConversationSaved, nil)
	assert.Empty(t, d.got)
}

func TestPublish_OnRealQueue(t *testing.T) {
	q := worker.NewQueue(1, 4, time.Second, zerolog.Nop())
	d := &fakeDispatcher{}
	n := New(q, d, &fakeEvaluator{}, zerolog.Nop())

	n.Publish("t1", webhook.EventConversationSaved, map[string]string{"id": "c1"})
	require.NoError(t, q.Close(context.Background()))

	require.Len(t, d.got, 1)
	assert.Equal(t, webhook.EventConversationSaved, d.got[0].event)
}
