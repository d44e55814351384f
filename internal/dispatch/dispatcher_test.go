package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"tg-crm/internal/broadcast"
	"tg-crm/internal/database/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeRunner struct {
	mu   sync.Mutex
	sent []primitive.ObjectID
	err  error
}

func (f *fakeRunner) Send(_ context.Context, id primitive.ObjectID) (*broadcast.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	if f.err != nil {
		return nil, f.err
	}
	return &broadcast.Summary{BroadcastID: id}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeSource struct {
	queued []models.Broadcast
}

func (f *fakeSource) ListByState(_ context.Context, state models.BroadcastState, _ int) ([]models.Broadcast, error) {
	if state != models.StateQueued {
		return nil, nil
	}
	return f.queued, nil
}

func TestStartSweepsQueuedBroadcasts(t *testing.T) {
	source := &fakeSource{queued: []models.Broadcast{
		{ID: primitive.NewObjectID(), State: models.StateQueued},
		{ID: primitive.NewObjectID(), State: models.StateQueued},
	}}
	runner := &fakeRunner{}
	d := New(Config{Workers: 2, RatePerSec: 100, Schedule: "@every 1h"}, runner, source)

	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { d.Stop(context.Background()) })

	require.Eventually(t, func() bool { return runner.count() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitDeduplicatesWaitingBroadcasts(t *testing.T) {
	d := New(Config{}, &fakeRunner{}, &fakeSource{})
	id := primitive.NewObjectID()

	assert.True(t, d.Submit(id))
	assert.False(t, d.Submit(id))
	assert.True(t, d.Submit(primitive.NewObjectID()))
}

func TestSubmitFullQueue(t *testing.T) {
	d := New(Config{QueueSize: 1}, &fakeRunner{}, &fakeSource{})

	assert.True(t, d.Submit(primitive.NewObjectID()))
	id := primitive.NewObjectID()
	assert.False(t, d.Submit(id))
	_, pending := d.pending.Load(id)
	assert.False(t, pending, "a rejected broadcast must be accepted by the next sweep")
}

func TestSubmittedBroadcastRuns(t *testing.T) {
	runner := &fakeRunner{err: broadcast.ErrAlreadyInProgress}
	d := New(Config{Workers: 1, RatePerSec: 100, Schedule: "@every 1h"}, runner, &fakeSource{})
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { d.Stop(context.Background()) })

	id := primitive.NewObjectID()
	require.True(t, d.Submit(id))
	require.Eventually(t, func() bool { return runner.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return d.Submit(id) }, 2*time.Second, 10*time.Millisecond, "a finished broadcast can be submitted again")
}

func TestStartRejectsBadSchedule(t *testing.T) {
	d := New(Config{Schedule: "every now and then"}, &fakeRunner{}, &fakeSource{})
	assert.Error(t, d.Start(context.Background()))
}

func TestStopIsIdempotent(t *testing.T) {
	d := New(Config{Schedule: "@every 1h"}, &fakeRunner{}, &fakeSource{})
	require.NoError(t, d.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.Stop(ctx)
	d.Stop(ctx)
}
