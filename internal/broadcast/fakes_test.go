package broadcast

import (
	"context"
	"slices"
	"sync"

	"tg-crm/internal/database"
	"tg-crm/internal/database/models"
	"tg-crm/internal/media"
	"tg-crm/internal/sender"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeBroadcasts struct {
	mu    sync.Mutex
	items map[primitive.ObjectID]*models.Broadcast
}

func newFakeBroadcasts(bs ...*models.Broadcast) *fakeBroadcasts {
	f := &fakeBroadcasts{items: make(map[primitive.ObjectID]*models.Broadcast)}
	for _, b := range bs {
		f.items[b.ID] = b
	}
	return f
}

func (f *fakeBroadcasts) get(id primitive.ObjectID) models.Broadcast {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.items[id]
}

func (f *fakeBroadcasts) CreateBroadcast(_ context.Context, b *models.Broadcast) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.ID.IsZero() {
		b.ID = primitive.NewObjectID()
	}
	cp := *b
	f.items[b.ID] = &cp
	return nil
}

func (f *fakeBroadcasts) GetBroadcast(_ context.Context, id primitive.ObjectID) (*models.Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.items[id]
	if !ok {
		return nil, database.ErrBroadcastNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBroadcasts) TransitionState(_ context.Context, id primitive.ObjectID, from []models.BroadcastState, to models.BroadcastState, runID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.items[id]
	if !ok {
		return false, database.ErrBroadcastNotFound
	}
	if !slices.Contains(from, b.State) {
		return false, nil
	}
	b.State = to
	if to == models.StateSending {
		b.RunID = runID
	}
	return true, nil
}

func (f *fakeBroadcasts) MarkSent(_ context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.items[id]
	if !ok {
		return database.ErrBroadcastNotFound
	}
	b.Sent = true
	return nil
}

func (f *fakeBroadcasts) ListByState(_ context.Context, state models.BroadcastState, limit int) ([]models.Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Broadcast
	for _, b := range f.items {
		if b.State == state {
			out = append(out, *b)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeClients struct {
	mu      sync.Mutex
	clients []models.Client
}

func (f *fakeClients) GetClients(_ context.Context, ids []primitive.ObjectID) ([]models.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Client
	for _, c := range f.clients {
		if slices.Contains(ids, c.ID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeClients) MarkBlocked(_ context.Context, id primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.clients {
		if f.clients[i].ID == id {
			f.clients[i].Blocked = true
		}
	}
	return nil
}

func (f *fakeClients) UpsertClient(_ context.Context, client *models.Client) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients = append(f.clients, *client)
	return nil
}

func (f *fakeClients) blocked(id primitive.ObjectID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clients {
		if c.ID == id {
			return c.Blocked
		}
	}
	return false
}

// fakeSender returns a fixed outcome per chat and sent for everyone else.
type fakeSender struct {
	mu       sync.Mutex
	outcomes map[int64]sender.Outcome
	calls    []int64
	payloads [][]media.Payload
	onSend   func(ctx context.Context, chatID int64)
}

func (f *fakeSender) Send(ctx context.Context, chatID int64, payloads []media.Payload) sender.Outcome {
	if f.onSend != nil {
		f.onSend(ctx, chatID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chatID)
	f.payloads = append(f.payloads, payloads)
	if o, ok := f.outcomes[chatID]; ok {
		return o
	}
	return sender.Outcome{Status: models.DeliverySent}
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNotifier struct {
	mu        sync.Mutex
	summaries []*Summary
}

func (f *fakeNotifier) NotifyCompleted(_ context.Context, s *Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
	return nil
}
