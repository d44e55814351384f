package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tg-crm/internal/database"
	"tg-crm/internal/database/models"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrAlreadyInProgress is returned when a broadcast is already being sent.
var ErrAlreadyInProgress = errors.New("broadcast already in progress")

// Machine moves broadcasts through draft -> queued -> sending -> completed.
// Entry into sending is exclusive: an in-process guard rejects concurrent callers
// and the store's conditional update rejects other processes.
type Machine struct {
	repo    database.BroadcastRepository
	running sync.Map // primitive.ObjectID -> run ID
}

// NewMachine creates a state machine over the broadcast store.
func NewMachine(repo database.BroadcastRepository) *Machine {
	return &Machine{repo: repo}
}

// Begin moves the broadcast into sending under the given run ID.
func (m *Machine) Begin(ctx context.Context, id primitive.ObjectID, runID string) error {
	if _, loaded := m.running.LoadOrStore(id, runID); loaded {
		return ErrAlreadyInProgress
	}

	ok, err := m.repo.TransitionState(ctx, id,
		[]models.BroadcastState{models.StateDraft, models.StateQueued, models.StateCompleted},
		models.StateSending, runID)
	if err != nil {
		m.running.Delete(id)
		return fmt.Errorf("starting broadcast %s: %w", id.Hex(), err)
	}
	if !ok {
		m.running.Delete(id)
		return ErrAlreadyInProgress
	}
	return nil
}

// Complete marks a run finished. A broadcast can be sent again afterwards.
func (m *Machine) Complete(ctx context.Context, id primitive.ObjectID) error {
	return m.leave(ctx, id, models.StateCompleted)
}

// Abort returns the broadcast to draft after a run that failed before any send.
func (m *Machine) Abort(ctx context.Context, id primitive.ObjectID) error {
	return m.leave(ctx, id, models.StateDraft)
}

// Requeue puts an interrupted run back in the queue.
func (m *Machine) Requeue(ctx context.Context, id primitive.ObjectID) error {
	return m.leave(ctx, id, models.StateQueued)
}

func (m *Machine) leave(ctx context.Context, id primitive.ObjectID, to models.BroadcastState) error {
	defer m.running.Delete(id)

	ok, err := m.repo.TransitionState(ctx, id, []models.BroadcastState{models.StateSending}, to, "")
	if err != nil {
		return fmt.Errorf("moving broadcast %s to %s: %w", id.Hex(), to, err)
	}
	if !ok {
		log.Warn().Str("broadcast", id.Hex()).Str("to", string(to)).Msg("[State] Broadcast was not in sending state")
	}
	return nil
}

// Enqueue requests asynchronous dispatch. Enqueueing a queued broadcast is a no-op.
func (m *Machine) Enqueue(ctx context.Context, id primitive.ObjectID) error {
	ok, err := m.repo.TransitionState(ctx, id,
		[]models.BroadcastState{models.StateDraft, models.StateCompleted},
		models.StateQueued, "")
	if err != nil {
		return fmt.Errorf("queueing broadcast %s: %w", id.Hex(), err)
	}
	if ok {
		return nil
	}

	b, err := m.repo.GetBroadcast(ctx, id)
	if err != nil {
		return err
	}
	if b.State == models.StateQueued {
		return nil
	}
	return ErrAlreadyInProgress
}

// Running reports whether this process is currently sending the broadcast.
func (m *Machine) Running(id primitive.ObjectID) bool {
	_, ok := m.running.Load(id)
	return ok
}

// RecoverInterrupted returns broadcasts left in sending by a previous process to draft.
// It must run before any dispatch starts.
func (m *Machine) RecoverInterrupted(ctx context.Context) (int, error) {
	stuck, err := m.repo.ListByState(ctx, models.StateSending, 0)
	if err != nil {
		return 0, fmt.Errorf("listing interrupted broadcasts: %w", err)
	}

	recovered := 0
	for _, b := range stuck {
		if m.Running(b.ID) {
			continue
		}
		ok, err := m.repo.TransitionState(ctx, b.ID, []models.BroadcastState{models.StateSending}, models.StateDraft, "")
		if err != nil {
			return recovered, fmt.Errorf("recovering broadcast %s: %w", b.ID.Hex(), err)
		}
		if ok {
			recovered++
			log.Warn().Str("broadcast", b.ID.Hex()).Str("run", b.RunID).Msg("[State] Interrupted run returned to draft")
		}
	}
	return recovered, nil
}
