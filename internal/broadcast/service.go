package broadcast

import (
	"context"
	"errors"
	"time"

	"tg-crm/internal/database"
	"tg-crm/internal/database/models"

	sentry "github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const stateWriteTimeout = 10 * time.Second

// Notifier is told about every finished run.
type Notifier interface {
	NotifyCompleted(ctx context.Context, s *Summary) error
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Broadcasts     database.BroadcastRepository
	Clients        database.ClientRepository
	Ledger         database.DeliveryLedger
	Resolver       PayloadResolver
	Sender         Deliverer
	Notifier       Notifier // Optional
	RecipientDelay time.Duration
}

// Engine is the entry point for sending broadcasts.
type Engine struct {
	broadcasts   database.BroadcastRepository
	resolver     PayloadResolver
	machine      *Machine
	orchestrator *Orchestrator
	ledger       database.DeliveryLedger
	notifier     Notifier
}

// NewEngine wires the state machine and the fan-out.
func NewEngine(d Deps) *Engine {
	return &Engine{
		broadcasts:   d.Broadcasts,
		resolver:     d.Resolver,
		machine:      NewMachine(d.Broadcasts),
		orchestrator: NewOrchestrator(d.Broadcasts, d.Clients, d.Ledger, d.Resolver, d.Sender, d.RecipientDelay),
		ledger:       d.Ledger,
		notifier:     d.Notifier,
	}
}

// Machine exposes the lifecycle guard.
func (e *Engine) Machine() *Machine {
	return e.machine
}

// Send runs the broadcast now and returns its summary. It fails with
// ErrAlreadyInProgress if the broadcast is being sent elsewhere.
func (e *Engine) Send(ctx context.Context, id primitive.ObjectID) (*Summary, error) {
	runID := uuid.NewString()
	if err := e.machine.Begin(ctx, id, runID); err != nil {
		return nil, err
	}

	summary, err := e.orchestrator.Run(ctx, id, runID)

	stateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stateWriteTimeout)
	defer cancel()

	switch {
	case summary == nil:
		runsTotal.WithLabelValues("aborted").Inc()
		log.Warn().Err(err).Str("broadcast", id.Hex()).Str("run", runID).Msg("[Broadcast] Run aborted before sending")
		if abortErr := e.machine.Abort(stateCtx, id); abortErr != nil {
			sentry.CaptureException(abortErr)
			log.Error().Err(abortErr).Str("broadcast", id.Hex()).Msg("[Broadcast] Failed to return broadcast to draft")
		}
		return nil, err
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		runsTotal.WithLabelValues("interrupted").Inc()
		if requeueErr := e.machine.Requeue(stateCtx, id); requeueErr != nil {
			sentry.CaptureException(requeueErr)
			log.Error().Err(requeueErr).Str("broadcast", id.Hex()).Msg("[Broadcast] Failed to requeue interrupted broadcast")
		}
		return summary, err
	}

	if completeErr := e.machine.Complete(stateCtx, id); completeErr != nil {
		sentry.CaptureException(completeErr)
		if err == nil {
			err = completeErr
		}
	}
	runsTotal.WithLabelValues("completed").Inc()

	if e.notifier != nil {
		if notifyErr := e.notifier.NotifyCompleted(stateCtx, summary); notifyErr != nil {
			log.Warn().Err(notifyErr).Str("broadcast", id.Hex()).Msg("[Broadcast] Failed to notify operator")
		}
	}
	return summary, err
}

// Create validates and stores a new draft. The draft must resolve to something
// deliverable: buttons, attachments and content are checked the same way a run
// checks them. Lifecycle fields set by the caller are reset.
func (e *Engine) Create(ctx context.Context, b *models.Broadcast) error {
	if _, err := e.resolver.Resolve(b); err != nil {
		return err
	}

	b.State = models.StateDraft
	b.Sent = false
	b.RunID = ""
	b.StartedAt = time.Time{}
	b.CompletedAt = time.Time{}
	if err := e.broadcasts.CreateBroadcast(ctx, b); err != nil {
		return err
	}
	log.Info().Str("broadcast", b.ID.Hex()).Int("recipients", len(b.RecipientIDs)).Msg("[Broadcast] Draft created")
	return nil
}

// Enqueue requests asynchronous dispatch of the broadcast.
func (e *Engine) Enqueue(ctx context.Context, id primitive.ObjectID) error {
	return e.machine.Enqueue(ctx, id)
}

// Stats returns ledger counts for the broadcast.
func (e *Engine) Stats(ctx context.Context, id primitive.ObjectID) (models.StatusCounts, error) {
	if _, err := e.broadcasts.GetBroadcast(ctx, id); err != nil {
		return models.StatusCounts{}, err
	}
	return e.ledger.CountByStatus(ctx, id)
}

// Deliveries lists the ledger entries of the broadcast.
func (e *Engine) Deliveries(ctx context.Context, id primitive.ObjectID) ([]models.Delivery, error) {
	if _, err := e.broadcasts.GetBroadcast(ctx, id); err != nil {
		return nil, err
	}
	return e.ledger.ListByMessage(ctx, id)
}
