// Package broadcast runs the fan-out of a broadcast to its recipients and guards
// the broadcast lifecycle.
package broadcast

import (
	"context"
	"fmt"
	"time"

	"tg-crm/internal/database"
	"tg-crm/internal/database/models"
	"tg-crm/internal/media"
	"tg-crm/internal/sender"

	sentry "github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	// DefaultRecipientDelay is the pause after each recipient.
	DefaultRecipientDelay = 500 * time.Millisecond

	errMissingDestination = "missing destination id"
	errRecipientNotFound  = "recipient not found"
)

// PayloadResolver turns a broadcast into payloads. *media.Resolver implements it.
type PayloadResolver interface {
	Resolve(b *models.Broadcast) ([]media.Payload, error)
}

// Deliverer sends payloads to one chat. *sender.Sender implements it.
type Deliverer interface {
	Send(ctx context.Context, chatID int64, payloads []media.Payload) sender.Outcome
}

// Summary is the result of one run.
type Summary struct {
	BroadcastID primitive.ObjectID `json:"broadcast_id"`
	RunID       string             `json:"run_id"`
	Comment     string             `json:"comment,omitempty"`
	Total       int                `json:"total"`
	Sent        int                `json:"sent"`
	Failed      int                `json:"failed"`
	StartedAt   time.Time          `json:"started_at"`
	Duration    time.Duration      `json:"duration"`
}

// Orchestrator fans a broadcast out to its recipients one by one.
type Orchestrator struct {
	broadcasts database.BroadcastRepository
	clients    database.ClientRepository
	ledger     database.DeliveryLedger
	resolver   PayloadResolver
	sender     Deliverer
	delay      time.Duration
}

// NewOrchestrator wires the fan-out. A negative delay disables the pause between recipients.
func NewOrchestrator(broadcasts database.BroadcastRepository, clients database.ClientRepository, ledger database.DeliveryLedger, resolver PayloadResolver, s Deliverer, delay time.Duration) *Orchestrator {
	if delay == 0 {
		delay = DefaultRecipientDelay
	}
	return &Orchestrator{
		broadcasts: broadcasts,
		clients:    clients,
		ledger:     ledger,
		resolver:   resolver,
		sender:     s,
		delay:      delay,
	}
}

// Run delivers the broadcast to every recipient and marks it sent.
//
// A nil summary means the run stopped before any recipient was touched (unknown
// broadcast, unusable buttons or media). A failure for one recipient is recorded in
// the ledger and never stops the loop. If ctx is cancelled between recipients, Run
// returns the partial summary together with the context error and the broadcast
// is not marked sent.
func (o *Orchestrator) Run(ctx context.Context, id primitive.ObjectID, runID string) (*Summary, error) {
	b, err := o.broadcasts.GetBroadcast(ctx, id)
	if err != nil {
		return nil, err
	}

	payloads, err := o.resolver.Resolve(b)
	if err != nil {
		return nil, fmt.Errorf("resolving broadcast %s: %w", id.Hex(), err)
	}

	clients, err := o.clients.GetClients(ctx, b.RecipientIDs)
	if err != nil {
		return nil, fmt.Errorf("loading recipients of %s: %w", id.Hex(), err)
	}

	recipients := withMissing(b.RecipientIDs, clients)
	summary := &Summary{
		BroadcastID: id,
		RunID:       runID,
		Comment:     b.Comment,
		Total:       len(recipients),
		StartedAt:   time.Now(),
	}
	logger := log.With().Str("broadcast", id.Hex()).Str("run", runID).Logger()
	logger.Info().Int("recipients", summary.Total).Int("payloads", len(payloads)).Msg("[Broadcast] Starting fan-out")

	for _, r := range recipients {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(summary.StartedAt)
			logger.Warn().Int("sent", summary.Sent).Int("failed", summary.Failed).Msg("[Broadcast] Fan-out interrupted")
			return summary, err
		}

		o.record(ctx, id, r.id, models.DeliveryPending, "")

		var outcome sender.Outcome
		switch {
		case r.client == nil:
			outcome = sender.Outcome{Status: models.DeliveryFailed, ErrorText: errRecipientNotFound}
		case r.client.UserID == 0:
			outcome = sender.Outcome{Status: models.DeliveryFailed, ErrorText: errMissingDestination}
		default:
			outcome = o.sender.Send(ctx, r.client.UserID, payloads)
		}

		o.record(ctx, id, r.id, outcome.Status, outcome.ErrorText)
		deliveriesTotal.WithLabelValues(string(outcome.Status)).Inc()
		if outcome.Status == models.DeliverySent {
			summary.Sent++
		} else {
			summary.Failed++
		}

		if outcome.Blocked {
			if err := o.clients.MarkBlocked(context.WithoutCancel(ctx), r.id); err != nil {
				logger.Error().Err(err).Str("recipient", r.id.Hex()).Msg("[Broadcast] Failed to mark client blocked")
			}
		}

		// Cancellation is picked up at the top of the loop.
		_ = sleepContext(ctx, o.delay)
	}
	summary.Duration = time.Since(summary.StartedAt)

	// Every recipient has been attempted, so the flag is written even during shutdown.
	if err := o.broadcasts.MarkSent(context.WithoutCancel(ctx), id); err != nil {
		sentry.CaptureException(err)
		return summary, fmt.Errorf("marking broadcast %s sent: %w", id.Hex(), err)
	}

	runSeconds.Observe(summary.Duration.Seconds())
	logger.Info().
		Int("sent", summary.Sent).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("[Broadcast] Fan-out completed")
	return summary, nil
}

// record writes a ledger entry. Ledger errors are reported but do not stop the run.
func (o *Orchestrator) record(ctx context.Context, messageID, recipientID primitive.ObjectID, status models.DeliveryStatus, errorText string) {
	if _, err := o.ledger.Upsert(context.WithoutCancel(ctx), messageID, recipientID, status, errorText); err != nil {
		err = fmt.Errorf("ledger upsert %s/%s -> %s: %w", messageID.Hex(), recipientID.Hex(), status, err)
		log.Error().Err(err).Msg("[Broadcast] Ledger write failed")
		sentry.CaptureException(err)
	}
}

type recipient struct {
	id     primitive.ObjectID
	client *models.Client
}

// withMissing returns the loaded clients in storage order followed by the
// requested IDs that have no client record.
func withMissing(ids []primitive.ObjectID, clients []models.Client) []recipient {
	found := make(map[primitive.ObjectID]bool, len(clients))
	out := make([]recipient, 0, len(ids))
	for i := range clients {
		found[clients[i].ID] = true
		out = append(out, recipient{id: clients[i].ID, client: &clients[i]})
	}
	seen := make(map[primitive.ObjectID]bool, len(ids))
	for _, id := range ids {
		if found[id] || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, recipient{id: id})
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
