// Package dispatch runs queued broadcasts on a bounded worker pool and
// periodically sweeps the store for queued broadcasts nobody picked up.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"tg-crm/internal/broadcast"
	"tg-crm/internal/database/models"

	sentry "github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/time/rate"
)

// Runner sends one broadcast. *broadcast.Engine implements it.
type Runner interface {
	Send(ctx context.Context, id primitive.ObjectID) (*broadcast.Summary, error)
}

// Source lists broadcasts by state. database.BroadcastRepository implements it.
type Source interface {
	ListByState(ctx context.Context, state models.BroadcastState, limit int) ([]models.Broadcast, error)
}

// Config tunes the dispatcher.
type Config struct {
	Workers    int     // Broadcasts sent concurrently
	RatePerSec float64 // Broadcast starts per second
	Schedule   string  // Cron spec of the queued sweep
	QueueSize  int
}

const sweepTimeout = 30 * time.Second

// Dispatcher feeds broadcast IDs to a worker pool.
type Dispatcher struct {
	mu sync.Mutex

	cfg     Config
	runner  Runner
	source  Source
	limiter *rate.Limiter
	parser  cron.Parser

	queue     chan primitive.ObjectID
	pending   sync.Map
	stopCh    chan struct{}
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
	cron      *cron.Cron
}

// New creates a stopped dispatcher.
func New(cfg Config, runner Runner, source Source) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 30s"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Dispatcher{
		cfg:     cfg,
		runner:  runner,
		source:  source,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Workers),
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		queue:   make(chan primitive.ObjectID, cfg.QueueSize),
	}
}

// Submit queues the broadcast for a worker. It reports false if the broadcast is
// already waiting or the queue is full; the next sweep retries it in that case.
func (d *Dispatcher) Submit(id primitive.ObjectID) bool {
	if _, loaded := d.pending.LoadOrStore(id, struct{}{}); loaded {
		return false
	}
	select {
	case d.queue <- id:
		return true
	default:
		d.pending.Delete(id)
		log.Warn().Str("broadcast", id.Hex()).Msg("[Dispatch] Queue full, leaving broadcast for the next sweep")
		return false
	}
}

// Sweep submits every queued broadcast found in the store.
func (d *Dispatcher) Sweep(ctx context.Context) (int, error) {
	queued, err := d.source.ListByState(ctx, models.StateQueued, d.cfg.QueueSize)
	if err != nil {
		return 0, fmt.Errorf("listing queued broadcasts: %w", err)
	}
	submitted := 0
	for _, b := range queued {
		if d.Submit(b.ID) {
			submitted++
		}
	}
	if submitted > 0 {
		log.Info().Int("submitted", submitted).Msg("[Dispatch] Sweep picked up queued broadcasts")
	}
	return submitted, nil
}

// Start launches the workers and the sweep schedule.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopCh != nil {
		return nil
	}

	schedule, err := d.parser.Parse(d.cfg.Schedule)
	if err != nil {
		return fmt.Errorf("invalid dispatch schedule %q: %w", d.cfg.Schedule, err)
	}

	stopCh := make(chan struct{})
	d.stopCh = stopCh
	runCtx, cancel := context.WithCancel(ctx)
	d.runCancel = cancel

	d.workerWG.Add(d.cfg.Workers)
	for i := 0; i < d.cfg.Workers; i++ {
		idx := i
		go func() {
			defer d.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Int("worker", idx).Interface("panic", r).Str("stack", string(debug.Stack())).Msg("[Dispatch] Panic in worker")
				}
			}()
			d.worker(runCtx, stopCh)
		}()
	}

	d.cron = cron.New(cron.WithParser(d.parser))
	d.cron.Schedule(schedule, cron.FuncJob(func() { d.sweep(runCtx) }))
	d.cron.Start()
	go d.sweep(runCtx)

	log.Info().Int("workers", d.cfg.Workers).Float64("rps", d.cfg.RatePerSec).Str("schedule", d.cfg.Schedule).Msg("[Dispatch] Started")
	return nil
}

// Stop cancels running broadcasts and waits for the workers until ctx expires.
// Interrupted broadcasts are requeued by the engine.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	if d.stopCh == nil {
		d.mu.Unlock()
		return
	}
	close(d.stopCh)
	d.stopCh = nil
	cancel := d.runCancel
	d.runCancel = nil
	c := d.cron
	d.cron = nil
	d.mu.Unlock()

	cronDone := c.Stop()
	cancel()

	done := make(chan struct{})
	go func() {
		d.workerWG.Wait()
		<-cronDone.Done()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("[Dispatch] Stopped")
	case <-ctx.Done():
		log.Warn().Msg("[Dispatch] Stop timed out, workers still finishing")
	}
}

func (d *Dispatcher) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()
	if _, err := d.Sweep(sweepCtx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("[Dispatch] Sweep failed")
		sentry.CaptureException(err)
	}
}

func (d *Dispatcher) worker(ctx context.Context, stopCh <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case id := <-d.queue:
			d.pending.Delete(id)
			d.run(ctx, id)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, id primitive.ObjectID) {
	if err := d.limiter.Wait(ctx); err != nil {
		return
	}

	summary, err := d.runner.Send(ctx, id)
	switch {
	case err == nil:
		log.Info().Str("broadcast", id.Hex()).Int("sent", summary.Sent).Int("failed", summary.Failed).Msg("[Dispatch] Broadcast delivered")
	case errors.Is(err, broadcast.ErrAlreadyInProgress):
		log.Debug().Str("broadcast", id.Hex()).Msg("[Dispatch] Broadcast already in progress")
	case errors.Is(err, context.Canceled):
		log.Info().Str("broadcast", id.Hex()).Msg("[Dispatch] Broadcast interrupted by shutdown")
	default:
		log.Error().Err(err).Str("broadcast", id.Hex()).Msg("[Dispatch] Broadcast failed")
		sentry.CaptureException(err)
	}
}
