package worker

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/propel-crm/email-events/internal/domain"
	"github.com/propel-crm/email-events/internal/pkg/logger"
	"github.com/propel-crm/email-events/internal/pkg/metrics"
	"github.com/propel-crm/email-events/internal/queue"
	"github.com/propel-crm/email-events/internal/service/engagement"
)

// EngagementService applies one event to a subscriber's engagement record.
type EngagementService interface {
	Apply(ctx context.Context, evt domain.NormalizedEvent) (engagement.Outcome, error)
}

// SuppressionService records suppression side effects of processed events.
type SuppressionService interface {
	SuppressForEvent(ctx context.Context, evt domain.NormalizedEvent) (bool, error)
}

// CampaignService folds events into campaign counters.
type CampaignService interface {
	Apply(ctx context.Context, evt domain.NormalizedEvent) error
}

// DeadLetterStore parks events that exhausted their retry budget.
type DeadLetterStore interface {
	Park(ctx context.Context, env queue.Envelope, cause string) error
}

// Options tunes the processor pool.
type Options struct {
	// Workers bounds consumer concurrency. Envelopes shard across
	// workers by subscriber, so events for one subscriber apply in
	// order.
	Workers int

	// MaxAttempts is the ceiling including the first try.
	MaxAttempts int

	// BackoffBase and BackoffMax bound the retry delay; the delay
	// doubles per attempt with jitter.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (o *Options) defaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 30 * time.Second
	}
}

// Processor consumes envelopes from the queue and drives the three
// services. One dispatcher goroutine reads the queue and routes each
// envelope to a shard worker chosen by subscriber hash.
type Processor struct {
	source      queue.Source
	retrySink   queue.Sink
	engagement  EngagementService
	suppression SuppressionService
	campaigns   CampaignService
	deadLetters DeadLetterStore
	opts        Options
	log         *logger.Logger

	shards []chan queue.Envelope

	processed  int64
	failed     int64
	deadParked int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessor wires a processor pool. source and retrySink are usually
// the same queue.
func NewProcessor(source queue.Source, retrySink queue.Sink, eng EngagementService, sup SuppressionService, camp CampaignService, dls DeadLetterStore, opts Options) *Processor {
	opts.defaults()
	return &Processor{
		source:      source,
		retrySink:   retrySink,
		engagement:  eng,
		suppression: sup,
		campaigns:   camp,
		deadLetters: dls,
		opts:        opts,
		log:         logger.Component("processor"),
	}
}

// Start launches the dispatcher and shard workers.
func (p *Processor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.shards = make([]chan queue.Envelope, p.opts.Workers)
	for i := range p.shards {
		p.shards[i] = make(chan queue.Envelope, 64)
		p.wg.Add(1)
		go p.runShard(ctx, p.shards[i])
	}

	p.wg.Add(1)
	go p.dispatch(ctx)

	p.log.Info("processor started", "workers", p.opts.Workers, "max_attempts", p.opts.MaxAttempts)
}

// Stop cancels the pool and waits for in-flight events to finish.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Stats reports lifetime counts.
func (p *Processor) Stats() (processed, failed, deadLettered int64) {
	return atomic.LoadInt64(&p.processed), atomic.LoadInt64(&p.failed), atomic.LoadInt64(&p.deadParked)
}

func (p *Processor) dispatch(ctx context.Context) {
	defer p.wg.Done()
	defer func() {
		for _, ch := range p.shards {
			close(ch)
		}
	}()

	for {
		env, err := p.source.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
				return
			}
			p.log.Error("dequeue failed", "error", err.Error())
			continue
		}

		shard := p.shards[p.shardFor(env.Event)]
		select {
		case shard <- env:
		case <-ctx.Done():
			return
		}
	}
}

// shardFor keys on the subscriber so one subscriber's events are
// serialized on one worker. Events without a subscriber fall back to
// the recipient address.
func (p *Processor) shardFor(evt domain.NormalizedEvent) int {
	key := evt.Correlation.SubscriberID
	if key == "" {
		key = evt.RecipientEmail
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.shards)))
}

func (p *Processor) runShard(ctx context.Context, ch <-chan queue.Envelope) {
	defer p.wg.Done()
	for env := range ch {
		p.handle(ctx, env)
	}
}

func (p *Processor) handle(ctx context.Context, env queue.Envelope) {
	err := p.process(ctx, &env)
	if err == nil {
		atomic.AddInt64(&p.processed, 1)
		metrics.RecordProcessed(string(env.Event.Type))
		return
	}

	atomic.AddInt64(&p.failed, 1)
	env.Attempts++
	p.log.Warn("processing failed",
		"provider", string(env.Event.Provider),
		"event_type", string(env.Event.Type),
		"attempt", env.Attempts,
		"error", err.Error(),
	)

	if env.Attempts >= p.opts.MaxAttempts {
		p.park(ctx, env, err)
		return
	}

	metrics.RecordRetry()
	delay := p.backoff(env.Attempts)
	envCopy := env
	timer := time.AfterFunc(delay, func() {
		if reErr := p.retrySink.Enqueue(context.Background(), envCopy); reErr != nil {
			p.park(context.Background(), envCopy, reErr)
		}
	})
	go func() {
		<-ctx.Done()
		if timer.Stop() {
			// Shutdown beat the retry timer; park instead of losing
			// the event.
			p.park(context.Background(), envCopy, err)
		}
	}()
}

// Stage flags on Envelope.Completed. A stage that succeeded is marked
// so a retried envelope skips it; re-running the engagement stage would
// double its counters and re-running campaigns would double-increment.
const (
	stageEngagement uint8 = 1 << iota
	stageSuppression
	stageCampaign
)

// process applies one event to all three services. A failing stage
// fails the envelope as a whole; the retry resumes at the failed stage.
func (p *Processor) process(ctx context.Context, env *queue.Envelope) error {
	evt := env.Event
	if err := evt.Validate(); err != nil {
		return err
	}

	if env.Completed&stageEngagement == 0 {
		if _, err := p.engagement.Apply(ctx, evt); err != nil && !errors.Is(err, engagement.ErrMissingSubscriber) {
			return err
		}
		env.Completed |= stageEngagement
	}
	if env.Completed&stageSuppression == 0 {
		if _, err := p.suppression.SuppressForEvent(ctx, evt); err != nil {
			return err
		}
		env.Completed |= stageSuppression
	}
	if env.Completed&stageCampaign == 0 {
		if err := p.campaigns.Apply(ctx, evt); err != nil {
			return err
		}
		env.Completed |= stageCampaign
	}
	return nil
}

func (p *Processor) park(ctx context.Context, env queue.Envelope, cause error) {
	atomic.AddInt64(&p.deadParked, 1)
	metrics.RecordDeadLetter()
	if err := p.deadLetters.Park(ctx, env, cause.Error()); err != nil {
		p.log.Error("dead letter write failed",
			"event_type", string(env.Event.Type),
			"error", err.Error(),
		)
	}
}

func (p *Processor) backoff(attempt int) time.Duration {
	d := p.opts.BackoffBase << (attempt - 1)
	if d > p.opts.BackoffMax {
		d = p.opts.BackoffMax
	}
	// Jitter spreads retries from a burst of correlated failures.
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}
