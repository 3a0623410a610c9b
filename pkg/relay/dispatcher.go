// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Outcome is the per-destination dispatch result classification.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeEdited
	OutcomeRemoved
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeEdited:
		return "edited"
	case OutcomeRemoved:
		return "removed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the terminal state of one (message, destination) pair.
type Result struct {
	Destination int64
	Outcome     Outcome
	Attempts    int
	Err         error
}

// Dispatcher routes accepted messages to their destinations, applying
// per-destination filtering and transformation, rate limiting, bounded
// retries, and durable mapping writes. One destination's failure never
// blocks or rolls back another's.
type Dispatcher struct {
	log     zerolog.Logger
	client  Client
	store   Store
	limiter *Limiter

	maxAttempts    int
	deleteAttempts int
	baseBackoff    time.Duration
	maxBackoff     time.Duration
	callTimeout    time.Duration

	// sleep is swapped in tests to observe waits without real delays.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewDispatcher wires a dispatcher from its collaborators. Zero values in
// cfg fall back to the documented defaults.
func NewDispatcher(client Client, store Store, limiter *Limiter, cfg SendConfig, log zerolog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		log:            log.With().Str("component", "dispatcher").Logger(),
		client:         client,
		store:          store,
		limiter:        limiter,
		maxAttempts:    cfg.MaxAttempts,
		deleteAttempts: cfg.DeleteAttempts,
		baseBackoff:    time.Duration(cfg.BaseBackoff),
		maxBackoff:     time.Duration(cfg.MaxBackoff),
		callTimeout:    time.Duration(cfg.CallTimeout),
		sleep:          sleepContext,
		now:            time.Now,
	}
}

// Dispatch applies one inbound event to every destination of its route and
// returns the per-destination results in route order (for deletes, in
// stored mapping order).
func (d *Dispatcher) Dispatch(ctx context.Context, route *Route, evt InboundEvent) []Result {
	switch evt.Type {
	case EventEdit:
		return d.dispatchEdit(ctx, route, evt)
	case EventDelete:
		return d.dispatchDelete(ctx, evt)
	default:
		return d.dispatchNew(ctx, route, evt)
	}
}

// existingByDest loads the mapping rows for the event's source message,
// keyed by destination. A store read failure is logged and treated as "no
// mappings": the at-least-once contract makes a duplicate send benign,
// while refusing to dispatch would lose the message.
func (d *Dispatcher) existingByDest(ctx context.Context, evt InboundEvent) map[int64]Mapping {
	rows, err := d.store.Get(ctx, evt.SourceChannelID, evt.SourceMessageID)
	if err != nil {
		d.log.Error().Err(err).
			Int64("source_channel", evt.SourceChannelID).
			Int64("source_message", evt.SourceMessageID).
			Msg("Mapping lookup failed, proceeding as unmapped")
		return nil
	}
	byDest := make(map[int64]Mapping, len(rows))
	for _, row := range rows {
		byDest[row.DestChannelID] = row
	}
	return byDest
}

func (d *Dispatcher) dispatchNew(ctx context.Context, route *Route, evt InboundEvent) []Result {
	byDest := d.existingByDest(ctx, evt)
	results := make([]Result, 0, len(route.Destinations))
	for _, dest := range route.Destinations {
		results = append(results, d.sendNew(ctx, dest, evt, byDest))
	}
	return results
}

func (d *Dispatcher) sendNew(ctx context.Context, dest Destination, evt InboundEvent, byDest map[int64]Mapping) Result {
	log := d.log.With().
		Int64("source_channel", evt.SourceChannelID).
		Int64("source_message", evt.SourceMessageID).
		Int64("destination", dest.ChannelID).
		Logger()

	if existing, ok := byDest[dest.ChannelID]; ok {
		switch existing.Status {
		case StatusDelivered:
			log.Debug().Msg("Already delivered, skipping duplicate")
			return Result{Destination: dest.ChannelID, Outcome: OutcomeSkipped}
		case StatusTombstoned:
			log.Debug().Msg("Mapping tombstoned, refusing resurrection")
			return Result{Destination: dest.ChannelID, Outcome: OutcomeSkipped}
		}
		// A failed mapping is retried like a fresh send.
	}

	if decision := Decide(evt, dest.Filter); !decision.Accept {
		log.Debug().Str("reason", decision.Reason).Msg("Message rejected by filter")
		return Result{Destination: dest.ChannelID, Outcome: OutcomeSkipped}
	}

	content := dest.Transform.Apply(evt.Content)
	if content.Kind() == ContentEmpty {
		log.Debug().Msg("Nothing left to relay after transform")
		return Result{Destination: dest.ChannelID, Outcome: OutcomeSkipped}
	}

	var messageID int64
	attempts, err := d.withRetry(ctx, dest.ChannelID, d.maxAttempts, func(ctx context.Context) error {
		id, sendErr := d.client.SendMessage(ctx, dest.ChannelID, content)
		messageID = id
		return sendErr
	})
	mapping := Mapping{
		SourceChannelID: evt.SourceChannelID,
		SourceMessageID: evt.SourceMessageID,
		DestChannelID:   dest.ChannelID,
		LastAttemptAt:   d.now(),
	}
	if err != nil {
		mapping.Status = StatusFailed
		if putErr := d.store.Put(ctx, mapping); putErr != nil {
			log.Error().Err(putErr).Msg("Failed to record failed mapping")
		}
		log.Warn().Err(err).Int("attempts", attempts).Msg("Send failed")
		return Result{Destination: dest.ChannelID, Outcome: OutcomeFailed, Attempts: attempts, Err: err}
	}

	mapping.DestMessageID = messageID
	mapping.Status = StatusDelivered
	// The mapping write must be durable before success is reported; a
	// crash after the remote send but before this write is the documented
	// at-least-once duplicate window.
	if putErr := d.store.Put(ctx, mapping); putErr != nil {
		log.Error().Err(putErr).Msg("Delivered remotely but mapping write failed")
		return Result{Destination: dest.ChannelID, Outcome: OutcomeFailed, Attempts: attempts, Err: putErr}
	}
	log.Debug().Int64("destination_message", messageID).Int("attempts", attempts).Msg("Message relayed")
	return Result{Destination: dest.ChannelID, Outcome: OutcomeDelivered, Attempts: attempts}
}

func (d *Dispatcher) dispatchEdit(ctx context.Context, route *Route, evt InboundEvent) []Result {
	byDest := d.existingByDest(ctx, evt)
	results := make([]Result, 0, len(route.Destinations))
	for _, dest := range route.Destinations {
		results = append(results, d.sendEdit(ctx, dest, evt, byDest))
	}
	return results
}

func (d *Dispatcher) sendEdit(ctx context.Context, dest Destination, evt InboundEvent, byDest map[int64]Mapping) Result {
	log := d.log.With().
		Int64("source_channel", evt.SourceChannelID).
		Int64("source_message", evt.SourceMessageID).
		Int64("destination", dest.ChannelID).
		Logger()

	mapping, ok := byDest[dest.ChannelID]
	// An edit for a message that was never delivered to this destination
	// is a no-op, never an error and never a spurious mapping.
	if !ok || mapping.Status != StatusDelivered || mapping.DestMessageID == 0 {
		log.Debug().Msg("No live mapping for edit, no-op")
		return Result{Destination: dest.ChannelID, Outcome: OutcomeSkipped}
	}

	if decision := Decide(evt, dest.Filter); !decision.Accept {
		log.Debug().Str("reason", decision.Reason).Msg("Edited content rejected by filter, keeping previous content")
		return Result{Destination: dest.ChannelID, Outcome: OutcomeSkipped}
	}

	content := dest.Transform.Apply(evt.Content)
	if content.Kind() == ContentEmpty {
		log.Debug().Msg("Nothing left after transform, keeping previous content")
		return Result{Destination: dest.ChannelID, Outcome: OutcomeSkipped}
	}

	attempts, err := d.withRetry(ctx, dest.ChannelID, d.maxAttempts, func(ctx context.Context) error {
		return d.client.EditMessage(ctx, dest.ChannelID, mapping.DestMessageID, content)
	})
	if err != nil {
		log.Warn().Err(err).Int("attempts", attempts).Msg("Edit propagation failed")
		return Result{Destination: dest.ChannelID, Outcome: OutcomeFailed, Attempts: attempts, Err: err}
	}

	mapping.LastAttemptAt = d.now()
	if putErr := d.store.Put(ctx, mapping); putErr != nil {
		log.Error().Err(putErr).Msg("Edited remotely but mapping write failed")
		return Result{Destination: dest.ChannelID, Outcome: OutcomeFailed, Attempts: attempts, Err: putErr}
	}
	log.Debug().Int64("destination_message", mapping.DestMessageID).Msg("Edit relayed")
	return Result{Destination: dest.ChannelID, Outcome: OutcomeEdited, Attempts: attempts}
}

// dispatchDelete propagates a delete to every destination that has a
// mapping row. Delete is best-effort: past the bounded attempt count the
// mapping is tombstoned regardless and the failure is reported, not
// retried indefinitely.
func (d *Dispatcher) dispatchDelete(ctx context.Context, evt InboundEvent) []Result {
	rows, err := d.store.Get(ctx, evt.SourceChannelID, evt.SourceMessageID)
	if err != nil {
		d.log.Error().Err(err).
			Int64("source_channel", evt.SourceChannelID).
			Int64("source_message", evt.SourceMessageID).
			Msg("Mapping lookup failed for delete")
		return nil
	}
	results := make([]Result, 0, len(rows))
	for _, mapping := range rows {
		results = append(results, d.sendDelete(ctx, evt, mapping))
	}
	return results
}

func (d *Dispatcher) sendDelete(ctx context.Context, evt InboundEvent, mapping Mapping) Result {
	log := d.log.With().
		Int64("source_channel", evt.SourceChannelID).
		Int64("source_message", evt.SourceMessageID).
		Int64("destination", mapping.DestChannelID).
		Logger()

	// Idempotent: a duplicate delete for an already-tombstoned mapping
	// does not touch the remote again.
	if mapping.Status == StatusTombstoned {
		log.Debug().Msg("Mapping already tombstoned, no-op")
		return Result{Destination: mapping.DestChannelID, Outcome: OutcomeSkipped}
	}

	tombstone := func() {
		if err := d.store.Tombstone(ctx, mapping.SourceChannelID, mapping.SourceMessageID, mapping.DestChannelID); err != nil {
			log.Error().Err(err).Msg("Failed to tombstone mapping")
		}
	}

	// Nothing was ever delivered here; tombstone to block late duplicates.
	if mapping.DestMessageID == 0 {
		tombstone()
		return Result{Destination: mapping.DestChannelID, Outcome: OutcomeRemoved}
	}

	attempts, err := d.withRetry(ctx, mapping.DestChannelID, d.deleteAttempts, func(ctx context.Context) error {
		return d.client.DeleteMessage(ctx, mapping.DestChannelID, mapping.DestMessageID)
	})
	tombstone()
	if err != nil {
		log.Warn().Err(err).Int("attempts", attempts).Msg("Remote delete failed, tombstoned anyway")
		return Result{Destination: mapping.DestChannelID, Outcome: OutcomeFailed, Attempts: attempts, Err: err}
	}
	log.Debug().Int64("destination_message", mapping.DestMessageID).Msg("Delete relayed")
	return Result{Destination: mapping.DestChannelID, Outcome: OutcomeRemoved, Attempts: attempts}
}

// withRetry runs op under the destination's rate limit with bounded
// retries, each attempt capped by the call timeout. Transient failures
// back off exponentially; rate-limit failures honor the server's wait
// hint; permanent failures return immediately.
func (d *Dispatcher) withRetry(ctx context.Context, destination int64, maxAttempts int, op func(ctx context.Context) error) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := d.limiter.Wait(ctx, destination); err != nil {
			return attempt, err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
		lastErr = op(attemptCtx)
		cancel()
		if lastErr == nil {
			return attempt, nil
		}
		kind, retryAfter := Classify(lastErr)
		if kind == KindPermanent {
			return attempt, lastErr
		}
		if attempt == maxAttempts {
			break
		}
		wait := d.backoff(attempt)
		if kind == KindRateLimited && retryAfter > 0 {
			wait = retryAfter
			d.log.Warn().
				Int64("destination", destination).
				Dur("retry_after", retryAfter).
				Msg("Flood wait from remote, deferring")
		}
		if err := d.sleep(ctx, wait); err != nil {
			return attempt, err
		}
	}
	return maxAttempts, lastErr
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	wait := d.baseBackoff << (attempt - 1)
	if wait > d.maxBackoff || wait <= 0 {
		wait = d.maxBackoff
	}
	return wait
}
