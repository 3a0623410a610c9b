// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// routeTable is an immutable snapshot of the active routes, keyed by
// source channel. Reload swaps the whole table; workers read exactly one
// snapshot per event.
type routeTable struct {
	routes map[int64]*Route
}

func buildTable(routes []Route) *routeTable {
	table := &routeTable{routes: make(map[int64]*Route, len(routes))}
	for i := range routes {
		route := routes[i]
		table.routes[route.Source] = &route
	}
	return table
}

// worker owns the ordered queue of one source channel.
type worker struct {
	source   int64
	queue    chan InboundEvent
	stop     chan struct{}
	stopOnce sync.Once
}

func (w *worker) shutdown() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
}

// Engine is the ingestion loop: it consumes the live event stream, fans
// events out to one worker per source-channel route, and hands each event
// to the dispatcher. Per-channel ordering is strict; cross-channel
// ordering is not guaranteed.
type Engine struct {
	log       zerolog.Logger
	source    EventSource
	disp      *Dispatcher
	queueSize int

	table atomic.Pointer[routeTable]

	mu      sync.Mutex
	workers map[int64]*worker
	runCtx  context.Context
	wg      sync.WaitGroup
}

// NewEngine builds an engine over the given event source and dispatcher.
// queueSize bounds each per-route queue; values below 1 fall back to 256.
func NewEngine(source EventSource, disp *Dispatcher, routes []Route, queueSize int, log zerolog.Logger) *Engine {
	if queueSize < 1 {
		queueSize = 256
	}
	e := &Engine{
		log:       log.With().Str("component", "engine").Logger(),
		source:    source,
		disp:      disp,
		queueSize: queueSize,
		workers:   make(map[int64]*worker),
	}
	e.table.Store(buildTable(routes))
	return e
}

// Run opens the event stream and processes it until ctx is cancelled or
// the stream closes. It blocks. When the stream closes, every event
// already accepted into a queue is dispatched before return; cancellation
// aborts queued work.
func (e *Engine) Run(ctx context.Context) error {
	events, err := e.source.Open(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.runCtx = ctx
	for source := range e.table.Load().routes {
		e.startWorkerLocked(ctx, source)
	}
	e.mu.Unlock()

	e.log.Info().Int("routes", len(e.table.Load().routes)).Msg("Relay engine running")

	defer func() {
		e.mu.Lock()
		for _, w := range e.workers {
			w.shutdown()
		}
		e.mu.Unlock()
		e.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				e.log.Info().Msg("Event stream closed")
				return nil
			}
			if err := e.enqueue(ctx, evt); err != nil {
				return err
			}
		}
	}
}

// Reload atomically replaces the route table. Workers for removed routes
// stop admitting work and wind down; in-flight dispatches complete or fail
// normally. New routes gain workers immediately when the engine runs.
func (e *Engine) Reload(routes []Route) {
	table := buildTable(routes)
	e.table.Store(table)

	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for source, w := range e.workers {
		if _, ok := table.routes[source]; !ok {
			w.shutdown()
			delete(e.workers, source)
			removed++
		}
	}
	added := 0
	if e.runCtx != nil {
		for source := range table.routes {
			if _, ok := e.workers[source]; !ok {
				e.startWorkerLocked(e.runCtx, source)
				added++
			}
		}
	}
	e.log.Info().
		Int("added", added).
		Int("removed", removed).
		Int("total", len(table.routes)).
		Msg("Route table reloaded")
}

func (e *Engine) startWorkerLocked(ctx context.Context, source int64) {
	w := &worker{
		source: source,
		queue:  make(chan InboundEvent, e.queueSize),
		stop:   make(chan struct{}),
	}
	e.workers[source] = w
	e.wg.Add(1)
	go e.runWorker(ctx, w)
}

// enqueue hands an event to its route worker. Events for unrouted
// channels are skipped. A full queue is a recoverable overload: the
// intake loop blocks, which backpressures the upstream stream; an
// accepted event is never dropped.
func (e *Engine) enqueue(ctx context.Context, evt InboundEvent) error {
	if _, ok := e.table.Load().routes[evt.SourceChannelID]; !ok {
		e.log.Trace().
			Int64("source_channel", evt.SourceChannelID).
			Msg("Event for unrouted channel, skipping")
		return nil
	}

	e.mu.Lock()
	w, ok := e.workers[evt.SourceChannelID]
	e.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case w.queue <- evt:
		return nil
	default:
	}

	e.log.Warn().
		Int64("source_channel", evt.SourceChannelID).
		Int("queue_size", e.queueSize).
		Msg("Route queue full, intake blocked")

	select {
	case w.queue <- evt:
		return nil
	case <-w.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) runWorker(ctx context.Context, w *worker) {
	defer e.wg.Done()
	log := e.log.With().Int64("source_channel", w.source).Logger()
	for {
		select {
		case <-w.stop:
			e.drainWorker(ctx, w, log)
			return
		case <-ctx.Done():
			return
		case evt := <-w.queue:
			e.process(ctx, evt, log)
		}
	}
}

// drainWorker dispatches every event that was accepted before shutdown.
// Cancellation still aborts mid-drain; events for routes removed by a
// reload are discarded by process.
func (e *Engine) drainWorker(ctx context.Context, w *worker, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-w.queue:
			e.process(ctx, evt, log)
		default:
			log.Debug().Msg("Route worker stopped")
			return
		}
	}
}

// process dispatches one event against the current route snapshot.
func (e *Engine) process(ctx context.Context, evt InboundEvent, log zerolog.Logger) {
	route, ok := e.table.Load().routes[evt.SourceChannelID]
	if !ok {
		// Route disabled between queueing and processing.
		log.Debug().Int64("source_message", evt.SourceMessageID).Msg("Route disabled, dropping queued event")
		return
	}
	results := e.disp.Dispatch(ctx, route, evt)
	for _, res := range results {
		if res.Err != nil {
			log.Warn().
				Err(res.Err).
				Int64("source_message", evt.SourceMessageID).
				Int64("destination", res.Destination).
				Str("outcome", res.Outcome.String()).
				Msg("Relay finished with error")
		}
	}
}
