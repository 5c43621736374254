package watcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/iomekam/dapp-inter/internal/otel"
	"github.com/iomekam/dapp-inter/internal/vstorage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// The scheduler moves Idle -> Armed when a path is watched, Armed -> Polling
// when the timer fires, and Polling -> Armed or Idle when the round ends.
// The timer is only re-armed after a round completes, so timer rounds never
// overlap. timerGen invalidates callbacks of timers that were stopped too
// late to prevent them firing.

// armLocked starts the timer if the watcher is idle and has paths.
func (watcher *Watcher) armLocked() {
	if watcher.closed || watcher.state != StateIdle || watcher.registry.pathCount() == 0 {
		return
	}
	watcher.startTimerLocked(watcher.coalesceDelay)
}

func (watcher *Watcher) startTimerLocked(delay time.Duration) {
	watcher.timerGen++
	generation := watcher.timerGen
	watcher.state = StateArmed
	watcher.timer = time.AfterFunc(delay, func() {
		watcher.tick(generation)
	})
}

// disarmLocked stops a pending timer. A round in flight finishes and then
// finds nothing to re-arm for.
func (watcher *Watcher) disarmLocked() {
	if watcher.state != StateArmed {
		return
	}
	if watcher.timer != nil {
		watcher.timer.Stop()
		watcher.timer = nil
	}
	watcher.timerGen++
	watcher.state = StateIdle
}

func (watcher *Watcher) tick(generation uint64) {
	watcher.mutex.Lock()
	if watcher.closed || generation != watcher.timerGen {
		watcher.mutex.Unlock()
		return
	}
	watcher.timer = nil
	if watcher.registry.pathCount() == 0 {
		watcher.state = StateIdle
		watcher.mutex.Unlock()
		return
	}
	watcher.state = StatePolling
	watcher.mutex.Unlock()

	if watcher.limiter == nil || watcher.limiter.Allow() {
		_ = watcher.runRound(watcher.ctx)
	} else {
		watcher.metrics.IncRoundSkipped()
	}

	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	if watcher.closed || watcher.state != StatePolling {
		return
	}
	if watcher.registry.pathCount() == 0 {
		watcher.state = StateIdle
		return
	}
	watcher.startTimerLocked(watcher.interval)
}

// Refresh runs one round now, waiting behind any round already in flight.
// It returns the batch-wide transport error, if any. Per-path failures go to
// subscribers only.
func (watcher *Watcher) Refresh(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	watcher.mutex.Lock()
	closed := watcher.closed
	watcher.mutex.Unlock()
	if closed {
		return ErrClosed
	}
	if watcher.limiter != nil {
		if err := watcher.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return watcher.runRound(ctx)
}

func (watcher *Watcher) runRound(ctx context.Context) error {
	watcher.roundMutex.Lock()
	defer watcher.roundMutex.Unlock()

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return ErrClosed
	}
	paths := watcher.registry.paths()
	watcher.mutex.Unlock()
	if len(paths) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, watcher.requestTimeout)
	defer cancel()
	stop := context.AfterFunc(watcher.ctx, cancel)
	defer stop()

	ctx, span := watcher.tracer.Start(ctx, "watcher.round")
	defer span.End()
	span.SetAttributes(attribute.Int("watcher.paths", len(paths)))

	start := time.Now()
	outcomes, roundErr := watcher.query(ctx, paths)
	elapsed := time.Since(start)
	watcher.metrics.RecordRound(len(paths), elapsed, roundErr)
	if roundErr != nil {
		span.RecordError(roundErr)
		span.SetStatus(codes.Error, roundErr.Error())
		fields := map[string]string{
			"paths":       strconv.Itoa(len(paths)),
			"error":       roundErr.Error(),
			"duration_ms": strconv.FormatInt(elapsed.Milliseconds(), 10),
		}
		if watcher.endpoint != "" {
			fields["endpoint"] = watcher.endpoint
		}
		watcher.logger.Warn("round failed", fields)
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return roundErr
	}
	watcher.rounds++
	watcher.lastRound = start.UTC()
	watcher.lastError = ""
	if roundErr != nil {
		watcher.lastError = roundErr.Error()
	}
	results := make([]recordResult, len(outcomes))
	for index, outcome := range outcomes {
		results[index] = watcher.registry.record(outcome)
	}
	watcher.mutex.Unlock()

	notified := 0
	now := time.Now().UTC()
	for index, outcome := range outcomes {
		result := results[index]
		if result.failed {
			watcher.metrics.IncPathError()
			otel.RecordSpanEvent(ctx, "path.error",
				attribute.String("watcher.path", outcome.Path.String()),
				attribute.String("error", outcome.Err.Error()),
			)
			if roundErr == nil {
				watcher.logger.Debug("path query failed", map[string]string{
					"path":  outcome.Path.String(),
					"error": outcome.Err.Error(),
				})
			}
			watcher.bus.Publish(Event{Type: EventTypePathError, Path: outcome.Path, Error: outcome.Err.Error(), Timestamp: now})
		} else if result.changed {
			watcher.bus.Publish(Event{Type: EventTypePathUpdated, Path: outcome.Path, Value: outcome.Value, Timestamp: now})
		}
		for _, item := range result.deliveries {
			if watcher.dispatch(outcome.Path, item) {
				notified++
			}
		}
	}
	watcher.metrics.AddNotifications(notified)
	span.SetAttributes(attribute.Int("watcher.notifications", notified))
	return roundErr
}

// query performs the batch call. A transport failure is returned and also
// expanded into an error outcome for every path of the round.
func (watcher *Watcher) query(ctx context.Context, paths []vstorage.Path) ([]vstorage.Outcome, error) {
	body, err := vstorage.BuildBatchRequest(watcher.namespace, paths)
	if err != nil {
		return failAll(paths, err), err
	}
	payload, err := watcher.client.Post(ctx, body, len(paths))
	if err != nil {
		err = fmt.Errorf("%w: %v", vstorage.ErrTransport, err)
		return failAll(paths, err), err
	}
	outcomes, err := vstorage.ParseBatchResponse(payload, paths, watcher.unserialize)
	if err != nil {
		return failAll(paths, err), err
	}
	return outcomes, nil
}

func failAll(paths []vstorage.Path, err error) []vstorage.Outcome {
	outcomes := make([]vstorage.Outcome, len(paths))
	for index, path := range paths {
		outcomes[index] = vstorage.Outcome{Path: path, Err: err}
	}
	return outcomes
}

// dispatch runs one callback, recovering a panic so other subscribers are
// still served. It reports whether an update callback ran.
func (watcher *Watcher) dispatch(path vstorage.Path, item delivery) (updated bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			watcher.logger.Error("subscriber callback panicked", map[string]string{
				"path":  path.String(),
				"panic": fmt.Sprint(recovered),
			})
			updated = false
		}
	}()
	if item.onUpdate != nil {
		item.onUpdate(item.value)
		return true
	}
	if item.onError != nil {
		item.onError(item.message)
	}
	return false
}
