// Package metrics keeps process-wide counters for the watcher and renders
// them in the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Registry struct {
	roundsStarted   atomic.Int64
	roundsCompleted atomic.Int64
	roundsFailed    atomic.Int64
	roundsSkipped   atomic.Int64
	pathsQueried    atomic.Int64
	pathErrors      atomic.Int64
	notifications   atomic.Int64
	roundNanos      atomic.Int64
	activePaths     atomic.Int64
	buses           sync.Map
}

type busStats struct {
	published   atomic.Int64
	dropped     atomic.Int64
	subscribers atomic.Int64
}

var Default = &Registry{}

// RecordRound records one completed batch round. err is the batch-wide
// transport failure, if any.
func (r *Registry) RecordRound(paths int, duration time.Duration, err error) {
	if r == nil {
		return
	}
	r.roundsStarted.Add(1)
	r.pathsQueried.Add(int64(paths))
	r.roundNanos.Add(duration.Nanoseconds())
	if err != nil {
		r.roundsFailed.Add(1)
		return
	}
	r.roundsCompleted.Add(1)
}

func (r *Registry) IncRoundSkipped() {
	if r == nil {
		return
	}
	r.roundsSkipped.Add(1)
}

func (r *Registry) IncPathError() {
	if r == nil {
		return
	}
	r.pathErrors.Add(1)
}

func (r *Registry) AddNotifications(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.notifications.Add(int64(count))
}

func (r *Registry) SetActivePaths(count int) {
	if r == nil {
		return
	}
	r.activePaths.Store(int64(count))
}

func (r *Registry) IncEventPublished(bus string) {
	if r == nil {
		return
	}
	r.busStats(bus).published.Add(1)
}

func (r *Registry) IncEventDropped(bus string) {
	if r == nil {
		return
	}
	r.busStats(bus).dropped.Add(1)
}

func (r *Registry) SetEventSubscribers(bus string, count int) {
	if r == nil {
		return
	}
	r.busStats(bus).subscribers.Store(int64(count))
}

// Snapshot is a point-in-time copy of the round counters.
type Snapshot struct {
	RoundsStarted   int64
	RoundsCompleted int64
	RoundsFailed    int64
	RoundsSkipped   int64
	PathsQueried    int64
	PathErrors      int64
	Notifications   int64
	ActivePaths     int64
}

func (r *Registry) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		RoundsStarted:   r.roundsStarted.Load(),
		RoundsCompleted: r.roundsCompleted.Load(),
		RoundsFailed:    r.roundsFailed.Load(),
		RoundsSkipped:   r.roundsSkipped.Load(),
		PathsQueried:    r.pathsQueried.Load(),
		PathErrors:      r.pathErrors.Load(),
		Notifications:   r.notifications.Load(),
		ActivePaths:     r.activePaths.Load(),
	}
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}
	writeCounter(writer, "storagewatch_rounds_started_total", "Batch rounds started", r.roundsStarted.Load())
	writeCounter(writer, "storagewatch_rounds_completed_total", "Batch rounds completed without transport failure", r.roundsCompleted.Load())
	writeCounter(writer, "storagewatch_rounds_failed_total", "Batch rounds that failed at the transport", r.roundsFailed.Load())
	writeCounter(writer, "storagewatch_rounds_skipped_total", "Ticks skipped by the round limiter", r.roundsSkipped.Load())
	writeCounter(writer, "storagewatch_paths_queried_total", "Path queries issued", r.pathsQueried.Load())
	writeCounter(writer, "storagewatch_path_errors_total", "Per-path query or decode failures", r.pathErrors.Load())
	writeCounter(writer, "storagewatch_notifications_total", "Subscriber update callbacks invoked", r.notifications.Load())

	writeHelp(writer, "storagewatch_round_duration_seconds", "Cumulative batch round duration")
	fmt.Fprintln(writer, "# TYPE storagewatch_round_duration_seconds counter")
	fmt.Fprintf(writer, "storagewatch_round_duration_seconds %.6f\n", float64(r.roundNanos.Load())/float64(time.Second))

	writeHelp(writer, "storagewatch_active_paths", "Paths with at least one subscriber")
	fmt.Fprintln(writer, "# TYPE storagewatch_active_paths gauge")
	fmt.Fprintf(writer, "storagewatch_active_paths %d\n", r.activePaths.Load())

	names := r.busNames()
	sort.Strings(names)
	if len(names) == 0 {
		return nil
	}
	writeHelp(writer, "storagewatch_events_published_total", "Events published per bus")
	fmt.Fprintln(writer, "# TYPE storagewatch_events_published_total counter")
	writeHelp(writer, "storagewatch_events_dropped_total", "Events dropped per bus")
	fmt.Fprintln(writer, "# TYPE storagewatch_events_dropped_total counter")
	writeHelp(writer, "storagewatch_event_subscribers", "Current bus subscribers")
	fmt.Fprintln(writer, "# TYPE storagewatch_event_subscribers gauge")
	for _, name := range names {
		stats := r.busStats(name)
		label := formatLabel(name)
		fmt.Fprintf(writer, "storagewatch_events_published_total{bus=%s} %d\n", label, stats.published.Load())
		fmt.Fprintf(writer, "storagewatch_events_dropped_total{bus=%s} %d\n", label, stats.dropped.Load())
		fmt.Fprintf(writer, "storagewatch_event_subscribers{bus=%s} %d\n", label, stats.subscribers.Load())
	}
	return nil
}

func (r *Registry) busStats(name string) *busStats {
	if strings.TrimSpace(name) == "" {
		name = "unknown"
	}
	value, _ := r.buses.LoadOrStore(name, &busStats{})
	return value.(*busStats)
}

func (r *Registry) busNames() []string {
	var names []string
	r.buses.Range(func(key, _ any) bool {
		if name, ok := key.(string); ok {
			names = append(names, name)
		}
		return true
	})
	return names
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
