package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/iomekam/dapp-inter/internal/logging"
	"github.com/iomekam/dapp-inter/internal/metrics"
	"github.com/iomekam/dapp-inter/internal/vstorage"
	"github.com/iomekam/dapp-inter/internal/vstorage/vstoragetest"
)

const fakeChainID = "agoric-unit-test-1"

// newManualWatcher returns a watcher whose timer never fires during a test,
// so rounds only happen through Refresh.
func newManualWatcher(t *testing.T, node *vstoragetest.Node, options Options) *Watcher {
	t.Helper()
	options.RPCAddr = node.URL()
	options.ChainID = fakeChainID
	if options.Interval == 0 {
		options.Interval = time.Hour
	}
	if options.CoalesceDelay == 0 {
		options.CoalesceDelay = time.Hour
	}
	if options.Metrics == nil {
		options.Metrics = &metrics.Registry{}
	}
	watcher, err := New(options)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() {
		_ = watcher.Close()
	})
	return watcher
}

func newFakeNode(t *testing.T) *vstoragetest.Node {
	t.Helper()
	node := vstoragetest.NewNode()
	t.Cleanup(node.Close)
	return node
}

func refresh(t *testing.T, watcher *Watcher) {
	t.Helper()
	if err := watcher.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
}

type recorder[T any] struct {
	mu      sync.Mutex
	updates []T
	errors  []string
}

func (r *recorder[T]) onUpdate(value T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, value)
}

func (r *recorder[T]) onError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
}

func (r *recorder[T]) snapshot() ([]T, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.updates...), append([]string(nil), r.errors...)
}

func TestWatchDataDeliversNewestEntry(t *testing.T) {
	node := newFakeNode(t)
	watcher := newManualWatcher(t, node, Options{})
	path := "published.test.x"

	values := &recorder[string]{}
	if _, err := WatchLatest[string](watcher, vstorage.Data(path), values.onUpdate, values.onError); err != nil {
		t.Fatalf("watch: %v", err)
	}

	node.SetData(path, 1, "a")
	refresh(t, watcher)
	node.SetData(path, 2, "a", "b")
	refresh(t, watcher)

	updates, errs := values.snapshot()
	if diff := cmp.Diff([]string{"a", "b"}, updates); diff != "" {
		t.Fatalf("unexpected updates (-want +got):\n%s", diff)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}
	if got := watcher.Stats().BlockHeight; got != 2 {
		t.Fatalf("expected block height 2, got %d", got)
	}
}

func TestWatchChildrenDeliversListingInOrder(t *testing.T) {
	node := newFakeNode(t)
	watcher := newManualWatcher(t, node, Options{})
	path := "published.test.y"

	values := &recorder[[]string]{}
	if _, err := WatchLatest[[]string](watcher, vstorage.Children(path), values.onUpdate, nil); err != nil {
		t.Fatalf("watch: %v", err)
	}

	node.SetChildren(path, "c1", "c2")
	refresh(t, watcher)
	node.SetChildren(path, "c1", "c2", "child3")
	refresh(t, watcher)

	updates, _ := values.snapshot()
	want := [][]string{{"c1", "c2"}, {"c1", "c2", "child3"}}
	if diff := cmp.Diff(want, updates); diff != "" {
		t.Fatalf("unexpected updates (-want +got):\n%s", diff)
	}
}

func TestWatchReportsQueryError(t *testing.T) {
	node := newFakeNode(t)
	watcher := newManualWatcher(t, node, Options{})
	path := "published.test.z"
	node.SetError("/custom/vstorage/data/"+path, 6, "not found")

	values := &recorder[any]{}
	if _, err := WatchLatest[any](watcher, vstorage.Data(path), values.onUpdate, values.onError); err != nil {
		t.Fatalf("watch: %v", err)
	}
	refresh(t, watcher)

	updates, errs := values.snapshot()
	if len(updates) != 0 {
		t.Fatalf("expected no updates, got %v", updates)
	}
	if diff := cmp.Diff([]string{"not found"}, errs); diff != "" {
		t.Fatalf("unexpected errors (-want +got):\n%s", diff)
	}
}

func TestUnsubscribeLeavesOtherSubscriber(t *testing.T) {
	node := newFakeNode(t)
	watcher := newManualWatcher(t, node, Options{})
	path := vstorage.Data("published.test.x")
	node.SetData(path.Name, 1, "a")

	removed := &recorder[string]{}
	kept := &recorder[string]{}
	unsubscribe, err := WatchLatest[string](watcher, path, removed.onUpdate, nil)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if _, err := WatchLatest[string](watcher, path, kept.onUpdate, nil); err != nil {
		t.Fatalf("watch: %v", err)
	}
	unsubscribe()

	refresh(t, watcher)
	node.SetData(path.Name, 2, "a", "b")
	refresh(t, watcher)

	if updates, _ := removed.snapshot(); len(updates) != 0 {
		t.Fatalf("expected no updates after unsubscribe, got %v", updates)
	}
	if updates, _ := kept.snapshot(); !cmp.Equal([]string{"a", "b"}, updates) {
		t.Fatalf("unexpected updates for remaining subscriber %v", updates)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	node := newFakeNode(t)
	watcher := newManualWatcher(t, node, Options{})
	path := vstorage.Children("published")

	first, err := watcher.Watch(path, func(vstorage.Value) {}, nil)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	second, err := watcher.Watch(path, func(vstorage.Value) {}, nil)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	first()
	first()
	if stats := watcher.Stats(); stats.Subscribers != 1 || stats.ActivePaths != 1 {
		t.Fatalf("expected one remaining subscriber, got %+v", stats)
	}
	second()
	second()
	if stats := watcher.Stats(); stats.Subscribers != 0 || stats.ActivePaths != 0 || stats.State != StateIdle {
		t.Fatalf("expected idle watcher with no paths, got %+v", stats)
	}
}

func TestUnchangedValueIsNotRedelivered(t *testing.T) {
	node := newFakeNode(t)
	watcher := newManualWatcher(t, node, Options{})
	path := vstorage.Data("published.test.x")
	node.SetData(path.Name, 1, map[string]any{"debtLimit": 100})

	values := &recorder[vstorage.Value]{}
	if _, err := watcher.Watch(path, values.onUpdate, nil); err != nil {
		t.Fatalf("watch: %v", err)
	}
	refresh(t, watcher)
	node.SetData(path.Name, 5, map[string]any{"debtLimit": 100})
	refresh(t, watcher)

	updates, _ := values.snapshot()
	if len(updates) != 1 {
		t.Fatalf("expected a single update, got %d", len(updates))
	}
	if updates[0].BlockHeight != 1 {
		t.Fatalf("expected first delivery at height 1, got %d", updates[0].BlockHeight)
	}
}

func TestLateSubscriberReceivesCachedValueOnNextRound(t *testing.T) {
	node := newFakeNode(t)
	watcher := newManualWatcher(t, node, Options{})
	path := vstorage.Data("published.test.x")
	node.SetData(path.Name, 1, "a")

	early := &recorder[string]{}
	if _, err := WatchLatest[string](watcher, path, early.onUpdate, nil); err != nil {
		t.Fatalf("watch: %v", err)
	}
	refresh(t, watcher)

	late := &recorder[string]{}
	if _, err := WatchLatest[string](watcher, path, late.onUpdate, nil); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if updates, _ := late.snapshot(); len(updates) != 0 {
		t.Fatalf("expected no synchronous delivery, got %v", updates)
	}
	refresh(t, watcher)

	if updates, _ := early.snapshot(); !cmp.Equal([]string{"a"}, updates) {
		t.Fatalf("expected early subscriber to see a once, got %v", updates)
	}
	if updates, _ := late.snapshot(); !cmp.Equal([]string{"a"}, updates) {
		t.Fatalf("expected late subscriber to receive cached a, got %v", updates)
	}
}

func TestErrorOnOnePathDoesNotReachOthers(t *testing.T) {
	node := newFakeNode(t)
	watcher := newManualWatcher(t, node, Options{})
	broken := vstorage.Data("published.test.broken")
	healthy := vstorage.Children("published.test")
	node.SetError(broken.QueryPath(""), 6, "not found")
	node.SetChildren(healthy.Name, "broken")

	brokenValues := &recorder[vstorage.Value]{}
	healthyValues := &recorder[vstorage.Value]{}
	if _, err := watcher.Watch(broken, brokenValues.onUpdate, brokenValues.onError); err != nil {
		t.Fatalf("watch broken: %v", err)
	}
	if _, err := watcher.Watch(healthy, healthyValues.onUpdate, healthyValues.onError); err != nil {
		t.Fatalf("watch healthy: %v", err)
	}
	refresh(t, watcher)

	if batches := node.Batches(); len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("expected one batch with both paths, got %v", batches)
	}
	if _, errs := brokenValues.snapshot(); !cmp.Equal([]string{"not found"}, errs) {
		t.Fatalf("unexpected broken path errors %v", errs)
	}
	updates, errs := healthyValues.snapshot()
	if len(errs) != 0 {
		t.Fatalf("healthy path received errors %v", errs)
	}
	if len(updates) != 1 || !cmp.Equal([]string{"broken"}, updates[0].Children()) {
		t.Fatalf("unexpected healthy updates %v", updates)
	}
}

func TestTransportFailureReachesEveryPath(t *testing.T) {
	node := newFakeNode(t)
	watcher := newManualWatcher(t, node, Options{})
	first := vstorage.Data("published.a")
	second := vstorage.Data("published.b")
	node.SetData(first.Name, 1, "a")
	node.SetData(second.Name, 1, "b")

	firstValues := &recorder[any]{}
	secondValues := &recorder[any]{}
	silent := &recorder[any]{}
	for _, item := range []struct {
		path vstorage.Path
		rec  *recorder[any]
		errs ErrorFunc
	}{
		{first, firstValues, firstValues.onError},
		{second, secondValues, secondValues.onError},
		{second, silent, nil},
	} {
		if _, err := WatchLatest[any](watcher, item.path, item.rec.onUpdate, item.errs); err != nil {
			t.Fatalf("watch %s: %v", item.path, err)
		}
	}
	refresh(t, watcher)

	node.FailWith(http.StatusBadGateway)
	err := watcher.Refresh(context.Background())
	if !errors.Is(err, vstorage.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	for name, rec := range map[string]*recorder[any]{"first": firstValues, "second": secondValues} {
		_, errs := rec.snapshot()
		if len(errs) != 1 || !strings.HasPrefix(errs[0], "transport error") {
			t.Fatalf("expected %s path transport error, got %v", name, errs)
		}
	}
	if _, errs := silent.snapshot(); len(errs) != 0 {
		t.Fatalf("subscriber without error callback got %v", errs)
	}
	if stats := watcher.Stats(); stats.LastError == "" {
		t.Fatal("expected last error to be recorded")
	}

	node.FailWith(http.StatusOK)
	refresh(t, watcher)
	if updates, _ := firstValues.snapshot(); len(updates) != 1 {
		t.Fatalf("expected cache to survive the failed round, got updates %v", updates)
	}
}

func TestWatchValidatesArguments(t *testing.T) {
	node := newFakeNode(t)
	watcher := newManualWatcher(t, node, Options{})

	if _, err := watcher.Watch(vstorage.Path{Kind: vstorage.KindData}, func(vstorage.Value) {}, nil); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath for empty name, got %v", err)
	}
	if _, err := watcher.Watch(vstorage.Path{Kind: 42, Name: "published"}, func(vstorage.Value) {}, nil); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath for unknown kind, got %v", err)
	}
	if _, err := watcher.Watch(vstorage.Data("published"), nil, nil); err == nil {
		t.Fatal("expected missing callback error")
	}

	if err := watcher.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := watcher.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := watcher.Watch(vstorage.Data("published"), func(vstorage.Value) {}, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := watcher.Refresh(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from refresh, got %v", err)
	}
}

func TestNewRequiresRPCAddr(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected missing endpoint error")
	}
}

func TestWatchLatestReportsTypeMismatch(t *testing.T) {
	node := newFakeNode(t)
	watcher := newManualWatcher(t, node, Options{})
	path := vstorage.Data("published.test.x")
	node.SetData(path.Name, 1, "text")

	values := &recorder[int]{}
	if _, err := WatchLatest[int](watcher, path, values.onUpdate, values.onError); err != nil {
		t.Fatalf("watch: %v", err)
	}
	refresh(t, watcher)

	updates, errs := values.snapshot()
	if len(updates) != 0 {
		t.Fatalf("expected no typed updates, got %v", updates)
	}
	if len(errs) != 1 || !strings.Contains(errs[0], "is string, not int") {
		t.Fatalf("unexpected errors %v", errs)
	}
}

func TestWatchLatestValueCarriesHeight(t *testing.T) {
	node := newFakeNode(t)
	watcher := newManualWatcher(t, node, Options{})
	path := vstorage.Data("published.test.x")
	node.SetData(path.Name, 123, "test result")

	values := &recorder[vstorage.Value]{}
	if _, err := WatchLatest[vstorage.Value](watcher, path, values.onUpdate, nil); err != nil {
		t.Fatalf("watch: %v", err)
	}
	refresh(t, watcher)

	updates, _ := values.snapshot()
	if len(updates) != 1 || updates[0].Data != "test result" || updates[0].BlockHeight != 123 {
		t.Fatalf("unexpected updates %+v", updates)
	}
}

func TestWatchLatestDeliversStoredNull(t *testing.T) {
	node := newFakeNode(t)
	watcher := newManualWatcher(t, node, Options{})
	path := vstorage.Data("published.test.cleared")
	node.SetData(path.Name, 1, nil)

	anyValues := &recorder[any]{}
	if _, err := WatchLatest[any](watcher, path, anyValues.onUpdate, anyValues.onError); err != nil {
		t.Fatalf("watch any: %v", err)
	}
	mapValues := &recorder[map[string]any]{}
	if _, err := WatchLatest[map[string]any](watcher, path, mapValues.onUpdate, mapValues.onError); err != nil {
		t.Fatalf("watch map: %v", err)
	}
	intValues := &recorder[int]{}
	if _, err := WatchLatest[int](watcher, path, intValues.onUpdate, intValues.onError); err != nil {
		t.Fatalf("watch int: %v", err)
	}
	refresh(t, watcher)

	updates, errs := anyValues.snapshot()
	if diff := cmp.Diff([]any{nil}, updates); diff != "" || len(errs) != 0 {
		t.Fatalf("unexpected any updates (-want +got):\n%s errors %v", diff, errs)
	}
	if maps, errs := mapValues.snapshot(); len(maps) != 1 || maps[0] != nil || len(errs) != 0 {
		t.Fatalf("expected one nil map, got %v errors %v", maps, errs)
	}
	if ints, errs := intValues.snapshot(); len(ints) != 0 || len(errs) != 1 || !strings.Contains(errs[0], "is <nil>, not int") {
		t.Fatalf("expected int mismatch, got %v errors %v", ints, errs)
	}
}

func TestWatchLatestNamesInterfaceInMismatch(t *testing.T) {
	node := newFakeNode(t)
	watcher := newManualWatcher(t, node, Options{})
	path := vstorage.Data("published.test.x")
	node.SetData(path.Name, 1, "text")

	values := &recorder[fmt.Stringer]{}
	if _, err := WatchLatest[fmt.Stringer](watcher, path, values.onUpdate, values.onError); err != nil {
		t.Fatalf("watch: %v", err)
	}
	refresh(t, watcher)

	if _, errs := values.snapshot(); len(errs) != 1 || !strings.Contains(errs[0], "is string, not fmt.Stringer") {
		t.Fatalf("unexpected errors %v", errs)
	}
}

func TestCustomUnserializer(t *testing.T) {
	node := newFakeNode(t)
	type amount struct {
		Brand string `json:"brand"`
		Value int64  `json:"value"`
	}
	watcher := newManualWatcher(t, node, Options{
		Unserializer: func(raw json.RawMessage) (any, error) {
			var decoded amount
			if err := json.Unmarshal(raw, &decoded); err != nil {
				return nil, err
			}
			return decoded, nil
		},
	})
	path := vstorage.Data("published.vaultFactory.metrics")
	node.SetData(path.Name, 9, map[string]any{"brand": "IST", "value": 42})

	values := &recorder[amount]{}
	if _, err := WatchLatest[amount](watcher, path, values.onUpdate, values.onError); err != nil {
		t.Fatalf("watch: %v", err)
	}
	refresh(t, watcher)

	updates, errs := values.snapshot()
	if len(errs) != 0 {
		t.Fatalf("unexpected errors %v", errs)
	}
	if diff := cmp.Diff([]amount{{Brand: "IST", Value: 42}}, updates); diff != "" {
		t.Fatalf("unexpected updates (-want +got):\n%s", diff)
	}
}

func TestUnserializerFailureIsReportedAsPathError(t *testing.T) {
	node := newFakeNode(t)
	watcher := newManualWatcher(t, node, Options{
		Unserializer: func(json.RawMessage) (any, error) {
			return nil, fmt.Errorf("unknown slot")
		},
	})
	path := vstorage.Data("published.test.x")
	node.SetData(path.Name, 1, "a")

	values := &recorder[vstorage.Value]{}
	if _, err := watcher.Watch(path, values.onUpdate, values.onError); err != nil {
		t.Fatalf("watch: %v", err)
	}
	refresh(t, watcher)

	updates, errs := values.snapshot()
	if len(updates) != 0 {
		t.Fatalf("expected no updates, got %v", updates)
	}
	if len(errs) != 1 || !strings.Contains(errs[0], "unknown slot") {
		t.Fatalf("unexpected errors %v", errs)
	}
}

func TestRoundFailureLogNamesEndpoint(t *testing.T) {
	node := newFakeNode(t)
	buffer := logging.NewLogBuffer(16)
	watcher := newManualWatcher(t, node, Options{
		Logger: logging.NewLoggerWithOutput(buffer, logging.LevelInfo, nil),
	})
	if _, err := watcher.Watch(vstorage.Data("published.test.x"), func(vstorage.Value) {}, nil); err != nil {
		t.Fatalf("watch: %v", err)
	}
	node.FailWith(http.StatusBadGateway)
	if err := watcher.Refresh(context.Background()); !errors.Is(err, vstorage.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}

	entries := buffer.Find("round failed")
	if len(entries) != 1 {
		t.Fatalf("expected one round failure entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Category != logging.CategoryWatcher {
		t.Fatalf("expected watcher category, got %q", entry.Category)
	}
	if entry.Fields["endpoint"] != node.URL() || entry.Fields["chain_id"] != fakeChainID {
		t.Fatalf("unexpected fields %v", entry.Fields)
	}
}

func TestPanickingCallbackDoesNotStopOthers(t *testing.T) {
	node := newFakeNode(t)
	buffer := logging.NewLogBuffer(16)
	watcher := newManualWatcher(t, node, Options{
		Logger: logging.NewLoggerWithOutput(buffer, logging.LevelDebug, nil),
	})
	path := vstorage.Data("published.test.x")
	node.SetData(path.Name, 1, "a")

	if _, err := watcher.Watch(path, func(vstorage.Value) { panic("boom") }, nil); err != nil {
		t.Fatalf("watch: %v", err)
	}
	values := &recorder[vstorage.Value]{}
	if _, err := watcher.Watch(path, values.onUpdate, nil); err != nil {
		t.Fatalf("watch: %v", err)
	}
	refresh(t, watcher)

	if updates, _ := values.snapshot(); len(updates) != 1 {
		t.Fatalf("expected second subscriber to be served, got %d updates", len(updates))
	}
	if entries := buffer.Find("subscriber callback panicked"); len(entries) != 1 {
		t.Fatalf("expected panic to be logged once, got %d", len(entries))
	}
}

func TestEventsStreamPublishesChanges(t *testing.T) {
	node := newFakeNode(t)
	watcher := newManualWatcher(t, node, Options{})
	updated := vstorage.Data("published.test.x")
	failing := vstorage.Data("published.test.z")
	node.SetData(updated.Name, 4, "a")
	node.SetError(failing.QueryPath(""), 6, "not found")

	events, cancel := watcher.Events()
	defer cancel()

	for _, path := range []vstorage.Path{updated, failing} {
		if _, err := watcher.Watch(path, func(vstorage.Value) {}, nil); err != nil {
			t.Fatalf("watch %s: %v", path, err)
		}
	}
	refresh(t, watcher)
	refresh(t, watcher)

	got := map[string]Event{}
	for len(got) < 2 {
		select {
		case evt := <-events:
			got[evt.Type] = evt
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}
	if evt := got[EventTypePathUpdated]; evt.Path != updated || evt.Value.Data != "a" {
		t.Fatalf("unexpected update event %+v", evt)
	}
	if evt := got[EventTypePathError]; evt.Path != failing || evt.Error != "not found" {
		t.Fatalf("unexpected error event %+v", evt)
	}

	// the unchanged value of the second round is not republished
	recent := watcher.RecentEvents(0)
	updates := 0
	for _, evt := range recent {
		if evt.Type == EventTypePathUpdated {
			updates++
		}
	}
	if updates != 1 {
		t.Fatalf("expected one update event in history, got %d", updates)
	}
}

func TestWatchersShareNothing(t *testing.T) {
	node := newFakeNode(t)
	path := vstorage.Data("published.test.x")
	node.SetData(path.Name, 1, "a")

	first := newManualWatcher(t, node, Options{})
	second := newManualWatcher(t, node, Options{})
	firstValues := &recorder[string]{}
	secondValues := &recorder[string]{}
	if _, err := WatchLatest[string](first, path, firstValues.onUpdate, nil); err != nil {
		t.Fatalf("watch first: %v", err)
	}
	if _, err := WatchLatest[string](second, path, secondValues.onUpdate, nil); err != nil {
		t.Fatalf("watch second: %v", err)
	}

	refresh(t, first)
	if updates, _ := secondValues.snapshot(); len(updates) != 0 {
		t.Fatalf("second watcher notified by first watcher's round: %v", updates)
	}
	refresh(t, second)
	if updates, _ := secondValues.snapshot(); !cmp.Equal([]string{"a"}, updates) {
		t.Fatalf("unexpected second watcher updates %v", updates)
	}
	if updates, _ := firstValues.snapshot(); !cmp.Equal([]string{"a"}, updates) {
		t.Fatalf("unexpected first watcher updates %v", updates)
	}
}

func TestStatsReportChainAndRounds(t *testing.T) {
	node := newFakeNode(t)
	watcher := newManualWatcher(t, node, Options{})
	node.SetChildren("published")
	if _, err := watcher.Watch(vstorage.Children("published"), func(vstorage.Value) {}, nil); err != nil {
		t.Fatalf("watch: %v", err)
	}
	refresh(t, watcher)

	stats := watcher.Stats()
	if stats.ChainID != fakeChainID || watcher.ChainID() != fakeChainID {
		t.Fatalf("unexpected chain id %q", stats.ChainID)
	}
	if stats.Rounds != 1 || stats.LastRound.IsZero() || stats.LastError != "" {
		t.Fatalf("unexpected round stats %+v", stats)
	}
	if stats.State != StateArmed {
		t.Fatalf("expected armed scheduler, got %s", stats.State)
	}
}
