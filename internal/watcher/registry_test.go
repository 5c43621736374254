package watcher

import (
	"errors"
	"testing"

	"github.com/iomekam/dapp-inter/internal/vstorage"
)

func TestRegistryFirstSuccessAlwaysNotifies(t *testing.T) {
	registry := newRegistry()
	path := vstorage.Data("published.test.x")
	var got []any
	registry.add(path, func(value vstorage.Value) { got = append(got, value.Data) }, nil)

	result := registry.record(vstorage.Outcome{Path: path, Value: vstorage.Value{Data: nil}})
	if !result.changed || len(result.deliveries) != 1 {
		t.Fatalf("expected first result to notify, got %+v", result)
	}
	result.deliveries[0].onUpdate(result.deliveries[0].value)
	if len(got) != 1 || got[0] != nil {
		t.Fatalf("expected a single nil delivery, got %v", got)
	}
}

func TestRegistrySuppressesEqualValues(t *testing.T) {
	registry := newRegistry()
	path := vstorage.Data("published.test.x")
	registry.add(path, func(vstorage.Value) {}, nil)

	first := vstorage.Value{Data: map[string]any{"n": 1.0}, BlockHeight: 5, HasHeight: true}
	registry.record(vstorage.Outcome{Path: path, Value: first})

	same := vstorage.Value{Data: map[string]any{"n": 1.0}, BlockHeight: 9, HasHeight: true}
	result := registry.record(vstorage.Outcome{Path: path, Value: same})
	if result.changed || len(result.deliveries) != 0 {
		t.Fatalf("expected structurally equal value to be suppressed, got %+v", result)
	}
	if got := registry.entries[path].blockHeight; got != 9 {
		t.Fatalf("expected cache height 9, got %d", got)
	}
}

func TestRegistryOlderHeightStillDeliversChangedValue(t *testing.T) {
	registry := newRegistry()
	path := vstorage.Data("published.test.x")
	registry.add(path, func(vstorage.Value) {}, nil)

	registry.record(vstorage.Outcome{Path: path, Value: vstorage.Value{Data: "a", BlockHeight: 10, HasHeight: true}})
	result := registry.record(vstorage.Outcome{Path: path, Value: vstorage.Value{Data: "b", BlockHeight: 3, HasHeight: true}})
	if !result.changed || len(result.deliveries) != 1 {
		t.Fatalf("expected changed value to be delivered, got %+v", result)
	}
	if registry.entries[path].blockHeight != 10 {
		t.Fatalf("expected height to stay at 10, got %d", registry.entries[path].blockHeight)
	}
	if registry.entries[path].value.Data != "b" {
		t.Fatalf("expected cache to hold b, got %v", registry.entries[path].value.Data)
	}
}

func TestRegistryErrorKeepsCache(t *testing.T) {
	registry := newRegistry()
	path := vstorage.Children("published.test.y")
	var messages []string
	registry.add(path, func(vstorage.Value) {}, func(message string) { messages = append(messages, message) })
	registry.add(path, func(vstorage.Value) {}, nil)

	registry.record(vstorage.Outcome{Path: path, Value: vstorage.Value{Data: []string{"c1"}}})
	result := registry.record(vstorage.Outcome{Path: path, Err: errors.New("not found")})
	if !result.failed {
		t.Fatal("expected failed result")
	}
	if len(result.deliveries) != 1 {
		t.Fatalf("expected only the subscriber with an error callback, got %d", len(result.deliveries))
	}
	result.deliveries[0].onError(result.deliveries[0].message)
	if len(messages) != 1 || messages[0] != "not found" {
		t.Fatalf("unexpected messages %v", messages)
	}

	cached := registry.entries[path].value.Children()
	if len(cached) != 1 || cached[0] != "c1" {
		t.Fatalf("expected cache to survive error, got %v", cached)
	}
}

func TestRegistryUnprimedSubscriberGetsCachedValue(t *testing.T) {
	registry := newRegistry()
	path := vstorage.Data("published.test.x")
	registry.add(path, func(vstorage.Value) {}, nil)
	registry.record(vstorage.Outcome{Path: path, Value: vstorage.Value{Data: "a"}})

	registry.add(path, func(vstorage.Value) {}, nil)
	result := registry.record(vstorage.Outcome{Path: path, Value: vstorage.Value{Data: "a"}})
	if result.changed {
		t.Fatal("expected unchanged value")
	}
	if len(result.deliveries) != 1 {
		t.Fatalf("expected only the new subscriber to be primed, got %d deliveries", len(result.deliveries))
	}
	result = registry.record(vstorage.Outcome{Path: path, Value: vstorage.Value{Data: "a"}})
	if len(result.deliveries) != 0 {
		t.Fatalf("expected no deliveries once primed, got %d", len(result.deliveries))
	}
}

func TestRegistryRemoveForgetsEmptyPath(t *testing.T) {
	registry := newRegistry()
	leaf := vstorage.Data("published.x")
	listing := vstorage.Children("published.x")
	first, created := registry.add(leaf, func(vstorage.Value) {}, nil)
	if !created {
		t.Fatal("expected first add to create the entry")
	}
	second, created := registry.add(leaf, func(vstorage.Value) {}, nil)
	if created {
		t.Fatal("expected second add to reuse the entry")
	}
	registry.add(listing, func(vstorage.Value) {}, nil)
	if registry.pathCount() != 2 {
		t.Fatalf("expected data and children paths to be distinct, got %d", registry.pathCount())
	}

	if removed, empty := registry.remove(leaf, first); !removed || empty {
		t.Fatalf("expected removal without emptying, got removed=%v empty=%v", removed, empty)
	}
	if removed, empty := registry.remove(leaf, second); !removed || !empty {
		t.Fatalf("expected last removal to empty, got removed=%v empty=%v", removed, empty)
	}
	if removed, _ := registry.remove(leaf, second); removed {
		t.Fatal("expected repeated removal to be a no-op")
	}
	paths := registry.paths()
	if len(paths) != 1 || paths[0] != listing {
		t.Fatalf("expected only the children path to remain, got %v", paths)
	}
}

func TestRegistryIgnoresUnknownPath(t *testing.T) {
	registry := newRegistry()
	result := registry.record(vstorage.Outcome{Path: vstorage.Data("gone"), Value: vstorage.Value{Data: 1}})
	if result.changed || result.failed || len(result.deliveries) != 0 {
		t.Fatalf("expected no-op for unknown path, got %+v", result)
	}
}

type opaque struct {
	hidden []int
}

func TestValuesEqualComparesUnexportedFields(t *testing.T) {
	if !valuesEqual(opaque{hidden: []int{1}}, opaque{hidden: []int{1}}) {
		t.Fatal("expected equal opaque values")
	}
	if valuesEqual(opaque{hidden: []int{1}}, opaque{hidden: []int{2}}) {
		t.Fatal("expected different opaque values")
	}
	if valuesEqual([]string{"a"}, []any{"a"}) {
		t.Fatal("expected differently typed values to differ")
	}
}
