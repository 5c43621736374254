package watcher

import (
	"reflect"

	"github.com/google/go-cmp/cmp"

	"github.com/iomekam/dapp-inter/internal/vstorage"
)

type subscriber struct {
	id       uint64
	onUpdate UpdateFunc
	onError  ErrorFunc
	// primed is set once the subscriber has been handed a value. Unprimed
	// subscribers receive the next successful value even if it is unchanged.
	primed bool
}

type entry struct {
	path        vstorage.Path
	value       vstorage.Value
	hasValue    bool
	blockHeight int64
	subscribers []*subscriber
}

// registry maps each watched path to its cached value and subscribers. It
// has no lock of its own; the Watcher mutex guards every call.
type registry struct {
	entries map[vstorage.Path]*entry
	order   []vstorage.Path
	nextID  uint64
}

// delivery is one callback invocation computed under the lock and run after
// it is released.
type delivery struct {
	onUpdate UpdateFunc
	onError  ErrorFunc
	value    vstorage.Value
	message  string
}

// recordResult summarises what happened to one path in a round.
type recordResult struct {
	deliveries []delivery
	changed    bool
	failed     bool
}

func newRegistry() *registry {
	return &registry{entries: make(map[vstorage.Path]*entry)}
}

// add registers a subscriber and reports whether path was not watched before.
func (r *registry) add(path vstorage.Path, onUpdate UpdateFunc, onError ErrorFunc) (uint64, bool) {
	r.nextID++
	sub := &subscriber{id: r.nextID, onUpdate: onUpdate, onError: onError}
	existing, ok := r.entries[path]
	if !ok {
		existing = &entry{path: path}
		r.entries[path] = existing
		r.order = append(r.order, path)
	}
	existing.subscribers = append(existing.subscribers, sub)
	return sub.id, !ok
}

// remove drops one subscriber. empty reports that the path lost its last
// subscriber and was forgotten, cached value included.
func (r *registry) remove(path vstorage.Path, id uint64) (removed bool, empty bool) {
	existing, ok := r.entries[path]
	if !ok {
		return false, false
	}
	for index, candidate := range existing.subscribers {
		if candidate.id == id {
			existing.subscribers = append(existing.subscribers[:index], existing.subscribers[index+1:]...)
			removed = true
			break
		}
	}
	if len(existing.subscribers) > 0 {
		return removed, false
	}
	delete(r.entries, path)
	for index, candidate := range r.order {
		if candidate == path {
			r.order = append(r.order[:index], r.order[index+1:]...)
			break
		}
	}
	return removed, true
}

// paths returns the watched paths in registration order.
func (r *registry) paths() []vstorage.Path {
	out := make([]vstorage.Path, len(r.order))
	copy(out, r.order)
	return out
}

func (r *registry) pathCount() int {
	return len(r.entries)
}

func (r *registry) subscriberCount() int {
	total := 0
	for _, existing := range r.entries {
		total += len(existing.subscribers)
	}
	return total
}

func (r *registry) reset() {
	r.entries = make(map[vstorage.Path]*entry)
	r.order = nil
}

// record folds a round outcome into the cache. A failure leaves the cache
// alone and goes to error callbacks. A success always replaces the cache and
// reaches every subscriber when the value changed, otherwise only the
// unprimed ones. Block height never suppresses a changed value.
func (r *registry) record(outcome vstorage.Outcome) recordResult {
	existing, ok := r.entries[outcome.Path]
	if !ok {
		return recordResult{}
	}

	if outcome.Err != nil {
		result := recordResult{failed: true}
		message := outcome.Err.Error()
		for _, sub := range existing.subscribers {
			if sub.onError == nil {
				continue
			}
			result.deliveries = append(result.deliveries, delivery{onError: sub.onError, message: message})
		}
		return result
	}

	changed := !existing.hasValue || !valuesEqual(existing.value.Data, outcome.Value.Data)
	existing.value = outcome.Value
	existing.hasValue = true
	if outcome.Value.HasHeight && outcome.Value.BlockHeight > existing.blockHeight {
		existing.blockHeight = outcome.Value.BlockHeight
	}

	result := recordResult{changed: changed}
	for _, sub := range existing.subscribers {
		if !changed && sub.primed {
			continue
		}
		sub.primed = true
		result.deliveries = append(result.deliveries, delivery{onUpdate: sub.onUpdate, value: outcome.Value})
	}
	return result
}

func (r *registry) maxBlockHeight() int64 {
	var height int64
	for _, existing := range r.entries {
		if existing.blockHeight > height {
			height = existing.blockHeight
		}
	}
	return height
}

var exportAll = cmp.Exporter(func(reflect.Type) bool { return true })

// valuesEqual compares decoded values structurally. Values cmp cannot
// compare are treated as changed.
func valuesEqual(a, b any) (equal bool) {
	defer func() {
		if recover() != nil {
			equal = false
		}
	}()
	return cmp.Equal(a, b, exportAll)
}
