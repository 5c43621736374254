// Package watcher polls paths in a chain's storage tree and notifies
// subscribers when the stored value changes.
//
// All watched paths of one Watcher share a single timer, and every tick
// issues one batched abci_query request covering each distinct path. Rounds
// never overlap. Callbacks run on the round goroutine, one round at a time,
// so a subscriber sees values in the order they were read. Callbacks must not
// call Refresh on the same Watcher.
package watcher
