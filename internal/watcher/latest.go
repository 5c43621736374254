package watcher

import (
	"fmt"
	"reflect"

	"github.com/iomekam/dapp-inter/internal/vstorage"
)

var valueType = reflect.TypeFor[vstorage.Value]()

// WatchLatest is Watch with a typed callback. The unserialized value of a
// data path, or the []string of a children path, is asserted to T. A stored
// null reaches T as its zero value when T is an interface, pointer, map or
// slice. With T of vstorage.Value the callback receives the value with its
// block height. A value of any other type is reported to onError.
func WatchLatest[T any](watcher *Watcher, path vstorage.Path, onUpdate func(T), onError ErrorFunc) (Unsubscribe, error) {
	if onUpdate == nil {
		return nil, fmt.Errorf("update callback is required")
	}
	target := reflect.TypeFor[T]()
	if target == valueType {
		return watcher.Watch(path, func(value vstorage.Value) {
			onUpdate(any(value).(T))
		}, onError)
	}
	nilable := acceptsNil(target)
	return watcher.Watch(path, func(value vstorage.Value) {
		if typed, ok := value.Data.(T); ok {
			onUpdate(typed)
			return
		}
		if value.Data == nil && nilable {
			var zero T
			onUpdate(zero)
			return
		}
		if onError != nil {
			onError(fmt.Sprintf("value at %s is %T, not %s", path, value.Data, target))
		}
	}, onError)
}

func acceptsNil(target reflect.Type) bool {
	switch target.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice:
		return true
	default:
		return false
	}
}
