package vstorage

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Unserializer turns one serialized history entry into an application value.
// The entry is handed over as the raw JSON text the chain stored.
type Unserializer func(raw json.RawMessage) (any, error)

// JSONUnserializer decodes an entry as plain JSON.
func JSONUnserializer(raw json.RawMessage) (any, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// Value is a decoded storage value. For data paths Data holds the
// unserialized newest history entry and BlockHeight the height it was
// written at. For children paths Data is a []string of child names.
type Value struct {
	Data        any
	BlockHeight int64
	HasHeight   bool
}

// Children returns the child names of a listing value.
func (v Value) Children() []string {
	names, _ := v.Data.([]string)
	return names
}

type decodeFunc func(payload []byte, unserialize Unserializer) (Value, error)

var decoders = map[Kind]decodeFunc{
	KindData:     decodeData,
	KindChildren: decodeChildren,
}

// Decode extracts the logical value from a base64-decoded query payload.
func Decode(kind Kind, payload []byte, unserialize Unserializer) (Value, error) {
	decode, ok := decoders[kind]
	if !ok {
		return Value{}, fmt.Errorf("unsupported path kind %s", kind)
	}
	return decode(payload, unserialize)
}

type dataEnvelope struct {
	Value *string `json:"value"`
}

type streamCell struct {
	Values      []string        `json:"values"`
	BlockHeight json.RawMessage `json:"blockHeight"`
}

func decodeData(payload []byte, unserialize Unserializer) (Value, error) {
	var envelope dataEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Value{}, fmt.Errorf("invalid data payload: %w", err)
	}
	if envelope.Value == nil {
		return Value{}, fmt.Errorf("data payload has no value")
	}

	var cell streamCell
	if err := json.Unmarshal([]byte(*envelope.Value), &cell); err != nil {
		return Value{}, fmt.Errorf("invalid value history: %w", err)
	}
	if len(cell.Values) == 0 {
		return Value{}, fmt.Errorf("value history is empty")
	}
	height, hasHeight, err := parseHeight(cell.BlockHeight)
	if err != nil {
		return Value{}, err
	}

	if unserialize == nil {
		unserialize = JSONUnserializer
	}
	data, err := unserialize(json.RawMessage(cell.Values[len(cell.Values)-1]))
	if err != nil {
		return Value{}, fmt.Errorf("unserialize: %w", err)
	}
	return Value{Data: data, BlockHeight: height, HasHeight: hasHeight}, nil
}

type childrenEnvelope struct {
	Children json.RawMessage `json:"children"`
}

// decodeChildren treats a null listing as empty. A payload without a
// children key is not a listing.
func decodeChildren(payload []byte, _ Unserializer) (Value, error) {
	var envelope childrenEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Value{}, fmt.Errorf("invalid children payload: %w", err)
	}
	if len(envelope.Children) == 0 {
		return Value{}, fmt.Errorf("children payload has no children")
	}
	names := []string{}
	if string(envelope.Children) != "null" {
		if err := json.Unmarshal(envelope.Children, &names); err != nil {
			return Value{}, fmt.Errorf("invalid children listing: %w", err)
		}
	}
	return Value{Data: names}, nil
}

// parseHeight accepts the height as the chain writes it, a decimal string,
// or as a bare number.
func parseHeight(raw json.RawMessage) (int64, bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		text = string(raw)
	}
	height, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid block height %s", raw)
	}
	return height, true, nil
}
