// Package nodejson is the value encoding shared by the persistent stores:
// store values are kept as JSON and read back with integers as int64.
package nodejson

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/dtroode/staffsync/internal/model"
)

// Marshal encodes a store value. Only strings, integers and nodes of those
// are accepted.
func Marshal(value any) ([]byte, error) {
	if err := check(value); err != nil {
		return nil, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return data, nil
}

// Unmarshal decodes data produced by Marshal.
func Unmarshal(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return normalize(v), nil
}

func check(value any) error {
	switch t := value.(type) {
	case string, int, int32, int64:
		return nil
	case model.Node:
		return checkNode(t)
	case map[string]any:
		return checkNode(t)
	default:
		return fmt.Errorf("unsupported value type %T", value)
	}
}

func checkNode(n map[string]any) error {
	for k, v := range n {
		if err := check(v); err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
	}
	return nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(string(t), 64); err == nil {
			return f
		}
		return string(t)
	case map[string]any:
		n := make(model.Node, len(t))
		for k, child := range t {
			n[k] = normalize(child)
		}
		return n
	default:
		return v
	}
}
