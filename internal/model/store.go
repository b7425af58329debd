package model

import (
	"context"
	"fmt"
	"strings"
)

// Node is a nested store value keyed by child name. Leaf values are
// string or int64; json-backed stores may also yield json.Number.
type Node map[string]any

// Subscription is a live change listener on a store path.
type Subscription interface {
	// Unsubscribe stops delivery. It is safe to call more than once and
	// after the subscription already ended.
	Unsubscribe()
}

// RemoteStore is the listener-capable keyed store the directory lives in.
type RemoteStore interface {
	// Set writes value (string, int64 or Node) at path, replacing what was there.
	Set(ctx context.Context, path string, value any) error
	// Get reads the value at path. ok is false when nothing is stored there.
	// A collection path yields a Node of its children.
	Get(ctx context.Context, path string) (value any, ok bool, err error)
	// Delete removes path and everything below it. Deleting an absent path
	// is not an error.
	Delete(ctx context.Context, path string) error
	// CompareAndSetInt writes next at path only if the current value equals
	// *expected, or if expected is nil and the path is absent.
	CompareAndSetInt(ctx context.Context, path string, expected *int64, next int64) (bool, error)
	// Subscribe delivers the node at path once immediately and again after
	// every change below it. onError is called at most once, after which no
	// further snapshots are delivered.
	Subscribe(ctx context.Context, path string, onSnapshot func(Node), onError func(error)) (Subscription, error)
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SplitPath splits a two-level store path. A collection path returns an
// empty key.
func SplitPath(path string) (collection, key string, err error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", "", fmt.Errorf("%w: empty path", ErrUnsupportedPath)
	}
	parts := strings.Split(path, "/")
	switch len(parts) {
	case 1:
		return parts[0], "", nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("%w: %q", ErrUnsupportedPath, path)
		}
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedPath, path)
	}
}

// CloneNode returns a deep copy of n.
func CloneNode(n Node) Node {
	if n == nil {
		return nil
	}
	out := make(Node, len(n))
	for k, v := range n {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies nested nodes; scalars are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case Node:
		return CloneNode(t)
	case map[string]any:
		return CloneNode(Node(t))
	default:
		return v
	}
}
