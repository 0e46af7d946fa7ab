// Package store holds the single shared buffer value.
//
// A Store is owned by exactly one coordinator hub; nothing else reads or writes it.
package store

import "context"

// Store keeps the current buffer. Set replaces the value unconditionally.
type Store interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, value string) error
}

// Watcher is implemented by stores shared between processes. Watch signals that
// another process wrote the value; writes through this Store are not echoed back.
// A delivered value may already be stale, so receivers re-read with Get.
type Watcher interface {
	Watch(ctx context.Context) (<-chan string, error)
}
