// Package queue holds messages for recipients who are offline until they
// announce presence again. Each recipient has a FIFO list; draining empties
// it oldest-first.
package queue

import (
	"context"

	"secure_chat/internal/model"
)

type OfflineQueue interface {
	// Enqueue appends the message to the tail of the recipient's list.
	Enqueue(ctx context.Context, identity string, msg *model.Message) error
	// DrainAll removes and returns the recipient's queued messages,
	// oldest first. A drained entry is never returned again; the caller
	// guarantees a single in-flight drain per identity.
	DrainAll(ctx context.Context, identity string) ([]*model.Message, error)
}
