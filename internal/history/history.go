// Package history is the durable, queryable log of past messages,
// independent of live delivery. Writes are best-effort from the relay's
// point of view: a failed insert is logged, never surfaced to the sender.
package history

import (
	"context"
	"time"

	"secure_chat/internal/model"
)

type Store interface {
	// Insert appends one message, including its public-key snapshots and
	// delivery status, exactly as routed.
	Insert(ctx context.Context, msg *model.Message) error
	// QueryThread returns messages exchanged between the two identities
	// (either direction, either alias form the caller holds), strictly
	// before the given time, oldest first within the page. A zero before
	// means "now". limit caps the page size.
	QueryThread(ctx context.Context, identityA, identityB string, before time.Time, limit int64) ([]*model.Message, error)
}
