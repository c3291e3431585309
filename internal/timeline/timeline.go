// Package timeline reconciles the three message sources a chat client sees
// for one conversation (live pushes, polled history pages, its own
// optimistic echoes) into a single ordered, deduplicated view.
package timeline

import (
	"sort"
	"sync"
	"time"
)

type Status string

const (
	// StatusPending: optimistic local echo, not yet acknowledged.
	StatusPending Status = "pending"
	// StatusFailed: transport error on send, or an envelope no candidate
	// key could decrypt.
	StatusFailed Status = "failed"
	StatusSent      Status = "sent"
	StatusQueued    Status = "queued"
	StatusDelivered Status = "delivered"
)

// Placeholder is rendered for entries whose envelope could not be
// decrypted with any candidate key. The entry stays visible; hiding it
// would silently lose mail.
const Placeholder = "[encrypted]"

// rank orders statuses by how far along the delivery path they are; merge
// never moves an entry backwards.
var rank = map[Status]int{
	StatusPending:   0,
	StatusFailed:    1,
	StatusSent:      2,
	StatusQueued:    3,
	StatusDelivered: 4,
}

type Entry struct {
	// ID is the server-assigned message id; empty for optimistic echoes
	// that have not been acknowledged yet.
	ID   string
	From string
	// Mine marks entries this client sent.
	Mine bool
	Text string
	// Decrypted is false when Text is the opaque placeholder.
	Decrypted bool
	At        time.Time
	Status    Status
}

// Timeline is safe for concurrent use; pushes, polls and sends arrive on
// different goroutines.
type Timeline struct {
	mu      sync.Mutex
	entries []Entry
}

func New() *Timeline {
	return &Timeline{}
}

// Merge folds new entries into the timeline. Entries sharing a server id
// are collapsed: a successfully decrypted text is never overwritten by a
// placeholder from a less informed source, and the delivery status only
// moves forward. Entries without an id are appended as-is. The result is
// sorted by timestamp ascending, ties keeping insertion order. Merging the
// same page twice is a no-op.
func (t *Timeline) Merge(next []Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	byID := make(map[string]int, len(t.entries))
	for i, e := range t.entries {
		if e.ID != "" {
			byID[e.ID] = i
		}
	}

	for _, n := range next {
		if n.ID == "" {
			t.entries = append(t.entries, n)
			continue
		}
		i, seen := byID[n.ID]
		if !seen {
			byID[n.ID] = len(t.entries)
			t.entries = append(t.entries, n)
			continue
		}
		t.entries[i] = merge(t.entries[i], n)
	}

	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].At.Before(t.entries[j].At)
	})
}

func merge(old, n Entry) Entry {
	out := n
	if old.Decrypted && !n.Decrypted {
		out.Text = old.Text
		out.Decrypted = true
	}
	if rank[old.Status] > rank[n.Status] {
		out.Status = old.Status
	}
	if n.At.IsZero() {
		out.At = old.At
	}
	if n.From == "" {
		out.From = old.From
	}
	out.Mine = old.Mine || n.Mine
	return out
}

// ResolvePending attaches the server-assigned id and status to the newest
// unacknowledged echo of mine, reconciling the optimistic entry with the
// relay's acknowledgment. Returns false when no pending echo exists (the
// ack arrived after a poll already reconciled it).
func (t *Timeline) ResolvePending(id string, status Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := &t.entries[i]
		if e.Mine && e.ID == "" && e.Status == StatusPending {
			e.ID = id
			e.Status = status
			return true
		}
	}
	return false
}

// FailPending marks the newest unacknowledged echo as failed after a
// transport error. The user retries by resending; there is no auto-retry.
func (t *Timeline) FailPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := &t.entries[i]
		if e.Mine && e.ID == "" && e.Status == StatusPending {
			e.Status = StatusFailed
			return true
		}
	}
	return false
}

// MarkDelivered upgrades the entry with the given id to delivered.
func (t *Timeline) MarkDelivered(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].ID == id && rank[t.entries[i].Status] < rank[StatusDelivered] {
			t.entries[i].Status = StatusDelivered
		}
	}
}

// Entries returns a snapshot of the current timeline.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Reset clears the timeline, e.g. when switching conversations.
func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}
