package timeline

import (
	"reflect"
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

func TestMergeIsIdempotent(t *testing.T) {
	page := []Entry{
		{ID: "1", From: "bob", Text: "hi", Decrypted: true, At: at(0), Status: StatusDelivered},
		{ID: "2", From: "bob", Text: "there", Decrypted: true, At: at(1), Status: StatusDelivered},
	}

	tl := New()
	tl.Merge(page)
	once := tl.Entries()

	tl.Merge(page)
	twice := tl.Entries()

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("merging the same page twice changed the timeline:\nonce:  %+v\ntwice: %+v", once, twice)
	}
	if len(twice) != 2 {
		t.Errorf("expected 2 entries, got %d", len(twice))
	}
}

func TestMergeSortsByTimestamp(t *testing.T) {
	tl := New()
	tl.Merge([]Entry{{ID: "2", At: at(5), Decrypted: true}})
	tl.Merge([]Entry{{ID: "1", At: at(1), Decrypted: true}})
	tl.Merge([]Entry{{ID: "3", At: at(9), Decrypted: true}})

	got := tl.Entries()
	if got[0].ID != "1" || got[1].ID != "2" || got[2].ID != "3" {
		t.Errorf("timeline not sorted ascending: %v", idsOf(got))
	}
}

func TestPlaceholderNeverOverwritesPlaintext(t *testing.T) {
	tl := New()
	tl.Merge([]Entry{{ID: "1", Text: "hello", Decrypted: true, At: at(0), Status: StatusDelivered}})

	// a later poll decrypted nothing (e.g. keys not loaded yet on that path)
	tl.Merge([]Entry{{ID: "1", Text: Placeholder, Decrypted: false, At: at(0), Status: StatusFailed}})

	got := tl.Entries()[0]
	if got.Text != "hello" || !got.Decrypted {
		t.Errorf("plaintext regressed to placeholder: %+v", got)
	}
	if got.Status != StatusDelivered {
		t.Errorf("status regressed: %v", got.Status)
	}
}

func TestPlaintextUpgradesPlaceholder(t *testing.T) {
	tl := New()
	tl.Merge([]Entry{{ID: "1", Text: Placeholder, Decrypted: false, At: at(0), Status: StatusFailed}})
	tl.Merge([]Entry{{ID: "1", Text: "hello", Decrypted: true, At: at(0), Status: StatusDelivered}})

	got := tl.Entries()[0]
	if got.Text != "hello" || got.Status != StatusDelivered {
		t.Errorf("late decryption did not upgrade the entry: %+v", got)
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	tl := New()
	tl.Merge([]Entry{{ID: "1", Decrypted: true, At: at(0), Status: StatusDelivered}})
	tl.Merge([]Entry{{ID: "1", Decrypted: true, At: at(0), Status: StatusQueued}})

	if got := tl.Entries()[0].Status; got != StatusDelivered {
		t.Errorf("delivered regressed to %v", got)
	}
}

func TestResolvePendingAttachesServerID(t *testing.T) {
	tl := New()
	tl.Merge([]Entry{{Mine: true, From: "me", Text: "hello", Decrypted: true, At: at(0), Status: StatusPending}})

	if !tl.ResolvePending("srv-1", StatusDelivered) {
		t.Fatal("no pending entry resolved")
	}
	got := tl.Entries()[0]
	if got.ID != "srv-1" || got.Status != StatusDelivered {
		t.Errorf("ack not applied: %+v", got)
	}

	// a later poll carrying the acknowledged id must dedupe, not duplicate
	tl.Merge([]Entry{{ID: "srv-1", From: "me", Text: "hello", Decrypted: true, At: at(0), Status: StatusDelivered}})
	if n := len(tl.Entries()); n != 1 {
		t.Errorf("acknowledged echo duplicated by poll: %d entries", n)
	}
}

func TestResolvePendingWithoutEcho(t *testing.T) {
	tl := New()
	if tl.ResolvePending("srv-1", StatusDelivered) {
		t.Error("resolved a pending entry that does not exist")
	}
}

func TestFailPendingMarksNewestEcho(t *testing.T) {
	tl := New()
	tl.Merge([]Entry{
		{Mine: true, Text: "first", At: at(0), Status: StatusPending},
		{Mine: true, Text: "second", At: at(1), Status: StatusPending},
	})

	tl.FailPending()
	got := tl.Entries()
	if got[1].Status != StatusFailed {
		t.Error("newest echo not failed")
	}
	if got[0].Status != StatusPending {
		t.Error("older echo failed too")
	}
}

func TestTimestampTiesKeepInsertionOrder(t *testing.T) {
	tl := New()
	tl.Merge([]Entry{
		{ID: "1", Text: "a", Decrypted: true, At: at(0)},
		{ID: "2", Text: "b", Decrypted: true, At: at(0)},
	})
	got := tl.Entries()
	if got[0].ID != "1" || got[1].ID != "2" {
		t.Errorf("equal timestamps reordered: %v", idsOf(got))
	}
}

func idsOf(entries []Entry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}
