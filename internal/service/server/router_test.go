package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"secure_chat/internal/history"
	"secure_chat/internal/model"
	"secure_chat/internal/presence"
	"secure_chat/internal/queue"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []*model.Frame
	err    error
}

func (f *fakeConn) Push(frame *model.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) messages() []*model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Message
	for _, fr := range f.frames {
		if fr.Type == model.FrameMessage {
			out = append(out, fr.Message)
		}
	}
	return out
}

type failingStore struct{}

func (failingStore) Insert(context.Context, *model.Message) error {
	return errors.New("datastore down")
}

func (failingStore) QueryThread(context.Context, string, string, time.Time, int64) ([]*model.Message, error) {
	return nil, errors.New("datastore down")
}

type fakeRemote struct {
	taken bool
	msgs  []*model.Message
}

func (r *fakeRemote) Publish(_ context.Context, _ string, msg *model.Message) (bool, error) {
	r.msgs = append(r.msgs, msg)
	return r.taken, nil
}

func msgTo(receiver string) *model.Message {
	return &model.Message{
		SenderID:         "alice",
		ReceiverID:       receiver,
		EncryptedContent: `{"nonce":"bm9uY2U=","cipher":"Y2lwaGVy"}`,
	}
}

func TestRouteDeliversToOnlineReceiver(t *testing.T) {
	dir := presence.NewDirectory()
	conn := &fakeConn{}
	dir.MarkOnline([]string{"bob"}, conn, "")

	q := queue.NewMemoryQueue()
	router := NewDeliveryRouter(dir, q, nil, nil)

	status := router.Route(context.Background(), msgTo("bob"))
	if status != model.StatusDelivered {
		t.Fatalf("expected delivered, got %v", status)
	}
	if got := conn.messages(); len(got) != 1 {
		t.Fatalf("receiver got %d messages, want exactly 1", len(got))
	}
	if queued, _ := q.DrainAll(context.Background(), "bob"); len(queued) != 0 {
		t.Error("delivered message also queued")
	}
}

func TestRouteQueuesForOfflineReceiver(t *testing.T) {
	dir := presence.NewDirectory()
	q := queue.NewMemoryQueue()
	router := NewDeliveryRouter(dir, q, nil, nil)

	status := router.Route(context.Background(), msgTo("bob"))
	if status != model.StatusQueued {
		t.Fatalf("expected queued, got %v", status)
	}

	queued, _ := q.DrainAll(context.Background(), "bob")
	if len(queued) != 1 {
		t.Fatalf("expected exactly 1 queued message, got %d", len(queued))
	}
	if queued[0].Status != model.StatusQueued {
		t.Error("queued message does not carry its status")
	}
}

func TestRouteWithoutQueueIsBestEffort(t *testing.T) {
	dir := presence.NewDirectory()
	router := NewDeliveryRouter(dir, nil, nil, nil)

	status := router.Route(context.Background(), msgTo("bob"))
	if status != model.StatusSent {
		t.Fatalf("expected sent, got %v", status)
	}
}

func TestRouteFallsBackToQueueWhenPushFails(t *testing.T) {
	dir := presence.NewDirectory()
	dead := &fakeConn{err: errors.New("broken pipe")}
	dir.MarkOnline([]string{"bob"}, dead, "")

	q := queue.NewMemoryQueue()
	router := NewDeliveryRouter(dir, q, nil, nil)

	status := router.Route(context.Background(), msgTo("bob"))
	if status != model.StatusQueued {
		t.Fatalf("expected queued after failed push, got %v", status)
	}
}

func TestRouteViaRemotePusher(t *testing.T) {
	dir := presence.NewDirectory()
	remote := &fakeRemote{taken: true}
	q := queue.NewMemoryQueue()
	router := NewDeliveryRouter(dir, q, nil, remote)

	status := router.Route(context.Background(), msgTo("bob"))
	if status != model.StatusDelivered {
		t.Fatalf("expected delivered via bus, got %v", status)
	}
	if queued, _ := q.DrainAll(context.Background(), "bob"); len(queued) != 0 {
		t.Error("remotely delivered message also queued")
	}
}

func TestRemoteNotTakenFallsBackToQueue(t *testing.T) {
	dir := presence.NewDirectory()
	remote := &fakeRemote{taken: false}
	q := queue.NewMemoryQueue()
	router := NewDeliveryRouter(dir, q, nil, remote)

	if status := router.Route(context.Background(), msgTo("bob")); status != model.StatusQueued {
		t.Fatalf("expected queued, got %v", status)
	}
}

func TestHistoryFailureNeverFailsDelivery(t *testing.T) {
	dir := presence.NewDirectory()
	conn := &fakeConn{}
	dir.MarkOnline([]string{"bob"}, conn, "")

	router := NewDeliveryRouter(dir, nil, failingStore{}, nil)
	status := router.Route(context.Background(), msgTo("bob"))
	router.persistWG.Wait()

	if status != model.StatusDelivered {
		t.Fatalf("history failure leaked into the delivery outcome: %v", status)
	}
	if len(conn.messages()) != 1 {
		t.Error("message not delivered despite healthy connection")
	}
}

func TestHistoryRecordMatchesOutcome(t *testing.T) {
	dir := presence.NewDirectory()
	store := history.NewMemoryStore()
	q := queue.NewMemoryQueue()
	router := NewDeliveryRouter(dir, q, store, nil)

	msg := msgTo("bob")
	msg.ID = "m1"
	msg.CreatedAt = time.Now().Add(-time.Second)
	router.Route(context.Background(), msg)
	router.persistWG.Wait()

	thread, _ := store.QueryThread(context.Background(), "alice", "bob", time.Time{}, 10)
	if len(thread) != 1 {
		t.Fatalf("expected 1 persisted message, got %d", len(thread))
	}
	if thread[0].Status != model.StatusQueued {
		t.Errorf("persisted status %v does not match routing outcome", thread[0].Status)
	}
}

func TestDeliveryOrderIsFIFOPerPair(t *testing.T) {
	dir := presence.NewDirectory()
	conn := &fakeConn{}
	dir.MarkOnline([]string{"bob"}, conn, "")
	router := NewDeliveryRouter(dir, nil, nil, nil)

	for i := 0; i < 20; i++ {
		msg := msgTo("bob")
		msg.ID = fmt.Sprintf("m%d", i)
		router.Route(context.Background(), msg)
	}

	got := conn.messages()
	if len(got) != 20 {
		t.Fatalf("expected 20 messages, got %d", len(got))
	}
	for i, m := range got {
		if m.ID != fmt.Sprintf("m%d", i) {
			t.Fatalf("message %d arrived out of order: %s", i, m.ID)
		}
	}
}
