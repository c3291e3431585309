package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"secure_chat/internal/history"
	"secure_chat/internal/model"
	"secure_chat/internal/presence"
	"secure_chat/internal/queue"
	"secure_chat/internal/utils/log"
)

// RemotePusher hands a message to a receiver connected to another relay
// process. The bool result reports whether anyone actually took it.
type RemotePusher interface {
	Publish(ctx context.Context, identity string, msg *model.Message) (bool, error)
}

type (
	// DeliveryRouter decides the path of each accepted message: direct
	// push to a live connection, the pub/sub bus when the receiver sits on
	// another process, the offline queue, or best-effort "sent" when
	// neither is configured. History persistence runs on the side and
	// never delays or fails the routing decision.
	DeliveryRouter struct {
		presence *presence.Directory
		queue    queue.OfflineQueue
		history  history.Store
		remote   RemotePusher

		persistWG sync.WaitGroup
	}
)

func NewDeliveryRouter(dir *presence.Directory, q queue.OfflineQueue, h history.Store, remote RemotePusher) *DeliveryRouter {
	return &DeliveryRouter{
		presence: dir,
		queue:    q,
		history:  h,
		remote:   remote,
	}
}

// Route delivers or parks a fully formed message and returns the outcome
// the sender is acknowledged with. The message's Status field is set to the
// outcome before the history write so the persisted record matches the ack.
func (r *DeliveryRouter) Route(ctx context.Context, msg *model.Message) model.DeliveryStatus {
	status := model.StatusSent

	if conn := r.presence.LookupConn(msg.ReceiverID); conn != nil {
		err := conn.Push(&model.Frame{Type: model.FrameMessage, Message: msg})
		if err == nil {
			status = model.StatusDelivered
		} else {
			// connection died under us; fall through to the queue
			log.Debug("live push failed", zap.String("receiver", msg.ReceiverID), zap.Error(err))
		}
	}

	if status != model.StatusDelivered && r.remote != nil {
		taken, err := r.remote.Publish(ctx, msg.ReceiverID, msg)
		if err != nil {
			log.Error("remote publish failed", zap.String("receiver", msg.ReceiverID), zap.Error(err))
		} else if taken {
			status = model.StatusDelivered
		}
	}

	if status != model.StatusDelivered && r.queue != nil {
		if err := r.queue.Enqueue(ctx, msg.ReceiverID, msg); err != nil {
			log.Error("offline enqueue failed", zap.String("receiver", msg.ReceiverID), zap.Error(err))
		} else {
			status = model.StatusQueued
		}
	}

	msg.Status = status
	r.persist(msg)
	return status
}

// persist writes the message to history off the ack path. Failures are
// logged and swallowed; the sender already holds an acknowledgment.
func (r *DeliveryRouter) persist(msg *model.Message) {
	if r.history == nil {
		return
	}
	cp := *msg
	r.persistWG.Add(1)
	go func() {
		defer r.persistWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.history.Insert(ctx, &cp); err != nil {
			log.Error("history write failed", zap.String("messageId", cp.ID), zap.Error(err))
		}
	}()
}
