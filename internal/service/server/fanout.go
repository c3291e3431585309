package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"secure_chat/internal/model"
	"secure_chat/internal/presence"
	redisSvc "secure_chat/internal/service/redis"
	"secure_chat/internal/utils/log"
)

// Fanout bridges delivery across relay processes over Redis pub/sub. Each
// process subscribes a channel per locally connected identity; a message
// accepted elsewhere is published to that channel and pushed to the local
// connection on arrival. To the DeliveryRouter a remote receiver looks the
// same as a local one.
type Fanout struct {
	redisService *redisSvc.RedisService
	presence     *presence.Directory

	mu   sync.Mutex
	subs map[string]*redis.PubSub
}

func NewFanout(redisService *redisSvc.RedisService, dir *presence.Directory) *Fanout {
	return &Fanout{
		redisService: redisService,
		presence:     dir,
		subs:         make(map[string]*redis.PubSub),
	}
}

func deliveryChannel(identity string) string {
	return fmt.Sprintf("deliver:%s", identity)
}

// Publish offers the message to whichever process holds the receiver's
// connection. Returns true when at least one subscriber took it.
func (f *Fanout) Publish(ctx context.Context, identity string, msg *model.Message) (bool, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}
	receivers, err := f.redisService.Publish(ctx, deliveryChannel(identity), data)
	if err != nil {
		return false, err
	}
	return receivers > 0, nil
}

// Subscribe starts listening for remote deliveries addressed to the given
// identity forms, pushing them to the local connection as they arrive.
func (f *Fanout) Subscribe(ctx context.Context, identities ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range identities {
		if _, ok := f.subs[id]; ok {
			continue
		}
		sub := f.redisService.Subscribe(ctx, deliveryChannel(id))
		f.subs[id] = sub
		go f.pump(id, sub)
	}
}

func (f *Fanout) pump(identity string, sub *redis.PubSub) {
	for m := range sub.Channel() {
		var msg model.Message
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			log.Error("fanout payload unreadable", zap.Error(err))
			continue
		}
		conn := f.presence.LookupConn(identity)
		if conn == nil {
			// receiver vanished between publish and arrival; best effort
			log.Debug("fanout receiver gone", zap.String("identity", identity))
			continue
		}
		if err := conn.Push(&model.Frame{Type: model.FrameMessage, Message: &msg}); err != nil {
			log.Debug("fanout push failed", zap.String("identity", identity), zap.Error(err))
		}
	}
}

// Unsubscribe stops remote delivery for identity forms that went offline.
func (f *Fanout) Unsubscribe(identities ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range identities {
		if sub, ok := f.subs[id]; ok {
			_ = sub.Close()
			delete(f.subs, id)
		}
	}
}
