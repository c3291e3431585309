package queue

import (
	"context"
	"encoding/json"
	"fmt"

	redisSvc "secure_chat/internal/service/redis"

	"secure_chat/internal/model"
)

// RedisQueue keeps one Redis list per recipient identity, so queued
// messages survive relay restarts.
type RedisQueue struct {
	redisService *redisSvc.RedisService
}

func NewRedisQueue(redisService *redisSvc.RedisService) *RedisQueue {
	return &RedisQueue{redisService: redisService}
}

func queueKey(identity string) string {
	return fmt.Sprintf("offline:%s", identity)
}

func (q *RedisQueue) Enqueue(ctx context.Context, identity string, msg *model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queued message: %w", err)
	}
	return q.redisService.RPush(ctx, queueKey(identity), data)
}

func (q *RedisQueue) DrainAll(ctx context.Context, identity string) ([]*model.Message, error) {
	key := queueKey(identity)
	vals, err := q.redisService.LRange(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := q.redisService.Del(ctx, key); err != nil {
		return nil, err
	}

	var res []*model.Message
	for _, v := range vals {
		var m model.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("unmarshal queued message: %w", err)
		}
		res = append(res, &m)
	}
	return res, nil
}
