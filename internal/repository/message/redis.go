package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"secure_drop/internal/model"
	redisSvc "secure_drop/internal/service/redis"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "securedrop:slot:"

type (
	// RedisBackend keeps each slot as a JSON string value. Keys carry no
	// redis TTL so that an expired slot is still seen, and reported, on the
	// next access.
	RedisBackend struct {
		redisService *redisSvc.RedisService
	}
)

func NewRedisBackend(redisService *redisSvc.RedisService) *RedisBackend {
	return &RedisBackend{
		redisService: redisService,
	}
}

func redisKey(recipientID string) string {
	return fmt.Sprintf("%s%s", redisKeyPrefix, recipientID)
}

func (r *RedisBackend) Load(ctx context.Context, recipientID string) (*model.StoredMessage, error) {
	data, err := r.redisService.Get(ctx, redisKey(recipientID))
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var msg model.StoredMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &msg, nil
}

func (r *RedisBackend) Save(ctx context.Context, recipientID string, msg *model.StoredMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.redisService.Set(ctx, redisKey(recipientID), data, 0)
}

func (r *RedisBackend) Remove(ctx context.Context, recipientID string) error {
	_, err := r.redisService.Del(ctx, redisKey(recipientID))
	return err
}

func (r *RedisBackend) RemoveAll(ctx context.Context) (int64, error) {
	keys, err := r.redisService.ScanKeys(ctx, redisKeyPrefix+"*")
	if err != nil {
		return 0, err
	}
	return r.redisService.Del(ctx, keys...)
}

func (r *RedisBackend) Close() error {
	return r.redisService.Close()
}
