package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"browsergrid/internal/session"
)

var _ session.CallbackTokenStore = (*CallbackStore)(nil)

// CallbackStore keeps the short-lived async continuation tokens in Redis,
// keyed by container handle. GETDEL makes consumption exactly-once: the
// second reader of the same handle sees nothing.
type CallbackStore struct {
	client redis.Cmdable
}

func NewCallbackStore(client redis.Cmdable) *CallbackStore {
	return &CallbackStore{client: client}
}

func (s *CallbackStore) Put(ctx context.Context, containerID, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, callbackKey(containerID), token, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", session.ErrStorage, err)
	}
	return nil
}

func (s *CallbackStore) Consume(ctx context.Context, containerID string) (string, error) {
	val, err := s.client.GetDel(ctx, callbackKey(containerID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", session.ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", session.ErrStorage, err)
	}
	return val, nil
}
