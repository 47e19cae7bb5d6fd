package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"harmony/model"

	"github.com/go-redis/redis/v8"
)

const sessionKey = "harmony:session"

// SessionCache keeps the playback session in redis as one JSON value.
type SessionCache struct {
	client *redis.Client
	key    string
}

// NewSessionCache 创建会话缓存
func NewSessionCache(client *redis.Client) *SessionCache {
	return &SessionCache{client: client, key: sessionKey}
}

// Load returns nil, nil when nothing has been saved.
func (c *SessionCache) Load(ctx context.Context) (*model.SessionState, error) {
	data, err := c.client.Get(ctx, c.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: load session: %v", model.ErrCatalogIO, err)
	}

	var state model.SessionState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("%w: decode session: %v", model.ErrCatalogIO, err)
	}
	return &state, nil
}

func (c *SessionCache) Save(ctx context.Context, state model.SessionState) error {
	state.UpdatedAt = time.Now()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: save session: %v", model.ErrCatalogIO, err)
	}
	return nil
}
