package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"

	"github.com/MANAHILFATIMA72/backend-LockTalk/models"
	"github.com/MANAHILFATIMA72/backend-LockTalk/utils"
)

const (
	presenceKeyPrefix = "presence:"
	onlineSetKey      = "online_users"
	// EventsChannel carries user-status events for other services
	EventsChannel = "signaling:events"
)

// NewRedisClient parses url, selects db and checks the connection
func NewRedisClient(ctx context.Context, url string, db int) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opt.DB = db

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisPresence mirrors the registry into Redis so REST and moderation
// services can read presence without talking to this process. The
// registry stays authoritative; entries expire on their own if this
// process dies.
type RedisPresence struct {
	redis  *redis.Client
	logger *utils.Logger
	clock  clock.Clock
	ttl    time.Duration
}

func NewRedisPresence(client *redis.Client, ttl time.Duration, clk clock.Clock, logger *utils.Logger) *RedisPresence {
	return &RedisPresence{
		redis:  client,
		logger: logger,
		clock:  clk,
		ttl:    ttl,
	}
}

func (rp *RedisPresence) Update(ctx context.Context, userID string, status models.PresenceStatus) error {
	data, err := json.Marshal(models.UserPresence{
		UserID:   userID,
		Status:   status,
		LastSeen: rp.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal presence data: %w", err)
	}

	pipe := rp.redis.Pipeline()
	pipe.Set(ctx, presenceKeyPrefix+userID, data, rp.ttl)
	pipe.SAdd(ctx, onlineSetKey, userID)
	pipe.Expire(ctx, onlineSetKey, rp.ttl*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	return nil
}

func (rp *RedisPresence) Remove(ctx context.Context, userID string) error {
	pipe := rp.redis.Pipeline()
	pipe.Del(ctx, presenceKeyPrefix+userID)
	pipe.SRem(ctx, onlineSetKey, userID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	return nil
}

// OnlineUserIDs returns mirrored users whose key has not expired and
// drops the expired ones from the online set.
func (rp *RedisPresence) OnlineUserIDs(ctx context.Context) ([]string, error) {
	userIDs, err := rp.redis.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	pipe := rp.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(userIDs))
	for i, userID := range userIDs {
		cmds[i] = pipe.Get(ctx, presenceKeyPrefix+userID)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get presence data: %w", err)
	}

	valid := make([]string, 0, len(userIDs))
	var expired []interface{}
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				rp.logger.Error("Error getting presence", "user_id", userIDs[i], "error", err)
				continue
			}
			expired = append(expired, userIDs[i])
			continue
		}

		var presence models.UserPresence
		if err := json.Unmarshal([]byte(data), &presence); err != nil {
			rp.logger.Error("Error unmarshaling presence", "user_id", userIDs[i], "error", err)
			continue
		}
		valid = append(valid, presence.UserID)
	}

	if len(expired) > 0 {
		if err := rp.redis.SRem(ctx, onlineSetKey, expired...).Err(); err != nil {
			rp.logger.Error("Failed to prune expired presence", "error", err)
		}
	}
	return valid, nil
}

func (rp *RedisPresence) PublishStatus(ctx context.Context, userID string, status models.PresenceStatus) error {
	data, err := models.NewEvent(models.EvtUserStatus, models.UserStatusEvent{
		UserID: userID,
		Status: status,
	}).Encode()
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}
	return rp.redis.Publish(ctx, EventsChannel, data).Err()
}
