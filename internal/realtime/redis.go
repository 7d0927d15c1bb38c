package realtime

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"semaphore/badging/internal/model"
)

// Channel carries user changes between instances.
const Channel = "badging:users"

type Notifier interface {
	UserChanged(ctx context.Context, user model.User) error
}

// RedisNotifier publishes changes so every instance's loop sees them. When
// publishing fails the change goes to fallback instead.
type RedisNotifier struct {
	client   *redis.Client
	fallback Notifier
	logger   *log.Logger
}

func NewRedisNotifier(client *redis.Client, fallback Notifier, logger *log.Logger) *RedisNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &RedisNotifier{client: client, fallback: fallback, logger: logger}
}

func (n *RedisNotifier) UserChanged(ctx context.Context, user model.User) error {
	if n.client == nil {
		return n.local(ctx, user)
	}
	data, err := json.Marshal(Change{Op: OpUpsert, User: user, Version: user.UpdatedAt.UnixNano()})
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, Channel, data).Err(); err != nil {
		n.logger.Printf("realtime publish %s: %v", user.ID, err)
		return n.local(ctx, user)
	}
	return nil
}

func (n *RedisNotifier) local(ctx context.Context, user model.User) error {
	if n.fallback == nil {
		return nil
	}
	return n.fallback.UserChanged(ctx, user)
}

// Relay feeds changes published on Channel into loop until ctx is done.
func Relay(ctx context.Context, client *redis.Client, loop *Loop, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	sub := client.Subscribe(ctx, Channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				logger.Printf("realtime decode: %v", err)
				continue
			}
			if err := loop.Publish(ctx, change); err != nil {
				return nil
			}
		}
	}
}

// SeedFrom loads the roster once, with a bounded wait on the source.
func SeedFrom(ctx context.Context, loop *Loop, list func(context.Context) ([]model.User, error), timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	users, err := list(ctx)
	if err != nil {
		return err
	}
	loop.Seed(users)
	return nil
}
