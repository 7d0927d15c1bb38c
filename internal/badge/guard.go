package badge

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"semaphore/badging/internal/apperr"
	"semaphore/badging/internal/model"
)

// Guard lets one scan per tap through. Concurrent scans for the same key
// in this process share one flight; the optional Redis window catches the
// same tap arriving on another instance.
type Guard struct {
	flights singleflight.Group
	redis   *redis.Client
	window  time.Duration
	logger  *log.Logger
}

func NewGuard(redisClient *redis.Client, window time.Duration, logger *log.Logger) *Guard {
	if logger == nil {
		logger = log.Default()
	}
	return &Guard{redis: redisClient, window: window, logger: logger}
}

// Do runs write for key unless another scan for key is pending. Callers
// that lost the race get scan_in_progress and nothing is written for them.
func (g *Guard) Do(ctx context.Context, key string, write func(context.Context) (model.BadgeEvent, error)) (model.BadgeEvent, error) {
	leader := false
	value, err, _ := g.flights.Do(key, func() (interface{}, error) {
		leader = true
		if !g.claim(ctx, key) {
			return nil, apperr.Conflicts(CodeScanInProgress)
		}
		event, err := write(ctx)
		if err != nil {
			g.release(ctx, key)
			return nil, err
		}
		return event, nil
	})
	if !leader {
		return model.BadgeEvent{}, apperr.Conflicts(CodeScanInProgress)
	}
	if err != nil {
		return model.BadgeEvent{}, err
	}
	return value.(model.BadgeEvent), nil
}

// claim holds the cross-instance window. A Redis failure does not block the
// scan: the in-process flight still applies.
func (g *Guard) claim(ctx context.Context, key string) bool {
	if g.redis == nil || g.window <= 0 {
		return true
	}
	ok, err := g.redis.SetNX(ctx, scanKey(key), time.Now().UTC().Unix(), g.window).Result()
	if err != nil {
		g.logger.Printf("badge scan guard unavailable for %s: %v", key, err)
		return true
	}
	return ok
}

// release reopens the window after a scan that wrote nothing, so a corrected
// retry is not mistaken for the same tap.
func (g *Guard) release(ctx context.Context, key string) {
	if g.redis == nil || g.window <= 0 {
		return
	}
	if err := g.redis.Del(ctx, scanKey(key)).Err(); err != nil {
		g.logger.Printf("badge scan guard release failed for %s: %v", key, err)
	}
}

func scanKey(key string) string {
	return fmt.Sprintf("badge:scan:%s", key)
}
