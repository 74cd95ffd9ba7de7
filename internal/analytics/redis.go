// Package analytics counts trigger firings in Redis time buckets.
// Writes are best-effort: failures are logged, never propagated, so a
// Redis outage cannot affect dispatching.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/testdeck/testdeck/internal/domain"
)

type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

// Record increments the fire counter for the event's bucket and refreshes
// its TTL.
func (s *RedisSink) Record(ctx context.Context, event domain.TriggerEvent, config domain.AnalyticsConfig) {
	if !config.Enabled {
		return
	}

	key := buildKey(event.ProjectID.String(), event.TriggerID.String(), config.Type, event.ScheduledAt, config.Window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, config.Retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline for trigger=%s: %v", event.TriggerID, err)
	}
}

func buildKey(projectID, triggerID string, typ domain.AnalyticsType, t time.Time, window time.Duration) string {
	bucket := truncateToBucket(t, window)
	return fmt.Sprintf("p:%s:t:%s:%s:%s", projectID, triggerID, typ, bucket)
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
