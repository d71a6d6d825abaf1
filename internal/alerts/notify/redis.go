package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"swapstation-ops/internal/alerts/application"
)

// RedisPublisher is the publish call of *redis.Client.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes alert events on a fleet-wide channel and on a
// per-station channel station:<id>:alerts.
type RedisNotifier struct {
	client  RedisPublisher
	channel string
	log     logrus.FieldLogger
}

// NewRedisNotifier constructs a Redis notifier.
func NewRedisNotifier(client RedisPublisher, channel string, log logrus.FieldLogger) (*RedisNotifier, error) {
	if client == nil {
		return nil, errors.New("redis notifier: nil client")
	}
	if channel == "" {
		channel = "stations:alerts"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisNotifier{client: client, channel: channel, log: log.WithField("component", "redis_notifier")}, nil
}

// StationChannel is the per-station channel name.
func StationChannel(stationID string) string {
	return fmt.Sprintf("station:%s:alerts", stationID)
}

// Notify implements application.AlertNotifier. Failures are logged only.
func (r *RedisNotifier) Notify(ctx context.Context, event application.AlertEvent) {
	if r == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		r.log.WithError(err).Warn("marshal alert event failed")
		return
	}
	for _, channel := range []string{r.channel, StationChannel(event.Alert.StationID)} {
		if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"channel":  channel,
				"alert_id": event.Alert.ID,
			}).Warn("redis publish failed")
			return
		}
	}
}
