package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flightdeck-io/flightdeck/pkg/log"
	"github.com/flightdeck-io/flightdeck/pkg/mqtt"
	mqtttopic "github.com/flightdeck-io/flightdeck/pkg/mqtt/topic"
)

// Publisher streams cached telemetry snapshots and execution-status payloads
// to an MQTT broker. It reads only the cache, never the backend, so a slow
// broker cannot disturb command execution.
type Publisher struct {
	client    mqtt.Client
	topics    *mqtttopic.Builder
	vehicleID string
	cache     *Cache
	interval  time.Duration
}

// NewPublisher creates a publisher for the given vehicle.
func NewPublisher(client mqtt.Client, topics *mqtttopic.Builder, vehicleID string, cache *Cache, interval time.Duration) *Publisher {
	return &Publisher{
		client:    client,
		topics:    topics,
		vehicleID: vehicleID,
		cache:     cache,
		interval:  interval,
	}
}

// Run publishes the latest snapshot every interval until ctx is done. The
// retained online flag is set on connect and cleared by the broker's will on
// unexpected disconnect.
func (p *Publisher) Run(ctx context.Context) error {
	logger := log.WithName("telemetry.publisher")

	if err := p.client.AwaitConnection(ctx); err != nil {
		return err
	}

	online, _ := json.Marshal(map[string]any{"vehicleId": p.vehicleID, "online": true})
	if err := p.client.Publish(ctx, p.topics.Online(p.vehicleID), 1, true, online); err != nil {
		logger.Error(err, "Failed to publish online flag")
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Telemetry publisher stopped")
			return nil
		case <-ticker.C:
			snap, age, ok := p.cache.Latest()
			if !ok {
				continue
			}
			payload, err := json.Marshal(struct {
				VehicleID string `json:"vehicleId"`
				AgeMs     int64  `json:"ageMs"`
				Snapshot  any    `json:"snapshot"`
			}{p.vehicleID, age.Milliseconds(), snap})
			if err != nil {
				logger.Error(err, "Failed to marshal snapshot")
				continue
			}
			if err := p.client.Publish(ctx, p.topics.Telemetry(p.vehicleID), 0, false, payload); err != nil {
				logger.Debug("Telemetry publish failed", "err", err)
			}
		}
	}
}

// PublishStatus sends one execution-status payload upstream. Best effort: a
// broker failure is logged, never surfaced to the engine.
func (p *Publisher) PublishStatus(payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.client.Publish(ctx, p.topics.Status(p.vehicleID), 1, false, payload); err != nil {
		log.WithName("telemetry.publisher").Debug("Status publish failed", "err", err)
	}
}
