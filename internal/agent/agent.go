// Package agent composes the flightdeck vehicle agent: backend link,
// telemetry cache, execution engine, HTTP API and the optional MQTT and
// archive side channels.
package agent

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flightdeck-io/flightdeck/internal/archive"
	"github.com/flightdeck-io/flightdeck/internal/backend"
	"github.com/flightdeck-io/flightdeck/internal/command"
	"github.com/flightdeck-io/flightdeck/internal/engine"
	"github.com/flightdeck-io/flightdeck/internal/handler"
	"github.com/flightdeck-io/flightdeck/internal/server"
	"github.com/flightdeck-io/flightdeck/internal/telemetry"
	"github.com/flightdeck-io/flightdeck/pkg/log"
	"github.com/flightdeck-io/flightdeck/pkg/mqtt"
)

const connectTimeout = 10 * time.Second

// Agent runs one vehicle's command stack.
type Agent struct {
	vehicleID string
	specDir   string
	watch     bool

	backend  backend.Backend
	registry *command.Registry
	cache    *telemetry.Cache
	engine   *engine.Engine
	server   *server.Server

	mqttClient mqtt.Client
	publisher  *telemetry.Publisher
	archiver   *archive.Archiver
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (a *Agent) Run(ctx context.Context) error {
	log.Info("Starting flightdeck agent", "vehicleID", a.vehicleID)

	// Establish the vehicle link up front. A failure is not fatal: the
	// connect command can bring the link up later.
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	if err := a.backend.Connect(connectCtx); err != nil {
		log.Error(err, "Initial backend connect failed, continuing disconnected")
	}
	cancel()

	// Transition hooks must not block the engine goroutine; views are
	// drained by consumeTransitions.
	transitions := make(chan engine.View, 64)
	a.engine.OnTransition(func(v engine.View) {
		select {
		case transitions <- v:
		default:
			log.Warn("Transition buffer full, dropping status update", "record", v.ID)
		}
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.cache.Run(ctx) })
	g.Go(func() error { return a.engine.Run(ctx) })
	g.Go(func() error { return a.server.Run(ctx) })
	g.Go(func() error { return a.consumeTransitions(ctx, transitions) })

	if a.publisher != nil {
		if err := a.mqttClient.Start(ctx); err != nil {
			return err
		}
		defer a.mqttClient.Disconnect(context.Background())
		g.Go(func() error { return a.publisher.Run(ctx) })
	}

	if a.archiver != nil {
		bucketCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		if err := a.archiver.EnsureBucket(bucketCtx); err != nil {
			log.Error(err, "Archive bucket check failed, archival may fail")
		}
		cancel()
	}

	if a.watch {
		g.Go(func() error {
			return command.Watch(ctx, a.specDir, a.registry, handler.Factory)
		})
	}

	err := g.Wait()
	log.Info("Flightdeck agent stopped", "vehicleID", a.vehicleID)
	return err
}

// consumeTransitions fans record status changes out to the MQTT status topic
// and, for terminal records, the flight-record archive.
func (a *Agent) consumeTransitions(ctx context.Context, transitions <-chan engine.View) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-transitions:
			if a.publisher != nil {
				payload, err := json.Marshal(v)
				if err != nil {
					log.Error(err, "Failed to marshal record view", "record", v.ID)
				} else {
					a.publisher.PublishStatus(payload)
				}
			}
			if a.archiver != nil && v.Status.Terminal() {
				if err := a.archiver.Store(ctx, v); err != nil {
					log.Error(err, "Failed to archive flight record", "record", v.ID)
				}
			}
		}
	}
}
