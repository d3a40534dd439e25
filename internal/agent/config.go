package agent

import (
	"encoding/json"
	"fmt"

	"github.com/flightdeck-io/flightdeck/internal/archive"
	"github.com/flightdeck-io/flightdeck/internal/backend"
	"github.com/flightdeck-io/flightdeck/internal/backend/sim"
	"github.com/flightdeck-io/flightdeck/internal/command"
	"github.com/flightdeck-io/flightdeck/internal/engine"
	"github.com/flightdeck-io/flightdeck/internal/handler"
	"github.com/flightdeck-io/flightdeck/internal/server"
	"github.com/flightdeck-io/flightdeck/internal/telemetry"
	"github.com/flightdeck-io/flightdeck/pkg/mqtt"
	mqtttopic "github.com/flightdeck-io/flightdeck/pkg/mqtt/topic"
	"github.com/flightdeck-io/flightdeck/pkg/options"
)

// Config assembles the option groups the agent is built from.
type Config struct {
	HttpOptions      *options.HttpOptions
	MqttOptions      *options.MqttOptions
	S3Options        *options.S3Options
	EngineOptions    *options.EngineOptions
	TelemetryOptions *options.TelemetryOptions
	BackendOptions   *options.BackendOptions
}

// NewAgent wires the backend, command registry, telemetry cache, engine and
// API server into a runnable agent.
func (cfg *Config) NewAgent() (*Agent, error) {
	be, err := cfg.newBackend()
	if err != nil {
		return nil, err
	}

	specs, err := command.LoadDir(cfg.BackendOptions.SpecDir, handler.Factory)
	if err != nil {
		return nil, fmt.Errorf("load command specs: %w", err)
	}
	reg := command.NewRegistry()
	if err := reg.Replace(specs); err != nil {
		return nil, fmt.Errorf("register command specs: %w", err)
	}

	cache := telemetry.NewCache(be, cfg.TelemetryOptions.PollInterval)

	eng := engine.New(engine.Config{
		Registry:    reg,
		Backend:     be,
		BackendKind: cfg.BackendOptions.Kind,
		Telemetry:   cache,
		QueueDepth:  cfg.EngineOptions.QueueDepth,
		CancelGrace: cfg.EngineOptions.CancelGrace,
		HistorySize: cfg.EngineOptions.HistorySize,
	})

	a := &Agent{
		vehicleID: cfg.BackendOptions.VehicleID,
		specDir:   cfg.BackendOptions.SpecDir,
		watch:     cfg.BackendOptions.WatchSpecs,
		backend:   be,
		registry:  reg,
		cache:     cache,
		engine:    eng,
		server:    server.New(cfg.HttpOptions, eng, reg, cache),
	}

	if cfg.MqttOptions.Enabled {
		client, topics, err := cfg.initMqttClientAndTopicBuilder()
		if err != nil {
			return nil, fmt.Errorf("init mqtt client: %w", err)
		}
		a.mqttClient = client
		a.publisher = telemetry.NewPublisher(client, topics, a.vehicleID, cache, cfg.TelemetryOptions.PublishInterval)
	}

	if cfg.S3Options.Enabled {
		archiver, err := archive.New(cfg.S3Options, a.vehicleID)
		if err != nil {
			return nil, fmt.Errorf("init record archive: %w", err)
		}
		a.archiver = archiver
	}

	return a, nil
}

func (cfg *Config) newBackend() (backend.Backend, error) {
	switch cfg.BackendOptions.Kind {
	case "sim":
		return sim.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.BackendOptions.Kind)
	}
}

func (cfg *Config) initMqttClientAndTopicBuilder() (mqtt.Client, *mqtttopic.Builder, error) {
	vid := cfg.BackendOptions.VehicleID
	topics := mqtttopic.NewBuilder(cfg.MqttOptions.TopicRoot)

	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = fmt.Sprintf("flightdeck-agent-%s", vid)
	}

	// The broker flips the retained online flag if the link drops unexpectedly.
	offlinePayload, _ := json.Marshal(map[string]any{
		"vehicleId": vid,
		"online":    false,
		"reason":    "UnexpectedDisconnect",
	})
	mqttConfig.WillTopic = topics.Online(vid)
	mqttConfig.WillPayload = offlinePayload
	mqttConfig.WillQoS = 1
	mqttConfig.WillRetain = true

	client, err := mqtt.NewClient(mqttConfig)
	if err != nil {
		return nil, nil, err
	}
	return client, topics, nil
}
