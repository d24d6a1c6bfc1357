// XSIG Bridge - Crestron control processor to home automation gateway
//
// This is the main entry point for the XSIG bridge. The bridge listens
// for a Crestron control processor's XSIG symbol over TCP, keeps a
// mirror of every join value, and synchronises joins with external
// entity state over MQTT in both directions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/adamjs83/creston-xsig-hassio/internal/api"
	"github.com/adamjs83/creston-xsig-hassio/internal/bridge"
	"github.com/adamjs83/creston-xsig-hassio/internal/infrastructure/config"
	"github.com/adamjs83/creston-xsig-hassio/internal/infrastructure/influxdb"
	"github.com/adamjs83/creston-xsig-hassio/internal/infrastructure/logging"
	"github.com/adamjs83/creston-xsig-hassio/internal/infrastructure/mqtt"
	"github.com/adamjs83/creston-xsig-hassio/internal/keypad"
	"github.com/adamjs83/creston-xsig-hassio/internal/xsig"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting XSIG bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Core: join store, dispatcher, control processor listener
	store := xsig.NewStore()
	dispatcher := xsig.NewDispatcher()

	xsigServer := xsig.NewServer(xsig.Config{
		Host:            cfg.Xsig.Host,
		Port:            cfg.Xsig.Port,
		MaxSerialLength: cfg.Xsig.MaxSerialLength,
	}, store, dispatcher)
	xsigServer.SetLogger(log.With("component", "xsig"))

	// Join telemetry
	if influxClient != nil {
		telemetrySub := dispatcher.Subscribe(func(u xsig.Update) {
			switch u.Kind {
			case xsig.JoinDigital:
				v := 0.0
				if u.Digital {
					v = 1.0
				}
				influxClient.WriteJoinValue(u.Kind.String(), u.Join, v)
			case xsig.JoinAnalog:
				influxClient.WriteJoinValue(u.Kind.String(), u.Join, float64(u.Analog))
			case xsig.JoinSerial:
				influxClient.WriteSerialJoin(u.Join, u.Serial)
			}
		})
		defer telemetrySub.Cancel()
	}

	// Sync engine
	engine, err := bridge.NewEngine(bridge.EngineOptions{
		Sync:       cfg.Sync,
		Bus:        &mqttBridgeAdapter{client: mqttClient},
		Server:     xsigServer,
		Dispatcher: dispatcher,
		Logger:     log.With("component", "engine"),
	})
	if err != nil {
		return fmt.Errorf("creating sync engine: %w", err)
	}

	// Keypads and LED bindings
	bindingManager := startKeypads(cfg, engine, xsigServer, log)

	// Health reporter
	healthReporter := bridge.NewHealthReporter(bridge.HealthReporterConfig{
		Version:   version,
		Publisher: mqttClient,
		Server:    xsigServer,
		Store:     store,
	})
	healthReporter.SetLogger(log)
	if err := healthReporter.PublishStarting(); err != nil {
		log.Warn("failed to publish starting status", "error", err)
	}

	if influxClient != nil {
		engine.AddAvailabilityHook(func(available bool) {
			event := "disconnected"
			if available {
				event = "connected"
			}
			influxClient.WriteConnectionEvent(event, xsigServer.RemoteAddr())
		})
	}
	engine.AddAvailabilityHook(func(bool) {
		if err := healthReporter.PublishNow(); err != nil {
			log.Warn("failed to publish health on availability change", "error", err)
		}
	})

	if err := engine.Start(); err != nil {
		return fmt.Errorf("starting sync engine: %w", err)
	}
	defer func() {
		log.Info("stopping sync engine")
		engine.Stop()
	}()

	// Listen for the control processor last: the engine's callbacks
	// must be installed before the first session arrives.
	if err := xsigServer.Start(); err != nil {
		return fmt.Errorf("starting XSIG listener: %w", err)
	}
	defer func() {
		log.Info("closing XSIG listener")
		if closeErr := xsigServer.Close(); closeErr != nil {
			log.Error("error closing XSIG listener", "error", closeErr)
		}
	}()
	log.Info("XSIG listener started", "addr", xsigServer.Addr())

	healthReporter.Start(ctx)
	defer healthReporter.Stop()

	// HTTP API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log.With("component", "api"),
			Store:      store,
			Pusher:     xsigServer,
			Dispatcher: dispatcher,
			Engine:     engine,
			Version:    version,
		}
		if bindingManager != nil {
			deps.Bindings = bindingManager
		}
		apiServer, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses XSIG_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("XSIG_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// startKeypads plans every configured keypad, resolves its LED
// bindings and wires the binding manager into the sync engine's state
// cache and resynchronisation pass.
//
// A keypad that fails planning or binding resolution is rejected
// individually with a warn log; the remaining devices stay in
// service. Returns nil when no keypad survives.
func startKeypads(cfg *config.Config, engine *bridge.Engine, server *xsig.Server, log *logging.Logger) *keypad.BindingManager {
	var bindings []keypad.Binding
	for _, kp := range cfg.Keypads {
		device, err := keypad.PlanDevice(kp)
		if err != nil {
			log.Warn("rejecting keypad", "name", kp.Name, "error", err)
			continue
		}

		deviceBindings, err := keypad.BindingsForDevice(device, kp.LedBindings)
		if err != nil {
			log.Warn("rejecting keypad", "name", kp.Name, "error", err)
			continue
		}

		log.Info("keypad planned",
			"name", device.Name,
			"buttons", len(device.Buttons),
			"load_join", device.LoadJoin,
		)
		bindings = append(bindings, deviceBindings...)
	}
	if len(bindings) == 0 {
		return nil
	}

	manager := keypad.NewBindingManager(server, engine.Cache(), bindings,
		log.With("component", "keypad"))
	manager.Start()
	engine.AddSyncHook(manager.SyncAll)

	return manager
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the sync
// engine's MessageBus interface. The difference is the Subscribe
// handler signature:
//   - Infrastructure mqtt: func(topic string, payload []byte) error
//   - Engine expects: func(topic string, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements bridge.MessageBus.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements bridge.MessageBus.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (engine handlers don't return errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements bridge.MessageBus.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
