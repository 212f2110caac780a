// SweIoT Link - device communication and channel engine
//
// This is the main entry point of the SweIoT Link service. It talks to
// SweIoT sensor devices over two interchangeable channels:
//   - Local: Bluetooth LE, direct to the device
//   - Relay: LoRa through the Yggio IoT platform
//
// Commands for secured devices are signed through the SweIoT management
// server. Operators drive the link from the REST/WebSocket API, MQTT or
// the interactive console.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/sweiot-link/migrations"

	"github.com/nerrad567/sweiot-link/internal/api"
	"github.com/nerrad567/sweiot-link/internal/audit"
	"github.com/nerrad567/sweiot-link/internal/auth"
	"github.com/nerrad567/sweiot-link/internal/bridges/ble"
	"github.com/nerrad567/sweiot-link/internal/bridges/mqttbridge"
	"github.com/nerrad567/sweiot-link/internal/bridges/relay"
	"github.com/nerrad567/sweiot-link/internal/channel"
	"github.com/nerrad567/sweiot-link/internal/console"
	"github.com/nerrad567/sweiot-link/internal/device"
	"github.com/nerrad567/sweiot-link/internal/infrastructure/config"
	"github.com/nerrad567/sweiot-link/internal/infrastructure/database"
	"github.com/nerrad567/sweiot-link/internal/infrastructure/influxdb"
	"github.com/nerrad567/sweiot-link/internal/infrastructure/logging"
	"github.com/nerrad567/sweiot-link/internal/infrastructure/mqtt"
	"github.com/nerrad567/sweiot-link/internal/security"
	"github.com/nerrad567/sweiot-link/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	hashPassword := flag.Bool("hash-password", false, "read a password from stdin and print its Argon2id hash for security.operators")
	flag.Parse()

	if *hashPassword {
		if err := printPasswordHash(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// printPasswordHash reads one line from r and writes its PHC hash to w.
func printPasswordHash(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		return errors.New("no password given")
	}
	password := strings.TrimRight(scanner.Text(), "\r")
	if password == "" {
		return errors.New("password must not be empty")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear wiring of optional components
	log := logging.Default()
	log.Info("starting SweIoT Link",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// The console owns the terminal; quitting it stops the process.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, log.Component("audit"))

	healthChecks := map[string]api.HealthChecker{"database": db}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		healthChecks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		healthChecks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, healthChecks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	coord, relayLink, err := buildCoordinator(cfg, log)
	if err != nil {
		return err
	}
	if relayLink != nil {
		defer relayLink.Close()
	}

	coord.AddListener(recorder)
	if influxClient != nil {
		coord.AddListener(telemetry.NewSink(influxClient, log.Component("telemetry")))
	}

	if mqttClient != nil {
		bridge, bridgeErr := mqttbridge.New(mqttbridge.Options{
			Client:      mqttClient,
			Coordinator: coord,
			Topics:      mqttClient.Topics(),
			Auditor:     recorder,
			QoS:         byte(cfg.MQTT.QoS),
			Logger:      log.Component("mqttbridge"),
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
		}
		if startErr := bridge.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			if stopErr := bridge.Stop(); stopErr != nil {
				log.Warn("error stopping MQTT bridge", "error", stopErr)
			}
		}()
		coord.AddListener(bridge)
	}

	authenticator, err := auth.NewAuthenticator(cfg.Security.Operators)
	if err != nil {
		return fmt.Errorf("loading operators: %w", err)
	}
	if authenticator.Len() == 0 {
		log.Warn("no API operators configured; every login will be rejected")
	}

	var relayQueue api.RelayQueue
	if relayLink != nil {
		relayQueue = relayLink
	}
	server, err := api.New(api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Security:      cfg.Security,
		Logger:        log.Component("api"),
		Coordinator:   coord,
		Authenticator: authenticator,
		AuditRepo:     auditRepo,
		RelayQueue:    relayQueue,
		HealthChecks:  healthChecks,
		Version:       version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	coord.AddListener(server.Hub())

	var con *console.Console
	if cfg.Console.Enabled {
		con, err = console.New(coord, console.Options{
			Prompt:      cfg.Console.Prompt,
			HistoryFile: cfg.Console.HistoryFile,
			Auditor:     recorder,
		})
		if err != nil {
			return fmt.Errorf("creating console: %w", err)
		}
		coord.AddListener(con)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Run(gctx) })

	if err := server.Start(gctx); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if cfg.Management.Username != "" && cfg.Management.Password != "" {
		g.Go(func() error {
			if loginErr := coord.Login(gctx, cfg.Management.Username, cfg.Management.Password); loginErr != nil {
				log.Warn("management server login failed", "user", cfg.Management.Username, "error", loginErr)
			}
			return nil
		})
	}

	if con != nil {
		g.Go(func() error {
			con.Run(gctx, cancel)
			return nil
		})
	}

	log.Info("initialisation complete",
		"channel", cfg.Channel.Default,
		"local", cfg.Local.Enabled,
		"relay", cfg.Relay.Enabled,
		"require_secure", cfg.Security.RequireSecure,
	)

	err = g.Wait()
	log.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("SweIoT Link stopped")
	return nil
}

// buildCoordinator wires the links, the signer and the management client
// into a coordinator. The returned relay link is nil when the relay is
// disabled.
func buildCoordinator(cfg *config.Config, log *logging.Logger) (*channel.Coordinator, *relay.Link, error) {
	defaultChannel, err := channel.ParseChannel(cfg.Channel.Default)
	if err != nil {
		return nil, nil, err
	}

	mgmt := security.NewClient(cfg.Management)
	opts := channel.Options{
		Signer:         security.NewSigner(mgmt, cfg.Security.RequireSecure),
		Auth:           mgmt,
		DefaultChannel: defaultChannel,
		InitDelay:      cfg.GetInitDelay(),
		InitInterval:   cfg.GetInitInterval(),
		Logger:         log.Component("channel"),
	}

	if cfg.Local.Enabled {
		localDevices := device.NewRegistry()
		localDevices.SetLogger(log.Component("devices").With("channel", "local"))
		localLink := ble.NewLink(ble.NewBluetoothAdapter(), ble.Options{
			ScanTimeout: cfg.GetScanTimeout(),
			Registry:    localDevices,
			Logger:      log.Component("ble"),
		})
		if err := localLink.Enable(); err != nil {
			return nil, nil, fmt.Errorf("enabling bluetooth adapter: %w", err)
		}
		opts.Local = localLink
		opts.LocalDevices = localDevices
	}

	// The relay link reports back into the coordinator, which does not
	// exist yet. Polling starts only after a select through coord.
	var coord *channel.Coordinator
	var relayLink *relay.Link
	if cfg.Relay.Enabled {
		relayDevices := device.NewRegistry()
		relayDevices.SetLogger(log.Component("devices").With("channel", "relay"))
		relayLink = relay.NewLink(relay.LinkOptions{
			Client:       relay.NewClient(cfg.Relay),
			Registry:     relayDevices,
			PollInterval: cfg.GetPollInterval(),
			Active:       func() bool { return coord.RelayActive() },
			OnFrame:      func(id, frame string) { coord.HandleRelayFrame(id, frame) },
			OnStatus:     func(status string, err error) { coord.HandleRelayStatus(status, err) },
			Logger:       log.Component("relay"),
		})
		opts.Relay = relayLink
		opts.RelayDevices = relayLink.Registry()
	}

	coord, err = channel.New(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("creating channel coordinator: %w", err)
	}
	return coord, relayLink, nil
}

// getConfigPath returns SWEIOT_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("SWEIOT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every infrastructure connection, in name order.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := checks[name].HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
