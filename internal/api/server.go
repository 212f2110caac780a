package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/sweiot-link/internal/audit"
	"github.com/nerrad567/sweiot-link/internal/auth"
	"github.com/nerrad567/sweiot-link/internal/channel"
	"github.com/nerrad567/sweiot-link/internal/device"
	"github.com/nerrad567/sweiot-link/internal/infrastructure/config"
	"github.com/nerrad567/sweiot-link/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds in-flight requests during Close.
const gracefulShutdownTimeout = 10 * time.Second

// Coordinator is the subset of *channel.Coordinator the API drives.
type Coordinator interface {
	Snapshot() channel.Snapshot
	DeviceList() []device.Device
	Send(text string) error
	SendInitSequence() error
	SwitchChannel(ch channel.Channel) error
	StartScan() error
	StopScan() error
	Connect(id string) error
	Disconnect() error
	FetchRelayDevices() error
	SelectRelayDevice(id string) error
	PollRelay() error
	Device(id string) (device.Device, error)
	CheckOwnership(ctx context.Context, id string) (bool, error)
	SetPublicKey(ctx context.Context) error
	RemovePublicKey() error
	Login(ctx context.Context, user, password string) error
	Logout()
}

// RelayQueue inspects the downlink queue of the selected relay device.
// *relay.Link satisfies it.
type RelayQueue interface {
	DeviceQueue(ctx context.Context) (json.RawMessage, error)
	FlushQueue(ctx context.Context) error
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Coordinator   Coordinator
	Authenticator *auth.Authenticator

	// Optional collaborators.
	AuditRepo    audit.Repository
	RelayQueue   RelayQueue
	HealthChecks map[string]HealthChecker

	Version string
}

// Server is the HTTP API server.
//
// Thread Safety: All methods are safe for concurrent use.
type Server struct {
	cfg       config.APIConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	coord     Coordinator
	authn     *auth.Authenticator
	auditRepo audit.Repository
	queue     RelayQueue
	health    map[string]HealthChecker
	version   string
	startTime time.Time

	hub     *Hub
	tickets *ticketStore
	auditCh chan *audit.Entry

	routerOnce sync.Once
	router     http.Handler

	server *http.Server
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an API server. It is not listening until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if deps.Authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	s := &Server{
		cfg:       deps.Config,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		coord:     deps.Coordinator,
		authn:     deps.Authenticator,
		auditRepo: deps.AuditRepo,
		queue:     deps.RelayQueue,
		health:    deps.HealthChecks,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
		tickets:   newTicketStore(),
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}
	return s, nil
}

// Hub returns the event hub. Register it with the coordinator as a
// listener.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	s.routerOnce.Do(func() {
		s.router = s.buildRouter()
	})
	return s.router
}

// Start launches background workers and the HTTP listener.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.wg.Go(func() { s.hub.Run(srvCtx) })
	s.wg.Go(func() { s.cleanTicketsLoop(srvCtx) })
	if s.auditCh != nil {
		s.wg.Go(func() { s.drainAuditLog(srvCtx) })
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Handler(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", s.server.Addr, "cert", s.cfg.TLS.CertFile)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close shuts the listener down, waiting up to 10 seconds for in-flight
// requests, then stops background workers.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
