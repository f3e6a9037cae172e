package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/ferg-cod3s/tableside/kiosk/internal/auth"
	"github.com/ferg-cod3s/tableside/kiosk/internal/backend"
	"github.com/ferg-cod3s/tableside/kiosk/internal/channel"
	"github.com/ferg-cod3s/tableside/kiosk/internal/clock"
	"github.com/ferg-cod3s/tableside/kiosk/internal/config"
	"github.com/ferg-cod3s/tableside/kiosk/internal/events"
	"github.com/ferg-cod3s/tableside/kiosk/internal/guard"
	"github.com/ferg-cod3s/tableside/kiosk/internal/logs"
	"github.com/ferg-cod3s/tableside/kiosk/internal/middleware"
	"github.com/ferg-cod3s/tableside/kiosk/internal/push"
	"github.com/ferg-cod3s/tableside/kiosk/internal/session"
	"github.com/ferg-cod3s/tableside/kiosk/internal/store"
	"github.com/ferg-cod3s/tableside/kiosk/pkg/types"
)

// Options overrides collaborators normally built from the configuration
type Options struct {
	Store      store.Store
	Clock      clock.Clock
	HTTPClient *http.Client
}

// Server is the kiosk process: it owns the session manager, the push
// channel and every component wired between them.
type Server struct {
	config     *config.Config
	logger     zerolog.Logger
	httpServer *http.Server
	startTime  time.Time

	store       store.Store
	backend     *backend.Client
	sessions    *session.Manager
	channel     *channel.Client
	coordinator *session.Coordinator
	guard       *guard.Guard
	broadcaster *events.EventBroadcaster
	staff       *auth.StaffAuth
	logService  *logs.LogService
	rateLimiter *middleware.RateLimiter
	menu        *menuCache

	pushService *push.Service
	pushHandler *push.PushHandler

	mu       sync.Mutex
	started  bool
	stopped  bool
	cancels  []func()
	shutdown sync.Once
}

// New builds a server from cfg. Nothing connects until Start.
func New(cfg *config.Config, opts Options) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	st := opts.Store
	if st == nil {
		var err error
		if st, err = OpenStore(cfg, clk); err != nil {
			return nil, err
		}
	}

	backendClient := backend.New(backend.Options{
		BaseURL:        cfg.BackendURL,
		Timeout:        cfg.BackendTimeout,
		CreateAttempts: uint(cfg.CreateSessionAttempts),
		HTTPClient:     opts.HTTPClient,
		Logger:         logs.Component("backend"),
	})

	sessions := session.NewManager(session.Options{
		Store:           st,
		Validator:       backendClient,
		Clock:           clk,
		ValidateTimeout: cfg.BackendTimeout,
		Logger:          logs.Component("session"),
	})

	channelClient := channel.NewClient(channel.Options{
		URL:              cfg.ChannelURL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		PingInterval:     cfg.PingInterval,
		Backoff: channel.BackoffPolicy{
			BaseDelay:   cfg.ReconnectBaseDelay,
			MaxFactor:   channel.DefaultBackoff().MaxFactor,
			MaxAttempts: cfg.MaxReconnectAttempts,
		},
		Clock:  clk,
		Logger: logs.Component("channel"),
	})

	s := &Server{
		config:      cfg,
		logger:      logs.Component("server"),
		startTime:   time.Now(),
		store:       st,
		backend:     backendClient,
		sessions:    sessions,
		channel:     channelClient,
		coordinator: session.NewCoordinator(sessions, channelClient, logs.Component("coordinator")),
		guard: guard.New(sessions, guard.Options{
			Interval:        cfg.RevalidateInterval,
			ValidateTimeout: cfg.BackendTimeout,
			Clock:           clk,
			Logger:          logs.Component("guard"),
		}),
		broadcaster: events.NewEventBroadcaster(logs.Component("events")),
		staff:       auth.NewStaffAuth(cfg.StaffPINHash),
		logService:  logs.NewLogService(logs.Component("client")),
		menu:        newMenuCache(),
	}

	if cfg.EnablePush {
		if err := s.setupPush(); err != nil {
			return nil, err
		}
	}

	s.setupRoutes()
	return s, nil
}

// OpenStore builds the session store selected by cfg
func OpenStore(cfg *config.Config, clk clock.Clock) (store.Store, error) {
	codec, err := auth.NewSessionCodec(cfg.CookieSecret, cfg.SessionRetention, clk)
	if err != nil {
		return nil, err
	}

	switch cfg.StoreBackend {
	case config.StoreRedis:
		return store.NewRedisStoreFromConfig(store.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, codec, cfg.SessionRetention)
	case config.StoreMemory:
		return store.NewMemoryStore(codec, cfg.SessionRetention, clk), nil
	default:
		return store.NewCookieStore(cfg.StorePath, codec, cfg.SessionRetention, clk)
	}
}

func (s *Server) setupPush() error {
	keyManager := push.NewVAPIDKeyManager(s.config.VAPIDKeyPath)
	keys, err := keyManager.GetOrGenerateKeys()
	if err != nil {
		return fmt.Errorf("failed to load VAPID keys: %w", err)
	}

	subscriptions := push.NewInMemorySubscriptionStore()
	serviceConfig := push.DefaultServiceConfig()
	serviceConfig.Subject = s.config.VAPIDSubject

	service, err := push.NewService(keys, subscriptions, serviceConfig, logs.Component("push"))
	if err != nil {
		return err
	}

	s.pushService = service
	s.pushHandler = push.NewPushHandler(
		service,
		keyManager,
		subscriptions,
		s.currentSession,
		logs.Component("push"),
	)
	return nil
}

// currentSession reports the held session for push subscriptions
func (s *Server) currentSession() (string, int, bool) {
	snap := s.sessions.Snapshot()
	if !snap.HasValidSession {
		return "", 0, false
	}
	return snap.SessionID, snap.Session.TableID, true
}

func (s *Server) setupRoutes() {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/scan/{token}", s.handleScan).Methods("GET")
	r.HandleFunc(guard.DefaultRedirect, s.handleSessionRequired).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/channel/reconnect", s.handleReconnect).Methods("POST")
	api.HandleFunc("/staff/reset", s.handleStaffReset).Methods("POST")

	s.logService.RegisterRoutes(r)
	if s.pushHandler != nil {
		s.pushHandler.RegisterRoutes(r)
	}

	// Everything below requires a table session
	protected := r.NewRoute().Subrouter()
	protected.Use(s.guard.Middleware)
	protected.HandleFunc("/", s.handleMenuPage).Methods("GET")
	protected.HandleFunc("/api/session", s.handleGetSession).Methods("GET")
	protected.HandleFunc("/api/session", s.handleEndSession).Methods("DELETE")
	protected.HandleFunc("/api/session/validate", s.handleValidateSession).Methods("POST")
	protected.HandleFunc("/api/menu", s.handleMenu).Methods("GET")
	protected.HandleFunc("/api/table", s.handleTable).Methods("GET")
	protected.HandleFunc("/api/orders", s.handleListOrders).Methods("GET")
	protected.HandleFunc("/api/orders", s.handleCreateOrder).Methods("POST")
	protected.HandleFunc("/api/notifications", s.handleNotifications).Methods("GET")
	protected.HandleFunc("/api/notifications", s.handleClearNotifications).Methods("DELETE")
	protected.HandleFunc("/api/staff-message", s.handleStaffMessage).Methods("POST")
	protected.HandleFunc("/api/events", s.broadcaster.HandleSSE).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Accept", "X-Requested-With", middleware.RequestIDHeader},
		AllowCredentials: true,
	})

	// Build middleware chain, innermost first
	var handler http.Handler = r
	handler = c.Handler(handler)
	handler = middleware.Compression()(handler)
	handler = middleware.SecurityHeaders()(handler)
	if s.config.EnableRateLimit {
		s.rateLimiter = middleware.NewRateLimiter(s.config.RateLimitPerMin, time.Minute)
		handler = s.rateLimiter.Middleware(handler)
	}
	if s.config.EnableRequestLog {
		handler = middleware.RequestLogger(logs.Component("http"))(handler)
	}

	s.httpServer = &http.Server{
		Addr:        s.config.Addr(),
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays zero so event streams are not cut off
		IdleTimeout: 60 * time.Second,
	}
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Sessions returns the session manager
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Channel returns the push channel client
func (s *Server) Channel() *channel.Client {
	return s.channel
}

// Start loads the stored session, connects the push channel and serves HTTP
// until Shutdown.
func (s *Server) Start() error {
	s.boot()

	s.logger.Info().
		Str("addr", s.httpServer.Addr).
		Str("backend", s.config.BackendURL).
		Str("channel", s.config.ChannelURL).
		Str("store", s.config.StoreBackend).
		Bool("push", s.pushService != nil).
		Msg("🚀 Kiosk server starting")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// boot starts every background component. It runs once.
func (s *Server) boot() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.broadcaster.Start()
	cancels := []func(){s.broadcaster.Forward(s.channel, s.sessions)}
	if s.pushService != nil {
		cancels = append(cancels, s.pushService.Forward(s.channel))
	}

	// Coordinator first so a session loaded below is joined on connect
	s.coordinator.Start()
	s.sessions.Initialize()
	s.channel.Start()

	s.mu.Lock()
	s.cancels = cancels
	s.mu.Unlock()

	s.broadcaster.Broadcast(types.NewServerEvent(types.EventConnected).
		WithMessage(s.config.ServerName + " started").
		WithValid(s.sessions.HasValidSession()))
}

// Shutdown stops serving and tears down every component
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdown.Do(func() {
		s.mu.Lock()
		s.stopped = true
		cancels := s.cancels
		s.cancels = nil
		s.mu.Unlock()

		s.broadcaster.Broadcast(types.NewServerEvent(types.EventServerShutdown).
			WithMessage(s.config.ServerName + " shutting down"))

		// Event streams end with the broadcaster, so stop it before
		// waiting on open connections
		s.broadcaster.Stop()
		err = s.httpServer.Shutdown(ctx)

		for _, cancel := range cancels {
			cancel()
		}
		s.guard.Close()
		s.coordinator.Stop()
		if s.pushService != nil {
			s.pushService.Close()
		}
		s.channel.Close()
		s.sessions.Close()
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		if cerr := s.store.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("⚠️ Failed to close session store")
		}
		s.logger.Info().Msg("👋 Kiosk server stopped")
	})
	return err
}
