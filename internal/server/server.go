package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"rdpgate/internal/auth"
	"rdpgate/internal/backend"
	"rdpgate/internal/bridge"
	"rdpgate/internal/config"
	"rdpgate/internal/constants"
	"rdpgate/internal/link"
	"rdpgate/internal/security"
	"rdpgate/internal/session"
)

type Server struct {
	cfg          *config.Config
	Registry     *session.Registry
	Resolver     *backend.Resolver
	ConnLimiter  *security.ConnectionLimiter
	AuthThrottle *security.AuthThrottle
	AuditLogger  *security.AuditLogger
	Origins      *security.OriginPolicy

	bridgeConfig bridge.Config
	startTime    time.Time

	mu      sync.Mutex
	bridges map[*bridge.Bridge]struct{}
}

func NewServer(cfg *config.Config) (*Server, error) {
	signer, err := auth.NewSigner([]byte(cfg.TokenSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	resolver, err := backend.NewResolver(cfg.Backend, link.Options{
		E2EE:        cfg.AgentE2EE,
		DialTimeout: cfg.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize backend: %w", err)
	}

	var auditLogger *security.AuditLogger
	if cfg.Audit {
		auditLogger, err = security.NewAuditLogger(cfg.AuditDir)
		if err != nil {
			log.Printf("⚠️  Failed to initialize audit logger: %v", err)
		}
	}

	if len(cfg.TrustedProxies) > 0 {
		if err := security.SetTrustedProxies(cfg.TrustedProxies); err != nil {
			return nil, err
		}
	}

	store := session.NewStore(session.RedisOptions{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	}, 2*cfg.IdleTimeout)
	registry := session.NewRegistry(cfg.MaxSessions, cfg.IdleTimeout, store)
	throttle := security.NewAuthThrottle(cfg.MaxAuthFailures, cfg.AuthBlockDuration)

	s := &Server{
		cfg:          cfg,
		Registry:     registry,
		Resolver:     resolver,
		ConnLimiter:  security.NewConnectionLimiter(cfg.MaxConnectionsPerIP),
		AuthThrottle: throttle,
		AuditLogger:  auditLogger,
		Origins:      security.NewOriginPolicy(cfg.AllowedOrigins),
		startTime:    time.Now(),
		bridges:      make(map[*bridge.Bridge]struct{}),
	}
	s.bridgeConfig = bridge.Config{
		Verifier:       signer,
		Registry:       registry,
		Resolver:       resolver,
		ConnectTimeout: cfg.ConnectTimeout,
		Audit:          auditLogger,
		Throttle:       throttle,
		SessionLogDir:  cfg.SessionLogDir,
	}
	return s, nil
}

// Handler returns the full middleware chain around the gateway routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(constants.EndpointWebSocket, s.HandleWebSocket)
	mux.HandleFunc(constants.EndpointWSAlias, s.HandleWebSocket)
	mux.HandleFunc(constants.EndpointHealth, s.HandleHealth)
	mux.HandleFunc(constants.EndpointStats, s.HandleStats)

	var handler http.Handler = mux
	handler = RecoveryMiddleware(handler)
	handler = CorsMiddleware(s.Origins)(handler)
	handler = security.SecurityHeaders(handler)
	handler = GzipMiddleware(handler)
	return handler
}

// Run serves until SIGINT or SIGTERM.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve listens on the configured address until ctx is done, then drains
// every session.
func (s *Server) Serve(ctx context.Context) error {
	handler := s.Handler()
	if !s.cfg.TLSEnabled() {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	server := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           handler,
		IdleTimeout:       constants.ServerIdleTimeout,
		ReadHeaderTimeout: constants.ReadHeaderTimeout,
		MaxHeaderBytes:    constants.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	if s.cfg.TLSEnabled() {
		if _, err := os.Stat(s.cfg.TLSCert); err != nil {
			return fmt.Errorf("tls certificate: %w", err)
		}
		server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		log.Printf("🔒 HTTPS enabled (HTTP/2)")
		go func() { errCh <- server.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey) }()
	} else {
		log.Printf("🌐 HTTP mode (HTTP/2 enabled)")
		go func() { errCh <- server.ListenAndServe() }()
	}

	go s.sweepLoop(ctx)

	log.Printf("🚀 %s %s listening on %s (backend: %s, max sessions: %d)",
		constants.AppName, constants.Version, s.cfg.Addr(), s.Resolver.Name(), s.cfg.MaxSessions)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Cleanup()
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Println("🛑 Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	s.Cleanup()
	log.Println("✅ Server stopped")
	return nil
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if evicted := s.Registry.Sweep(now); len(evicted) > 0 {
				log.Printf("⏱  Evicted %d idle session(s)", len(evicted))
			}
		}
	}
}

// Cleanup closes every live connection and session, then the stores.
func (s *Server) Cleanup() {
	s.mu.Lock()
	bridges := make([]*bridge.Bridge, 0, len(s.bridges))
	for b := range s.bridges {
		bridges = append(bridges, b)
	}
	s.mu.Unlock()

	for _, b := range bridges {
		b.Shutdown()
	}
	s.Registry.CloseAll()

	if err := s.Registry.Store().Close(); err != nil {
		log.Printf("⚠️  Session store close: %v", err)
	}
	s.AuthThrottle.Close()
	if err := s.AuditLogger.Close(); err != nil {
		log.Printf("⚠️  Audit log close: %v", err)
	}
}

func (s *Server) track(b *bridge.Bridge) {
	s.mu.Lock()
	s.bridges[b] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(b *bridge.Bridge) {
	s.mu.Lock()
	delete(s.bridges, b)
	s.mu.Unlock()
}
