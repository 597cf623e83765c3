package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oidc-provider/instrumentation"
	"github.com/giantswarm/oidc-provider/security"
	"github.com/giantswarm/oidc-provider/storage"
)

// maxCodeAttempts bounds retries when a freshly generated code collides
const maxCodeAttempts = 3

// Server implements the authorization server protocol logic.
// It coordinates request validation, code issuance, token exchange and
// login sessions using the storage collaborators.
type Server struct {
	clients  storage.ClientRegistry
	users    storage.UserStore
	codes    storage.CodeStore
	sessions storage.SessionStore

	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter // IP-based rate limiter
	Logger          *slog.Logger
	Config          *Config
	Instrumentation *instrumentation.Instrumentation
	Tokens          *TokenIssuer

	tracer trace.Tracer
	now    func() time.Time
}

// New creates a new authorization server. When config.Keys is nil a fresh
// 2048-bit RSA signing key is generated.
func New(
	clients storage.ClientRegistry,
	users storage.UserStore,
	codes storage.CodeStore,
	sessions storage.SessionStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("client registry is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if codes == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)
	if err := config.validate(logger); err != nil {
		return nil, err
	}

	if config.Keys == nil {
		keys, err := GenerateKeySet(DefaultKeyBits, "")
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		config.Keys = keys
		logger.Info("Generated ephemeral signing key", "kid", keys.KeyID())
	}

	srv := &Server{
		clients:  clients,
		users:    users,
		codes:    codes,
		sessions: sessions,
		Config:   config,
		Logger:   logger,
		now:      time.Now,
	}
	srv.Tokens = NewTokenIssuer(config.Keys, config.Issuer, config.AccessTokenTTL, config.IDTokenTTL, config.ClockSkew)

	return srv, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
	s.wireAuditMetrics()
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetInstrumentation enables metrics and tracing for the server
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("server")
	}
	s.wireAuditMetrics()
}

// SetClock replaces the time source. It is intended for tests.
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
	s.Tokens.now = now
}

// Clients returns the client registry
func (s *Server) Clients() storage.ClientRegistry {
	return s.clients
}

func (s *Server) wireAuditMetrics() {
	if s.Auditor == nil || s.Instrumentation == nil {
		return
	}
	metrics := s.Instrumentation.Metrics()
	s.Auditor.OnEvent(func(eventType string) {
		metrics.RecordAuditEvent(context.Background(), eventType)
	})
}

// metrics returns the metric holder or nil when instrumentation is disabled
func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, tracenoop.Span{}
	}
	ctx, span := s.tracer.Start(ctx, name)
	if s.Instrumentation.ShouldLogClientIPs() {
		instrumentation.AddSecurityAttributes(span, security.ClientIPFromContext(ctx))
	}
	return ctx, span
}

// audit fills the request-scoped fields of event and hands it to the auditor
func (s *Server) audit(ctx context.Context, event security.Event) {
	if s.Auditor == nil {
		return
	}
	if event.IPAddress == "" {
		event.IPAddress = security.ClientIPFromContext(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = security.GetRequestID(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	s.Auditor.LogEvent(event)
}

// generateRandomToken returns a URL-safe string carrying 256 bits of entropy.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
