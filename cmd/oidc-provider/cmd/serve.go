package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	oidc "github.com/giantswarm/oidc-provider"
	"github.com/giantswarm/oidc-provider/instrumentation"
	"github.com/giantswarm/oidc-provider/security"
	"github.com/giantswarm/oidc-provider/server"
	"github.com/giantswarm/oidc-provider/storage"
	"github.com/giantswarm/oidc-provider/storage/memory"
	"github.com/giantswarm/oidc-provider/storage/valkey"
)

// Storage backends accepted by --storage
const (
	storageMemory = "memory"
	storageValkey = "valkey"
)

const (
	healthPath  = "/healthz"
	metricsPath = "/metrics"
)

// serveOptions is the resolved configuration of the serve command
type serveOptions struct {
	Addr         string
	Issuer       string
	RegistryPath string
	DemoUsers    bool

	SigningKeyPath string
	KeyID          string

	Storage        string
	ValkeyAddr     string
	ValkeyPassword string
	ValkeyDB       int
	ValkeyPrefix   string

	AccessTokenTTL time.Duration
	IDTokenTTL     time.Duration
	SessionTTL     time.Duration
	LoginURL       string

	RateLimit         int
	RateLimitBurst    int
	TrustProxy        bool
	TrustedProxyCount int
	AllowInsecureHTTP bool
	Audit             bool

	Metrics      bool
	LogClientIPs bool

	ShutdownTimeout time.Duration
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		Long: `Run the authorization server.

Every flag can also be set through the environment, e.g. --valkey-addr
as OIDC_VALKEY_ADDR. Values in the registry file may reference environment
variables with ${NAME}.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, loadServeOptions(), slog.Default())
		},
	}

	flags := cmd.Flags()
	flags.String("addr", ":8080", "listen address")
	flags.String("issuer", "", "issuer URL, overrides the issuer of the registry file")
	flags.String("registry", "", "path to the YAML registry of clients and users")
	flags.Bool("demo-users", false, "add the built-in demo accounts (development only)")

	flags.String("signing-key", "", "PEM encoded RSA private key; an ephemeral key is generated when empty")
	flags.String("key-id", "", "kid published for the signing key; derived from the key when empty")

	flags.String("storage", storageMemory, "storage backend for codes and sessions (memory, valkey)")
	flags.String("valkey-addr", "localhost:6379", "Valkey server address")
	flags.String("valkey-password", "", "Valkey password")
	flags.Int("valkey-db", 0, "Valkey database number")
	flags.String("valkey-prefix", valkey.DefaultKeyPrefix, "prefix for Valkey keys")

	flags.Duration("access-token-ttl", server.DefaultAccessTokenTTL, "access token lifetime")
	flags.Duration("id-token-ttl", server.DefaultIDTokenTTL, "ID token lifetime")
	flags.Duration("session-ttl", server.DefaultSessionTTL, "login session lifetime")
	flags.String("login-url", server.DefaultLoginURL, "login page unauthenticated users are sent to")

	flags.Int("rate-limit", 10, "requests per second per client IP, 0 disables rate limiting")
	flags.Int("rate-limit-burst", 20, "rate limit burst size")
	flags.Bool("trust-proxy", false, "trust X-Forwarded-For from reverse proxies")
	flags.Int("trusted-proxy-count", 1, "number of trusted reverse proxies")
	flags.Bool("allow-insecure-http", false, "allow an http:// issuer on a non-loopback host")
	flags.Bool("audit", true, "write security audit events to the log")

	flags.Bool("metrics", false, "record OpenTelemetry metrics and serve them on "+metricsPath)
	flags.Bool("log-client-ips", false, "attach client IP addresses to spans")

	flags.Duration("shutdown-timeout", 30*time.Second, "graceful shutdown timeout")

	_ = viper.BindPFlags(flags)
	return cmd
}

func loadServeOptions() serveOptions {
	return serveOptions{
		Addr:              viper.GetString("addr"),
		Issuer:            viper.GetString("issuer"),
		RegistryPath:      viper.GetString("registry"),
		DemoUsers:         viper.GetBool("demo-users"),
		SigningKeyPath:    viper.GetString("signing-key"),
		KeyID:             viper.GetString("key-id"),
		Storage:           viper.GetString("storage"),
		ValkeyAddr:        viper.GetString("valkey-addr"),
		ValkeyPassword:    viper.GetString("valkey-password"),
		ValkeyDB:          viper.GetInt("valkey-db"),
		ValkeyPrefix:      viper.GetString("valkey-prefix"),
		AccessTokenTTL:    viper.GetDuration("access-token-ttl"),
		IDTokenTTL:        viper.GetDuration("id-token-ttl"),
		SessionTTL:        viper.GetDuration("session-ttl"),
		LoginURL:          viper.GetString("login-url"),
		RateLimit:         viper.GetInt("rate-limit"),
		RateLimitBurst:    viper.GetInt("rate-limit-burst"),
		TrustProxy:        viper.GetBool("trust-proxy"),
		TrustedProxyCount: viper.GetInt("trusted-proxy-count"),
		AllowInsecureHTTP: viper.GetBool("allow-insecure-http"),
		Audit:             viper.GetBool("audit"),
		Metrics:           viper.GetBool("metrics"),
		LogClientIPs:      viper.GetBool("log-client-ips"),
		ShutdownTimeout:   viper.GetDuration("shutdown-timeout"),
	}
}

// provider is a fully wired server with everything that must be released
// on shutdown.
type provider struct {
	handler http.Handler
	server  *server.Server
	closers []func(context.Context) error
}

func (p *provider) close(ctx context.Context) {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](ctx); err != nil {
			slog.Warn("Shutdown step failed", "error", err)
		}
	}
}

type codeSessionStore interface {
	storage.CodeStore
	storage.SessionStore
	SetInstrumentation(inst *instrumentation.Instrumentation)
}

func buildProvider(opts serveOptions, logger *slog.Logger) (_ *provider, err error) {
	p := &provider{}
	defer func() {
		if err != nil {
			p.close(context.Background())
		}
	}()

	registryFile := &oidc.RegistryFile{}
	if opts.RegistryPath != "" {
		registryFile, err = oidc.LoadRegistryFile(opts.RegistryPath)
		if err != nil {
			return nil, err
		}
	} else if !opts.DemoUsers {
		return nil, errors.New("a registry file is required, set --registry")
	}

	var extra []memory.UserRecord
	if opts.DemoUsers {
		logger.Warn("Demo users enabled, do not use in production")
		extra = memory.DemoUsers()
	}
	registry, err := registryFile.Registry(extra...)
	if err != nil {
		return nil, err
	}

	issuer := opts.Issuer
	if issuer == "" {
		issuer = registryFile.Issuer
	}
	if issuer == "" {
		return nil, errors.New("issuer is required, set --issuer or issuer in the registry file")
	}

	var keys *server.KeySet
	if opts.SigningKeyPath != "" {
		pemBytes, err := os.ReadFile(opts.SigningKeyPath) //nolint:gosec // path comes from operator configuration
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		if keys, err = server.LoadKeySetPEM(pemBytes, opts.KeyID); err != nil {
			return nil, err
		}
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:     "oidc-provider",
		ServiceVersion:  Version,
		Enabled:         opts.Metrics,
		MetricsExporter: metricsExporter(opts.Metrics),
		LogClientIPs:    opts.LogClientIPs,
	})
	if err != nil {
		return nil, fmt.Errorf("init instrumentation: %w", err)
	}
	p.closers = append(p.closers, inst.Shutdown)

	store, err := openStore(opts, logger, p)
	if err != nil {
		return nil, err
	}

	srv, err := server.New(registry, registry, store, store, &server.Config{
		Issuer:               issuer,
		AccessTokenTTL:       opts.AccessTokenTTL,
		IDTokenTTL:           opts.IDTokenTTL,
		SessionTTL:           opts.SessionTTL,
		LoginURL:             opts.LoginURL,
		AllowInsecureHTTP:    opts.AllowInsecureHTTP,
		TrustProxy:           opts.TrustProxy,
		TrustedProxyCount:    opts.TrustedProxyCount,
		Keys:                 keys,
	}, logger)
	if err != nil {
		return nil, err
	}
	store.SetInstrumentation(inst)
	srv.SetAuditor(security.NewAuditor(logger, opts.Audit))
	srv.SetInstrumentation(inst)

	if opts.RateLimit > 0 {
		rl := security.NewRateLimiter(opts.RateLimit, opts.RateLimitBurst, logger)
		srv.SetRateLimiter(rl)
		p.closers = append(p.closers, func(context.Context) error {
			rl.Stop()
			return nil
		})
	}

	handler := oidc.NewHandler(srv, logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.HandleFunc(healthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if opts.Metrics {
		mux.Handle(metricsPath, promhttp.Handler())
	}

	p.server = srv
	p.handler = security.RequestIDMiddleware(mux)
	return p, nil
}

func metricsExporter(enabled bool) string {
	if enabled {
		return instrumentation.MetricsExporterPrometheus
	}
	return instrumentation.MetricsExporterNone
}

func openStore(opts serveOptions, logger *slog.Logger, p *provider) (codeSessionStore, error) {
	switch opts.Storage {
	case storageMemory, "":
		store := memory.New()
		store.SetLogger(logger)
		p.closers = append(p.closers, func(context.Context) error {
			store.Stop()
			return nil
		})
		return store, nil
	case storageValkey:
		store, err := valkey.New(valkey.Config{
			Address:   opts.ValkeyAddr,
			Password:  opts.ValkeyPassword,
			DB:        opts.ValkeyDB,
			KeyPrefix: opts.ValkeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, func(context.Context) error {
			store.Close()
			return nil
		})
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Storage)
	}
}

func runServe(ctx context.Context, opts serveOptions, logger *slog.Logger) error {
	p, err := buildProvider(opts, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		p.close(shutdownCtx)
	}()

	httpServer := &http.Server{
		Addr:              opts.Addr,
		Handler:           p.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting OIDC provider",
			"addr", opts.Addr,
			"issuer", p.server.Config.Issuer,
			"storage", opts.Storage,
			"kid", p.server.Config.Keys.KeyID())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
