// Package main is the entry point for the RedZ request gate.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GandRedZ/RedZ/internal/auth"
	"github.com/GandRedZ/RedZ/internal/auth/token"
	"github.com/GandRedZ/RedZ/internal/config"
	"github.com/GandRedZ/RedZ/internal/gate"
	"github.com/GandRedZ/RedZ/internal/observability"
	"github.com/GandRedZ/RedZ/internal/ratelimit"
	"github.com/GandRedZ/RedZ/internal/store"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool

	mintSubject     string
	mintEmail       string
	mintRole        string
	mintDepartment  string
	mintPermissions string
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)
	app := initApplication(cfg, logger)

	if flags.mintSubject != "" {
		mintTokens(app.tokens, flags, logger)
		return
	}

	runGate(app, cfg, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("REDZ_CONFIG_PATH", "configs/gate.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("REDZ_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("REDZ_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")

	mintSubject := flag.String("mint", "", "Mint tokens for the given subject and exit")
	mintEmail := flag.String("mint-email", "", "Email claim for minted tokens")
	mintRole := flag.String("mint-role", "user", "Role claim for minted tokens")
	mintDepartment := flag.String("mint-department", "", "Department claim for minted tokens")
	mintPermissions := flag.String("mint-permissions", "", "Comma-separated custom permissions for minted tokens")
	flag.Parse()

	return cliFlags{
		configPath:      *configPath,
		logLevel:        *logLevel,
		logFormat:       *logFormat,
		showVersion:     *showVersion,
		mintSubject:     *mintSubject,
		mintEmail:       *mintEmail,
		mintRole:        *mintRole,
		mintDepartment:  *mintDepartment,
		mintPermissions: *mintPermissions,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("redz version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.GateConfig {
	logger.Info("starting redz gate",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	if err := config.ValidateConfig(cfg); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.Int("routes", len(cfg.Gate.Routes)),
	)

	return cfg
}

// application holds all application components.
type application struct {
	store        store.Store
	tokens       *token.Service
	tokenMetrics *token.Metrics
	limiter      ratelimit.Limiter
	gate         *gate.Gate
}

// initApplication wires the components together. A missing signing
// key is fatal; an unreachable Redis is only a warning, because every
// store consumer degrades gracefully.
func initApplication(cfg *config.GateConfig, logger observability.Logger) *application {
	keys, err := token.LoadKeys(token.KeyConfig{
		Algorithm:      cfg.Token.Algorithm,
		SecretEnv:      cfg.Token.SecretEnv,
		Secret:         cfg.Token.Secret,
		PrivateKeyFile: cfg.Token.PrivateKeyFile,
		PublicKeyFile:  cfg.Token.PublicKeyFile,
	})
	if err != nil {
		logger.Fatal("failed to load signing keys", observability.Error(err))
	}

	st := openStore(cfg, logger)

	tokenMetrics := token.NewMetrics("redz")
	tokens := token.NewService(
		token.Config{
			Issuer:     cfg.Token.Issuer,
			Audience:   cfg.Token.Audience,
			AccessTTL:  cfg.Token.AccessTTL.Duration(),
			RefreshTTL: cfg.Token.RefreshTTL.Duration(),
			ClockSkew:  cfg.Token.ClockSkew.Duration(),
		},
		keys,
		token.WithStore(st),
		token.WithLogger(logger),
		token.WithMetrics(tokenMetrics),
	)

	limiter := ratelimit.NewSlidingWindowLimiter(st, ratelimit.WithLogger(logger))

	g := gate.New(tokens, limiter, gate.RulesFromConfig(cfg.Gate),
		gate.WithGateLogger(logger),
	)

	return &application{
		store:        st,
		tokens:       tokens,
		tokenMetrics: tokenMetrics,
		limiter:      limiter,
		gate:         g,
	}
}

// openStore connects to Redis. Connection failure is not fatal: the
// limiter fails open and revocation checks are skipped until the
// store comes back.
func openStore(cfg *config.GateConfig, logger observability.Logger) store.Store {
	storeCfg := store.DefaultRedisConfig()
	storeCfg.Address = cfg.Redis.Address
	storeCfg.Password = cfg.Redis.Password
	storeCfg.DB = cfg.Redis.DB
	if cfg.Redis.Prefix != "" {
		storeCfg.Prefix = cfg.Redis.Prefix
	}
	if cfg.Redis.PoolSize > 0 {
		storeCfg.PoolSize = cfg.Redis.PoolSize
	}
	if d := cfg.Redis.DialTimeout.Duration(); d > 0 {
		storeCfg.DialTimeout = d
	}
	if d := cfg.Redis.ReadTimeout.Duration(); d > 0 {
		storeCfg.ReadTimeout = d
	}
	if d := cfg.Redis.WriteTimeout.Duration(); d > 0 {
		storeCfg.WriteTimeout = d
	}
	storeCfg.ConnectionRetries = 2

	st, err := store.NewRedisStore(storeCfg)
	if err != nil {
		logger.Warn("redis unreachable, continuing degraded",
			observability.String("address", cfg.Redis.Address),
			observability.Error(err),
		)
		return store.NewLazyRedisStore(storeCfg)
	}
	return st
}

// mintTokens prints a fresh access and refresh token pair for the
// given subject.
func mintTokens(tokens *token.Service, flags cliFlags, logger observability.Logger) {
	ctx := context.Background()

	var perms []string
	if flags.mintPermissions != "" {
		for _, p := range strings.Split(flags.mintPermissions, ",") {
			if p = strings.TrimSpace(p); p != "" {
				perms = append(perms, p)
			}
		}
	}

	access, accessClaims, err := tokens.IssueAccessToken(ctx, token.IssueRequest{
		Subject:     flags.mintSubject,
		Email:       flags.mintEmail,
		Role:        flags.mintRole,
		Department:  flags.mintDepartment,
		Permissions: perms,
	})
	if err != nil {
		logger.Fatal("failed to mint access token", observability.Error(err))
	}

	refresh, _, err := tokens.IssueRefreshToken(ctx, flags.mintSubject)
	if err != nil {
		logger.Fatal("failed to mint refresh token", observability.Error(err))
	}

	fmt.Printf("access token (expires %s):\n%s\n\n", accessClaims.ExpiresAt.Time.UTC().Format(time.RFC3339), access)
	fmt.Printf("refresh token:\n%s\n", refresh)
}

// runGate starts the HTTP server and blocks until shutdown.
func runGate(app *application, cfg *config.GateConfig, configPath string, logger observability.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", app.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(
		prometheus.Gatherers{prometheus.DefaultGatherer, app.tokenMetrics.Registry()},
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/v1/whoami", handleWhoami)
	mux.HandleFunc("/v1/admin/ratelimit/reset", app.handleRateLimitReset)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      app.gate.Middleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:  cfg.Server.IdleTimeout.Duration(),
	}

	watcher := startConfigWatcher(ctx, app, configPath, logger)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("gate listening", observability.String("addr", cfg.Server.Addr))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		logger.Error("server failed", observability.Error(err))
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	if watcher != nil {
		_ = watcher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", observability.Error(err))
	}

	_ = app.store.Close()
	logger.Info("stopped")
}

// startConfigWatcher hot-reloads the gate rules on config changes.
// Server and Redis settings require a restart; only the gate section
// is swapped at runtime.
func startConfigWatcher(ctx context.Context, app *application, configPath string, logger observability.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.GateConfig) {
		app.gate.UpdateRules(gate.RulesFromConfig(newCfg.Gate))
	}, config.WithWatcherLogger(logger))
	if err != nil {
		logger.Warn("config watcher disabled", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher failed to start", observability.Error(err))
		return nil
	}
	return watcher
}

// handleHealth reports liveness and store connectivity.
func (app *application) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	storeStatus := "ok"

	pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := app.store.Ping(pingCtx); err != nil {
		storeStatus = "unavailable"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"store":  storeStatus,
	})
}

// handleWhoami echoes the authenticated principal.
func handleWhoami(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")

	if p == nil {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"authenticated": false,
		})
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"authenticated": true,
		"subject":       p.Subject,
		"email":         p.Email,
		"role":          p.Role,
		"department":    p.Department,
		"permissions":   p.Permissions,
	})
}

// handleRateLimitReset clears the window for a key. The route should
// be guarded with system:admin in the gate rules.
func (app *application) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "key query parameter is required", http.StatusBadRequest)
		return
	}

	if err := app.limiter.Reset(r.Context(), key); err != nil {
		http.Error(w, "reset failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// getEnvOrDefault returns the environment value or a default.
func getEnvOrDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
