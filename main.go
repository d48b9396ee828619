package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"parley/capability"
	"parley/config"
	"parley/conversation"
	"parley/dispatch"
	"parley/mcp"
	"parley/metrics"
	"parley/model"
	"parley/provider"
	"parley/storage"
)

const (
	Version = "v0.02.00"
	License = "Apache-2.0"

	// capabilityMaxAge is how long listed model capabilities are trusted
	// before the provider is asked again
	capabilityMaxAge = time.Hour
)

type options struct {
	provider    string
	model       string
	session     string
	newSession  bool
	metricsAddr string
	debug       bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("parley", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.provider, "provider", "p", "", "provider to use (overrides default_provider)")
	flagSet.StringVarP(&opts.model, "model", "m", "", "model to use (overrides default_model)")
	flagSet.StringVarP(&opts.session, "session", "s", "", "ID of the session to resume")
	flagSet.BoolVarP(&opts.newSession, "new", "n", false, "start a new session instead of resuming the last one")
	flagSet.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	flagSet.BoolVar(&opts.debug, "debug", false, "write a debug log to <data_dir>/debug.log")
	showVersion := flagSet.BoolP("version", "v", false, "print the version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Printf("parley %s (%s)\n", Version, License)
		return nil
	}
	if opts.debug {
		os.Setenv("PARLEY_DEBUG", "1")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.provider != "" {
		cfg.DefaultProvider = opts.provider
	}
	if opts.model != "" {
		cfg.DefaultModel = opts.model
	}

	// Initialize debug logging after config is loaded
	config.InitDebugLog(cfg.DataDir())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers := provider.InitializeProviders(cfg)
	providerID := cfg.DefaultProvider
	active, ok := providers[providerID]
	if !ok {
		fmt.Fprintf(os.Stderr, "Provider %q is not available, falling back to ollama\n", providerID)
		providerID = string(provider.ProviderTypeOllama)
		if active, ok = providers[providerID]; !ok {
			return fmt.Errorf("no provider could be initialized")
		}
		if cfg.DefaultModel != "" {
			active.SetModel(cfg.DefaultModel)
		}
	}

	cache, err := storage.NewCapabilityCache(cfg.DataDir())
	if err != nil {
		return fmt.Errorf("failed to open capability cache: %w", err)
	}
	defer cache.Close()

	registry := capability.NewRegistry(cache, config.RequiresAPIKey)
	registry.SetMaxAge(capabilityMaxAge)
	for id, descriptors := range capability.FromConfig(cfg.Models) {
		registry.Override(id, descriptors...)
	}
	switchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := registry.Switch(switchCtx, providerID, active); err != nil {
		fmt.Fprintf(os.Stderr, "Could not list %s models, using cached capabilities: %v\n", providerID, err)
	}
	cancel()

	executor := mcp.NewExecutor(cfg.MaxToolOutput)
	if err := executor.StartAll(ctx, cfg.EnabledPlugins()); err != nil {
		fmt.Fprintf(os.Stderr, "Some tool servers failed to start: %v\n", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		executor.Shutdown(shutdownCtx)
	}()

	sessionStorage, err := storage.NewSessionStorage(cfg.DataDir())
	if err != nil {
		return fmt.Errorf("failed to initialize session storage: %w", err)
	}
	session := openSession(sessionStorage, opts, providerID, active.GetModel())
	if err := sessionStorage.SaveCurrentSessionID(session.ID); err != nil && config.DebugLog != nil {
		config.DebugLog.Printf("Warning: failed to record current session: %v", err)
	}

	prompt := session.SystemPrompt
	if prompt == "" {
		prompt = cfg.DefaultSystemPrompt
	}
	persister := storage.NewSessionPersister(sessionStorage, session)
	store := conversation.NewStore(prompt, persister)
	if len(session.Messages) > 0 {
		store.Load(session.Messages)
	}

	controller := dispatch.New(dispatch.Config{
		Store:        store,
		Provider:     active,
		ProviderID:   providerID,
		Executor:     executor,
		Capabilities: registry,
		HasKey:       cfg.HasAPIKey,
		Tools:        persister.Session().EnabledTools,
	})

	if opts.metricsAddr != "" {
		go serveMetrics(opts.metricsAddr)
	}

	r := &repl{
		cfg:        cfg,
		providers:  providers,
		registry:   registry,
		executor:   executor,
		sessions:   sessionStorage,
		search:     storage.NewSearchIndex(sessionStorage),
		persister:  persister,
		store:      store,
		controller: controller,
		tools:      persister.Session().EnabledTools,
		in:         os.Stdin,
		out:        os.Stdout,
	}
	return r.run(ctx)
}

// openSession resumes the requested or last session, or creates a new one
func openSession(sessions *storage.SessionStorage, opts options, providerID, modelName string) *storage.Session {
	id := opts.session
	if id == "" && !opts.newSession {
		id, _ = sessions.LoadCurrentSessionID()
	}
	if id != "" {
		if session, err := sessions.Load(id); err == nil {
			return session
		} else if config.DebugLog != nil {
			config.DebugLog.Printf("Failed to resume session %s: %v", id, err)
		}
	}

	now := time.Now()
	return &storage.Session{
		ID:        conversation.NewID(),
		Provider:  providerID,
		Model:     modelName,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []model.Message{},
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "Metrics server stopped: %v\n", err)
	}
}
