package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"prism-chat/internal/adapter/auth"
	"prism-chat/internal/adapter/datastore"
	"prism-chat/internal/adapter/gateway"
	"prism-chat/internal/adapter/llm"
	"prism-chat/internal/domain"
	"prism-chat/internal/infra/config"
	"prism-chat/internal/infra/logger"
	"prism-chat/internal/infra/tracer"
	"prism-chat/internal/usecase"
	"prism-chat/internal/usecase/eventbus"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("prismd", version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	bus := eventbus.New(log)
	defer bus.Close()

	store, authProvider, closeStore, err := buildDataLayer(cfg, bus, log)
	if err != nil {
		return err
	}
	defer closeStore()

	llmGateway := llm.NewGateway(cfg.LLM, log)
	if llmGateway.DemoMode() {
		log.Warn("no provider credentials configured, running in demo mode")
	}

	chat := usecase.NewChatStore(store, llmGateway, authProvider, bus, log)

	srv := gateway.NewServer(bus, gateway.NewStaticTokenAuth(cfg.Gateway.Token), cfg.Gateway.Addr, log)
	deps := gateway.HandlerDeps{
		Store:   chat,
		LLM:     llmGateway,
		Logger:  log,
		Version: version,
	}
	gateway.RegisterChatHandlers(srv, deps)
	gateway.RegisterHTTPHandlers(srv, deps)

	log.Info("prismd starting", "version", version, "addr", cfg.Gateway.Addr,
		"backend", cfg.DataStore.Backend, "demo_mode", llmGateway.DemoMode())

	return srv.Start(ctx)
}

// buildDataLayer selects the persistence backend and the matching identity
// provider: the REST backend pairs with the remote auth client, the sqlite
// backend with a fixed local user.
func buildDataLayer(cfg *config.Config, bus *eventbus.Bus, log *slog.Logger) (domain.DataStore, usecase.AuthProvider, func(), error) {
	switch cfg.DataStore.Backend {
	case "rest":
		client := auth.NewClient(cfg.Auth, bus, log)
		store := datastore.NewRESTStore(cfg.DataStore, client, log)
		return store, client, func() {}, nil
	case "sqlite", "":
		store, err := datastore.NewSQLiteStore(cfg.DataStore.Path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		local := auth.NewLocalProvider(domain.User{ID: "local-user", Name: "Local User"})
		user, _ := local.GetCurrentUser(context.Background(), false)
		if err := store.PutUser(context.Background(), *user); err != nil {
			store.Close()
			return nil, nil, nil, fmt.Errorf("seed local user: %w", err)
		}
		return store, local, func() { store.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown datastore backend %q", cfg.DataStore.Backend)
	}
}
