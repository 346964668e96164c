package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"schoolchat/internal/api"
	"schoolchat/internal/auth"
	"schoolchat/internal/config"
	"schoolchat/internal/groups"
	"schoolchat/internal/registry"
	"schoolchat/internal/router"
	"schoolchat/internal/store"
	"schoolchat/internal/ws"
)

// Application wires every component in dependency order, from the store
// up through the HTTP server.
type Application struct {
	cfg        *config.Config
	store      *store.Manager
	registry   *registry.Registry
	httpServer *http.Server
}

func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.NewManager(&store.Config{
		Driver:          cfg.Store.Driver,
		DSN:             cfg.Store.DSN,
		MaxConnections:  cfg.Store.MaxConnections,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}

	tokens := auth.NewService(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	reg := registry.NewRegistry()
	syncer := groups.NewSynchronizer(reg, st)
	rt := router.NewRouter(reg, st, syncer)
	wsHandler := ws.NewHandler(reg, rt, st, tokens, cfg.WebSocket)
	apiServer := api.NewServer(st, reg, tokens, wsHandler)

	addr := net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		cfg:        cfg,
		store:      st,
		registry:   reg,
		httpServer: httpServer,
	}, nil
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("app: listening on %s (driver=%s)", a.httpServer.Addr, a.cfg.Store.Driver)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Println("app: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("app: http shutdown: %v", err)
	}
	if err := a.store.Close(); err != nil {
		log.Printf("app: store close: %v", err)
	}
	return nil
}
