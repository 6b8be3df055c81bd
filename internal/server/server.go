package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mtarek-dev/partyhost/internal/dispatch"
	"github.com/mtarek-dev/partyhost/internal/server/middleware"
	"github.com/mtarek-dev/partyhost/pkg/config"
	"github.com/mtarek-dev/partyhost/pkg/module"
	"github.com/mtarek-dev/partyhost/pkg/state/roomstore"
	"github.com/mtarek-dev/partyhost/pkg/state/sessionstore"
	"github.com/mtarek-dev/partyhost/pkg/transport"
	"github.com/mtarek-dev/partyhost/pkg/validate"
)

type App struct {
	logger     *slog.Logger
	config     *config.Config
	registry   *module.Registry
	rooms      *roomstore.Store
	sessions   *sessionstore.Store
	dispatcher *dispatch.Dispatcher

	http      *http.Server
	wg        sync.WaitGroup
	startedAt time.Time

	connMu sync.Mutex
	conns  map[uuid.UUID]*transport.Connection

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, registry *module.Registry) *App {
	rooms := roomstore.New(logger, cfg.Room.MaxMessages)
	sessions := sessionstore.New(logger, cfg.Session.TTL, cfg.Session.JWTSecret)
	dispatcher := dispatch.New(logger, rooms, sessions, registry, dispatch.Config{
		GracePeriod:       cfg.Room.GracePeriod,
		BroadcastInterval: cfg.Broadcast.MinInterval,
		EventsPerWindow:   cfg.Limits.EventsPerWindow,
		EventWindow:       cfg.Limits.EventWindow,
	})

	app := &App{
		logger:     logger,
		config:     cfg,
		registry:   registry,
		rooms:      rooms,
		sessions:   sessions,
		dispatcher: dispatcher,
		conns:      make(map[uuid.UUID]*transport.Connection),
		startedAt:  time.Now(),
		ctx:        rootCtx,
	}

	connLimiter := validate.NewSlidingWindow(cfg.Limits.ConnsPerWindow, cfg.Limits.ConnWindow)
	mux := http.NewServeMux()
	mux.Handle("/ws/{namespace}",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			middleware.NewConnectionLimiter(logger, connLimiter),
		),
	)
	mux.HandleFunc("GET /health", app.healthHandler)
	mux.HandleFunc("GET /api/stats", app.statsHandler)
	mux.HandleFunc("GET /api/stats/{gameId}", app.statsHandler)

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}
	return app
}

func (a *App) Run() error {
	g, ctx := errgroup.WithContext(a.ctx)
	g.Go(func() error {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return a.Shutdown()
	})
	return g.Wait()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	namespace := r.PathValue("namespace")
	mod, ok := a.registry.ByNamespace(namespace)
	if !ok {
		http.Error(w, "unknown game namespace", http.StatusNotFound)
		return
	}
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("namespace", namespace),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		a.ctx,
		&a.wg,
		wsConn,
		transport.ConnectionConfig{ReadTimeout: a.config.Transport.ReadTimeout},
		nil,
		nil,
		a.logger,
	)
	a.dispatcher.Register(conn, mod)
	a.trackConn(conn)

	conn.SetOnMessageHandler(a.dispatcher.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		// The close path runs room teardown and module hooks; shield the
		// transport goroutine from anything they throw.
		defer func() {
			if r := recover(); r != nil {
				connLogger.Error("Recovered panic during connection teardown", slog.Any("panic", r))
			}
		}()
		a.untrackConn(id)
		a.dispatcher.HandleClose(id, err)
	})

	connLogger.Info("Connection fully established", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

func (a *App) trackConn(conn *transport.Connection) {
	a.connMu.Lock()
	a.conns[conn.ID()] = conn
	a.connMu.Unlock()
}

func (a *App) untrackConn(id uuid.UUID) {
	a.connMu.Lock()
	delete(a.conns, id)
	a.connMu.Unlock()
}

func (a *App) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(a.startedAt).Round(time.Second).String(),
		"games":  a.registry.IDs(),
	})
}

func (a *App) statsHandler(w http.ResponseWriter, r *http.Request) {
	gameID := r.PathValue("gameId")
	if gameID != "" {
		if _, ok := a.registry.Get(gameID); !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown game"})
			return
		}
	}
	rooms, players := a.rooms.Stats(gameID)
	resp := map[string]any{
		"rooms":   rooms,
		"players": players,
	}
	if gameID == "" {
		resp["sessions"] = a.sessions.Count()
	} else {
		resp["gameId"] = gameID
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Shutdown runs the graceful shutdown sequence: stop accepting, close every
// live websocket, wait for connection goroutines to finish their cleanup.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.logger.Info("Closing all active connections...")
	a.connMu.Lock()
	live := make([]*transport.Connection, 0, len(a.conns))
	for _, conn := range a.conns {
		live = append(live, conn)
	}
	a.connMu.Unlock()
	for _, conn := range live {
		conn.Close(errors.New("graceful shutdown"))
	}

	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
