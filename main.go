package main

import (
	"collab-docs/auth"
	"collab-docs/collab"
	"collab-docs/config"
	"collab-docs/handlers/api/documents"
	"collab-docs/handlers/api/sessions"
	"collab-docs/handlers/websocket"
	authMiddleware "collab-docs/middleware"
	"collab-docs/permissions"
	"collab-docs/stores"
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

type app struct {
	cfg      *config.Config
	store    stores.Store
	oracle   *permissions.Oracle
	registry *collab.Registry
	engine   *collab.Engine
	tokens   *auth.Tokens
	login    *auth.Login
}

func setupRouter(a *app) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.Origins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-CSRF-Token", authMiddleware.DevUserHeader},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]any{
			"status":   "ok",
			"sessions": len(a.registry.Sessions()),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.AuthJWT(a.tokens))

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", sessions.HandleList(a.registry, a.oracle))
			r.Get("/{documentId}/members", sessions.HandleMembers(a.registry, a.oracle))
		})

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", documents.HandleList(a.store))
			r.Post("/", documents.HandleCreate(a.store))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", documents.HandleGet(a.store, a.oracle))
				r.Patch("/", documents.HandleUpdate(a.store, a.oracle, a.engine))
				r.Delete("/", documents.HandleDelete(a.store, a.oracle))
				r.Post("/shares", documents.HandleShare(a.store, a.oracle))
			})
		})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", a.login.HandleLogin)
		r.Get("/callback", a.login.HandleCallback)
	})

	return r
}

func waitForShutdown(ioo *socketio.Server, server *http.Server, store stores.Store) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signalC
	logrus.WithField("signal", s.String()).Info("Shutting down...")

	// Closing socket.io disconnects every socket, which tears down their
	// sessions through the connection lifecycle.
	ioo.Close(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server did not shut down cleanly")
	}

	var closeErr error
	switch closer := store.(type) {
	case io.Closer:
		closeErr = closer.Close()
	case interface{ Close(context.Context) error }:
		closeErr = closer.Close(ctx)
	}
	if closeErr != nil {
		logrus.WithError(closeErr).Warn("Failed to close store")
	}
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := stores.GetStore(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to open storage: %v", err)
	}

	a := &app{cfg: cfg, store: store}
	a.oracle = permissions.NewOracle(store)
	a.registry = collab.NewRegistry()
	a.engine = collab.NewEngine(a.registry, a.oracle, store, collab.Options{
		EditTimeout:   cfg.EditTimeout,
		AnnounceLeave: cfg.AnnounceLeave,
	})
	if cfg.AuthEnabled() {
		a.tokens = auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	} else {
		logrus.Warn("JWT_SECRET is not set. Clients are trusted to name their own user ID.")
	}
	a.login = auth.NewLogin(ctx, auth.ProviderConfig{
		GitHubClientID:     cfg.GitHubClientID,
		GitHubClientSecret: cfg.GitHubClientSecret,
		GitHubRedirectURL:  cfg.GitHubRedirectURL,
		OIDCIssuerURL:      cfg.OIDCIssuerURL,
		OIDCClientID:       cfg.OIDCClientID,
		OIDCClientSecret:   cfg.OIDCClientSecret,
		OIDCRedirectURL:    cfg.OIDCRedirectURL,
		FrontendURL:        cfg.FrontendURL,
	}, auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL))

	r := setupRouter(a)

	ioo := websocket.SetupSocketIO(ctx, a.engine, a.tokens, websocket.Options{
		AllowedOrigins:    cfg.Origins(),
		MaxHTTPBufferSize: cfg.MaxHTTPBufferSize,
		Connection: collab.ConnectionOptions{
			InboxSize:  cfg.InboxSize,
			OutboxSize: cfg.OutboxSize,
		},
	})
	r.Mount("/socket.io/", ioo.ServeHandler(nil))

	server := &http.Server{Addr: cfg.ListenAddr, Handler: r}
	logrus.WithField("addr", cfg.ListenAddr).Info("starting server")
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(ioo, server, store)
}
