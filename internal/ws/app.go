package ws

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/isqad/melody"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-collab/internal/core"
	"github.com/isqad/livelook-collab/internal/relay"
	"github.com/isqad/livelook-collab/internal/repository"
	"github.com/isqad/livelook-collab/internal/telemetry"
)

const defaultMaxMessageSize = 200 * 1024 // 200K

// AppOptions is options of the signaling server
type AppOptions struct {
	Env            core.Environment
	Address        string
	MaxMessageSize int64
	Relay          relay.Relay
	Sessions       repository.SessionsRepository
}

// App is the signaling server: websocket endpoint, metrics and health probe
type App struct {
	AppOptions

	hub       *Hub
	websocket *melody.Melody
}

func New(options AppOptions) *App {
	if options.Relay == nil {
		options.Relay = relay.NewLocal()
	}
	if options.Sessions == nil {
		options.Sessions = repository.NewMemory()
	}
	if options.MaxMessageSize <= 0 {
		options.MaxMessageSize = defaultMaxMessageSize
	}

	websocket := melody.New()
	websocket.Config.MaxMessageSize = options.MaxMessageSize

	return &App{
		AppOptions: options,
		hub:        NewHub(options.Relay, options.Sessions),
		websocket:  websocket,
	}
}

func (app *App) Start() error {
	quit := make(chan os.Signal, 1)
	done := make(chan struct{}, 1)

	telemetry.InitLogger(app.Env)

	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	server := &http.Server{
		Addr:              app.Address,
		Handler:           app.Router(),
		ReadHeaderTimeout: 1 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	server.RegisterOnShutdown(func() {
		log.Warn().Str("service", "ws").Msg("received signal to terminate the server")

		if err := app.websocket.Close(); err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("close websockets")
		}
		app.hub.Close()
		if err := app.Relay.Close(); err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("close relay")
		}

		log.Info().Str("service", "ws").Msg("all services are stopped")
		close(done)
	})

	// Shutdown the HTTP server
	go func() {
		<-quit
		log.Warn().Str("service", "ws").Msg("the server is going shutting down")

		// Wait 20 seconds for close http connections
		waitIdleConnCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(waitIdleConnCtx); err != nil {
			log.Fatal().Err(err).Msg("can't gracefully shutdown the server")
		}
	}()

	log.Info().Str("service", "ws").Str("address", app.Address).Msg("signaling server started")

	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server has been closed immediatelly")
	}

	<-done
	log.Info().Str("service", "ws").Msg("server stopped")

	return nil
}

// Router builds http router of the server
func (app *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	app.websocket.HandleDisconnect(DisconnectHandler(app.hub))
	app.websocket.HandleMessage(HandleMessage(app.hub))
	app.websocket.HandleError(func(s *melody.Session, err error) {
		log.Error().Err(err).Str("service", "ws").Msg("error in websocket session")
	})

	r.Get("/ws", WsHandler(app.websocket))
	r.Get("/sessions/{id}", SessionHandler(app.hub))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
