package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/akiles-app/akiles"
	api "github.com/akiles-app/akiles/internal/http"
	"github.com/akiles-app/akiles/runtime"
	"github.com/akiles-app/akiles/translate"
)

// HostConfig configures the host HTTP server.
type HostConfig struct {
	ListenAddr    string                 // address to bind (e.g. :8090)
	Native        akiles.Bridge          // required
	Poller        *runtime.SessionPoller // required
	Codec         translate.Codec        // optional; defaults to JSON
	Authorization string                 // optional; required upgrade header value
	Logger        zerolog.Logger
	ReadTimeout   time.Duration // optional
	WriteTimeout  time.Duration // optional
	IdleTimeout   time.Duration // optional
}

var (
	ErrNilNative = errors.New("host server: native bridge is nil")
	ErrNilPoller = errors.New("host server: session poller is nil")
)

// NewRouter builds the host routes:
//
//	GET  /api/sessions         session snapshot
//	POST /api/sessions/poll    poll now, then snapshot
//	GET  /api/sessions/events  websocket stream of session events
//	GET  /bridge/{service}     websocket bridge to the native SDK
func NewRouter(ctx context.Context, cfg HostConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/sessions", api.SessionsHandler(cfg.Poller))
			r.Post("/sessions/poll", api.PollHandler(cfg.Poller))
		})
		r.Get("/sessions/events", api.SessionEventsHandler(cfg.Poller, cfg.Logger))
	})
	r.Handle("/bridge/{service}", &api.BridgeHandler{
		Native:        cfg.Native,
		Authorization: cfg.Authorization,
		Codec:         cfg.Codec,
		Logger:        cfg.Logger.With().Str("component", "bridge").Logger(),
		BaseContext:   ctx,
	})
	return r
}

// StartHostServer starts the host HTTP server.
// It returns the *http.Server, a channel that will receive a terminal error (if any), and an error for immediate startup issues.
// The server stops when the supplied context is canceled.
func StartHostServer(ctx context.Context, cfg HostConfig) (*http.Server, <-chan error, error) {
	if cfg.Native == nil {
		return nil, nil, ErrNilNative
	}
	if cfg.Poller == nil {
		return nil, nil, ErrNilPoller
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8090"
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      NewRouter(ctx, cfg),
		ReadTimeout:  durationOr(cfg.ReadTimeout, 10*time.Second),
		WriteTimeout: durationOr(cfg.WriteTimeout, 10*time.Second),
		IdleTimeout:  durationOr(cfg.IdleTimeout, 60*time.Second),
	}

	errCh := make(chan error, 1)

	go func() {
		cfg.Logger.Info().Str("addr", cfg.ListenAddr).Msg("host listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Shutdown watcher
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv, errCh, nil
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debug().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("elapsed", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func durationOr(v time.Duration, d time.Duration) time.Duration {
	if v <= 0 {
		return d
	}
	return v
}
