package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/akiles-app/akiles"
	"github.com/akiles-app/akiles/runtime"
	"github.com/akiles-app/akiles/translate"
)

// BridgeHandler exposes native over a websocket. It expects to be mounted on a route
// with a {service} parameter and only accepts the configured service name.
//
// When Authorization is non-empty, the upgrade request must carry exactly that header.
type BridgeHandler struct {
	Native        akiles.Bridge
	Service       string
	Authorization string
	Codec         translate.Codec
	Logger        zerolog.Logger
	// BaseContext bounds every connection; defaults to the request context.
	BaseContext context.Context
}

func (h *BridgeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	want := h.Service
	if want == "" {
		want = akiles.ServiceName
	}
	if !strings.EqualFold(service, want) {
		http.Error(w, "unknown service", http.StatusNotFound)
		return
	}
	if h.Authorization != "" && r.Header.Get("Authorization") != h.Authorization {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Debug().Err(err).Msg("bridge upgrade failed")
		return
	}
	defer conn.Close()
	clearDeadlines(conn)

	ctx := r.Context()
	if h.BaseContext != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(h.BaseContext)
		defer cancel()
	}

	log := h.Logger.With().Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("bridge connected")
	if err := runtime.ServeConn(ctx, conn, h.Native, h.Codec, log); err != nil {
		log.Info().Err(err).Msg("bridge disconnected")
		return
	}
	log.Info().Msg("bridge closed")
}
