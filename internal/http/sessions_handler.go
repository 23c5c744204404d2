package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/akiles-app/akiles/runtime"
)

// SessionInfo represents a session in the listing response.
type SessionInfo struct {
	ID       string    `json:"id"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

// SessionsHandler serves the poller's current session snapshot.
func SessionsHandler(poller *runtime.SessionPoller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, last := poller.Snapshot()
		out := struct {
			Sessions []SessionInfo `json:"sessions"`
			Count    int           `json:"count"`
			LastPoll time.Time     `json:"lastPoll"`
		}{LastPoll: last}
		out.Sessions = make([]SessionInfo, 0, len(ids))
		for _, id := range ids {
			out.Sessions = append(out.Sessions, SessionInfo{ID: id, LastSeen: last})
		}
		out.Count = len(out.Sessions)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

// SessionEventsHandler upgrades to a websocket and streams session added/removed events
// as JSON text messages until either side closes.
func SessionEventsHandler(poller *runtime.SessionPoller, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Subscribed before the handshake completes so no event after it is missed.
		sub := poller.Subscribe(32)
		defer sub.Close()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Err(err).Msg("session events upgrade failed")
			return
		}
		defer conn.Close()
		clearDeadlines(conn)

		// The client sends nothing; reading only detects the close.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-gone:
				return
			case <-r.Context().Done():
				return
			case e, ok := <-sub.C():
				if !ok {
					return
				}
				if err := conn.WriteJSON(e); err != nil {
					log.Debug().Err(err).Msg("session event dropped")
					return
				}
			}
		}
	}
}

// PollHandler forces a poll and answers with the resulting snapshot.
func PollHandler(poller *runtime.SessionPoller) http.HandlerFunc {
	snapshot := SessionsHandler(poller)
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := poller.PollOnce(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		snapshot(w, r)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:   4096,
	WriteBufferSize:  4096,
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clearDeadlines drops the deadlines the HTTP server set on the hijacked connection.
func clearDeadlines(conn *websocket.Conn) {
	_ = conn.UnderlyingConn().SetDeadline(time.Time{})
}
