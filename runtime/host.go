package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/akiles-app/akiles"
	"github.com/akiles-app/akiles/translate"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ServeConn executes request frames read from conn on native and writes every callback
// back as a reply frame. It returns when the connection fails or ctx is done.
//
// When native implements akiles.StreamBridge, replies carry its keep flag; otherwise
// every result is sent as final.
func ServeConn(ctx context.Context, conn *websocket.Conn, native akiles.Bridge, codec translate.Codec, log zerolog.Logger) error {
	if native == nil {
		return akiles.ErrNilBridge
	}
	if codec == nil {
		codec = translate.JSONCodec{}
	}
	h := &hostConn{conn: conn, codec: codec, log: log}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	stream, _ := native.(akiles.StreamBridge)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		req, err := codec.DecodeRequest(data)
		if err != nil {
			log.Warn().Err(err).Msg("ignoring undecodable request")
			continue
		}
		service, action, err := req.Target()
		if err != nil {
			h.send(translate.Failure(req.ID, akiles.TransportFailure(err)))
			continue
		}
		log.Debug().Str("id", req.ID).Str("action", action).Msg("exec")

		id := req.ID
		onFailure := func(p json.RawMessage) { h.send(translate.Failure(id, p)) }
		if stream != nil {
			stream.ExecStream(func(p json.RawMessage, keep bool) {
				h.send(translate.Result(id, p, keep))
			}, onFailure, service, action, req.Params)
			continue
		}
		native.Exec(func(p json.RawMessage) {
			h.send(translate.Result(id, p, false))
		}, onFailure, service, action, req.Params)
	}
}

type hostConn struct {
	mu    sync.Mutex
	conn  *websocket.Conn
	codec translate.Codec
	log   zerolog.Logger
}

func (h *hostConn) send(rep translate.Reply) {
	frame, err := h.codec.EncodeReply(rep)
	if err != nil {
		h.log.Error().Err(err).Str("id", rep.ID).Msg("encode reply")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.conn.WriteMessage(h.codec.MessageType(), frame); err != nil {
		h.log.Debug().Err(err).Str("id", rep.ID).Msg("reply dropped")
	}
}
