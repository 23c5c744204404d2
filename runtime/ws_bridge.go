package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/akiles-app/akiles"
	"github.com/akiles-app/akiles/translate"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
)

// WSBridgeConfig configures a WSBridge.
type WSBridgeConfig struct {
	BaseURL        string              // websocket base URL (e.g. ws://host:8091/bridge)
	Service        string              // appended to BaseURL; defaults to akiles.ServiceName
	Auth           akiles.AuthStrategy // optional
	Codec          translate.Codec     // defaults to translate.JSONCodec
	Logger         zerolog.Logger
	ReconnectDelay time.Duration // pause before the single reconnect attempt; default 300ms
}

// WSBridge is an akiles.Bridge that forwards every Exec as a request frame over a
// websocket to a native host (see ServeConn). Replies are matched by frame ID; replies
// flagged keepCallback leave the call registered for further payloads.
//
// Callbacks of one call run in order on their own goroutine, so a callback may issue
// further bridge calls without stalling the connection.
type WSBridge struct {
	baseWS  string
	service string
	auth    akiles.AuthStrategy
	codec   translate.Codec
	log     zerolog.Logger
	delay   time.Duration

	dialer *websocket.Dialer
	connMu sync.RWMutex
	conn   *websocket.Conn

	writeMu sync.Mutex
	pending *xsync.Map[string, *pendingCall]

	closeOnce sync.Once
	closed    chan struct{}
}

type pendingCall struct {
	action    string
	onResult  func(payload json.RawMessage, keep bool)
	onFailure akiles.Callback
	queue     serialQueue
}

func (p *pendingCall) result(payload json.RawMessage, keep bool) {
	if p.onResult == nil {
		return
	}
	p.queue.push(func() { p.onResult(payload, keep) })
}

func (p *pendingCall) fail(payload json.RawMessage) {
	if p.onFailure == nil {
		return
	}
	p.queue.push(func() { p.onFailure(payload) })
}

// NewWSBridge creates a bridge; call Connect before use.
func NewWSBridge(cfg WSBridgeConfig) *WSBridge {
	if cfg.Service == "" {
		cfg.Service = akiles.ServiceName
	}
	if cfg.Codec == nil {
		cfg.Codec = translate.JSONCodec{}
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 300 * time.Millisecond
	}
	return &WSBridge{
		baseWS:  strings.TrimRight(cfg.BaseURL, "/"),
		service: cfg.Service,
		auth:    cfg.Auth,
		codec:   cfg.Codec,
		log:     cfg.Logger.With().Str("component", "ws-bridge").Logger(),
		delay:   cfg.ReconnectDelay,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pending: xsync.NewMap[string, *pendingCall](),
		closed:  make(chan struct{}),
	}
}

// Connect establishes the websocket and starts reading replies.
func (b *WSBridge) Connect(ctx context.Context) error {
	conn, err := b.dial(ctx)
	if err != nil {
		return err
	}
	b.connMu.Lock()
	b.conn = conn
	b.connMu.Unlock()
	go b.readLoop(conn)
	return nil
}

func (b *WSBridge) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(b.baseWS)
	if err != nil {
		return nil, err
	}
	u.Path = fmt.Sprintf("%s/%s", u.Path, b.service)

	header := http.Header{}
	if b.auth != nil {
		v, err := b.auth.AuthorizationValue()
		if err != nil {
			return nil, fmt.Errorf("authorization: %w", err)
		}
		if v != "" {
			header.Set("Authorization", v)
		}
	}
	conn, resp, err := b.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	return conn, nil
}

// Connected reports whether a websocket is currently open.
func (b *WSBridge) Connected() bool {
	b.connMu.RLock()
	defer b.connMu.RUnlock()
	return b.conn != nil
}

// Close terminates the connection. Calls still waiting get a failure.
func (b *WSBridge) Close() error {
	b.closeOnce.Do(func() {
		close(b.closed)
		b.connMu.Lock()
		c := b.conn
		b.conn = nil
		b.connMu.Unlock()
		if c != nil {
			_ = c.Close()
		}
		b.failPending(akiles.ErrConnectionClosed)
	})
	return nil
}

// Exec implements akiles.Bridge.
func (b *WSBridge) Exec(onSuccess, onFailure akiles.Callback, service, action string, args []any) {
	var onResult func(json.RawMessage, bool)
	if onSuccess != nil {
		onResult = func(p json.RawMessage, _ bool) { onSuccess(p) }
	}
	b.ExecStream(onResult, onFailure, service, action, args)
}

// ExecStream implements akiles.StreamBridge. A call with neither callback is sent
// without registering for replies.
func (b *WSBridge) ExecStream(onResult func(json.RawMessage, bool), onFailure akiles.Callback, service, action string, args []any) {
	req := translate.NewRequest(service, action, args)
	call := &pendingCall{action: action, onResult: onResult, onFailure: onFailure}
	tracked := onResult != nil || onFailure != nil

	frame, err := b.codec.EncodeRequest(req)
	if err != nil {
		call.fail(akiles.TransportFailure(fmt.Errorf("%s: %w", action, err)))
		return
	}
	if tracked {
		b.pending.Store(req.ID, call)
	}
	if err := b.write(frame); err != nil {
		b.log.Warn().Err(err).Str("action", action).Msg("send failed")
		if tracked {
			b.pending.Delete(req.ID)
		}
		call.fail(akiles.TransportFailure(fmt.Errorf("%s: %w", action, err)))
	}
}

func (b *WSBridge) write(frame []byte) error {
	b.connMu.RLock()
	c := b.conn
	b.connMu.RUnlock()
	if c == nil {
		return akiles.ErrNotConnected
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return c.WriteMessage(b.codec.MessageType(), frame)
}

// reconnect attempts a single reconnect using the same parameters.
func (b *WSBridge) reconnect(ctx context.Context) (*websocket.Conn, error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}
	b.connMu.Lock()
	defer b.connMu.Unlock()
	select {
	case <-b.closed:
		_ = conn.Close()
		return nil, akiles.ErrConnectionClosed
	default:
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.conn = conn
	return conn, nil
}

func (b *WSBridge) failPending(cause error) {
	payload := akiles.TransportFailure(cause)
	b.pending.Range(func(id string, call *pendingCall) bool {
		if _, ok := b.pending.LoadAndDelete(id); ok {
			call.fail(payload)
		}
		return true
	})
}

func (b *WSBridge) readLoop(c *websocket.Conn) {
	retried := false
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			select {
			case <-b.closed:
				return
			default:
			}
			// Replies for calls in flight are lost with the connection.
			b.failPending(fmt.Errorf("%w: %v", akiles.ErrConnectionClosed, err))
			if !retried {
				retried = true
				b.log.Warn().Err(err).Msg("read error, reconnecting once")
				time.Sleep(b.delay)
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				nc, recErr := b.reconnect(ctx)
				cancel()
				if recErr == nil {
					c = nc
					continue
				}
				b.log.Error().Err(recErr).Msg("reconnect failed")
			}
			_ = b.Close()
			return
		}
		b.handle(data)
	}
}

func (b *WSBridge) handle(data []byte) {
	rep, err := b.codec.DecodeReply(data)
	if err != nil {
		b.log.Warn().Err(err).Msg("ignoring undecodable frame")
		return
	}
	if rep.Failed() {
		if call, ok := b.pending.LoadAndDelete(rep.ID); ok {
			call.fail(rep.Error)
		}
		return
	}
	var call *pendingCall
	var ok bool
	if rep.KeepCallback {
		call, ok = b.pending.Load(rep.ID)
	} else {
		call, ok = b.pending.LoadAndDelete(rep.ID)
	}
	if !ok {
		b.log.Debug().Str("id", rep.ID).Msg("reply for unknown call")
		return
	}
	call.result(rep.Result, rep.KeepCallback)
}

// serialQueue runs pushed funcs one at a time, in push order, off the caller's goroutine.
type serialQueue struct {
	mu      sync.Mutex
	fns     []func()
	running bool
}

func (q *serialQueue) push(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	go q.drain()
}

func (q *serialQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.fns) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.fns[0]
		q.fns = q.fns[1:]
		q.mu.Unlock()
		fn()
	}
}
