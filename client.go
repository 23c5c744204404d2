package akiles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Client is the Go face of the Akiles native SDK. Every call is forwarded through a
// Bridge; single-result calls block until the native reply or ctx is done, while
// action, scan, sync and scan card stream into callbacks and return a CancelFunc.
type Client struct {
	bridge  Bridge
	service string
	opIDs   func() string
	log     zerolog.Logger
}

// New creates a Client on top of b.
func New(b Bridge, opts Options) (*Client, error) {
	if b == nil {
		return nil, ErrNilBridge
	}
	if opts.Service == "" {
		opts.Service = ServiceName
	}
	if opts.OpIDs == nil {
		opts.OpIDs = NewOpID
	}
	return &Client{
		bridge:  b,
		service: opts.Service,
		opIDs:   opts.OpIDs,
		log:     opts.Logger.With().Str("service", opts.Service).Logger(),
	}, nil
}

type reply struct {
	payload json.RawMessage
	err     *Error
}

// call runs one single-result native call. A reply arriving after ctx is done is dropped.
func (c *Client) call(ctx context.Context, action string, args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	ch := make(chan reply, 1)
	send := func(r reply) {
		select {
		case ch <- r:
		default:
		}
	}
	c.bridge.Exec(
		func(p json.RawMessage) { send(reply{payload: p}) },
		func(p json.RawMessage) { send(reply{err: NormalizeError(p)}) },
		c.service, action, args,
	)

	select {
	case <-ctx.Done():
		c.log.Debug().Str("action", action).Err(ctx.Err()).Msg("abandoned native call")
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.payload, nil
	}
}

func callInto[T any](ctx context.Context, c *Client, action string, args ...any) (T, error) {
	var out T
	payload, err := c.call(ctx, action, args...)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, NewError(CodeInternal, fmt.Sprintf("%s: unexpected reply %s", action, payload))
	}
	return out, nil
}

func (c *Client) callBool(ctx context.Context, action string, args ...any) (bool, error) {
	payload, err := c.call(ctx, action, args...)
	if err != nil {
		return false, err
	}
	switch string(bytes.TrimSpace(payload)) {
	case "true", "1":
		return true, nil
	case "false", "0", "null", "":
		return false, nil
	}
	return false, NewError(CodeInternal, fmt.Sprintf("%s: unexpected reply %s", action, payload))
}

// GetSessionIDs returns the IDs of all sessions in the session store.
func (c *Client) GetSessionIDs(ctx context.Context) ([]string, error) {
	return callInto[[]string](ctx, c, ActionGetSessionIDs)
}

// GetVersion returns the version of the native SDK.
func (c *Client) GetVersion(ctx context.Context) (string, error) {
	return callInto[string](ctx, c, ActionGetVersion)
}

func (c *Client) GetClientInfo(ctx context.Context) (ClientInfo, error) {
	return callInto[ClientInfo](ctx, c, ActionGetClientInfo)
}

// AddSession validates token with the server, caches the session and returns its ID.
// Adding a session that is already in the store is a no-op returning the same ID.
func (c *Client) AddSession(ctx context.Context, token string) (string, error) {
	return callInto[string](ctx, c, ActionAddSession, token)
}

// RemoveSession removes a session. Unknown IDs are a no-op.
func (c *Client) RemoveSession(ctx context.Context, id string) error {
	_, err := c.call(ctx, ActionRemoveSession, id)
	return err
}

func (c *Client) RemoveAllSessions(ctx context.Context) error {
	_, err := c.call(ctx, ActionRemoveAllSessions)
	return err
}

// RefreshSession refreshes the cached data of one session.
func (c *Client) RefreshSession(ctx context.Context, id string) error {
	_, err := c.call(ctx, ActionRefreshSession, id)
	return err
}

func (c *Client) RefreshAllSessions(ctx context.Context) error {
	_, err := c.call(ctx, ActionRefreshAllSessions)
	return err
}

// GetGadgets lists the gadgets of a session.
func (c *Client) GetGadgets(ctx context.Context, sessionID string) ([]Gadget, error) {
	return callInto[[]Gadget](ctx, c, ActionGetGadgets, sessionID)
}

// GetHardwares lists the hardware reachable by a session.
func (c *Client) GetHardwares(ctx context.Context, sessionID string) ([]Hardware, error) {
	return callInto[[]Hardware](ctx, c, ActionGetHardwares, sessionID)
}

func (c *Client) IsBluetoothSupported(ctx context.Context) (bool, error) {
	return c.callBool(ctx, ActionIsBluetoothSupported)
}

func (c *Client) IsCardEmulationSupported(ctx context.Context) (bool, error) {
	return c.callBool(ctx, ActionIsCardEmulationSupported)
}

// IsSecureNFCSupported reports whether secure NFC is both supported and enabled.
func (c *Client) IsSecureNFCSupported(ctx context.Context) (bool, error) {
	return c.callBool(ctx, ActionIsSecureNFCSupported)
}

// StartCardEmulation starts card emulation with the UI in the given language.
// Only the iOS SDK implements it.
func (c *Client) StartCardEmulation(ctx context.Context, language string) error {
	_, err := c.call(ctx, ActionStartCardEmulation, language)
	return err
}

// Action performs actionID on a gadget, trying internet and Bluetooth possibly in
// parallel. A nil opts leaves every option to the native default.
func (c *Client) Action(sessionID, gadgetID, actionID string, opts *ActionOptions, cb ActionCallback) CancelFunc {
	opID := c.opIDs()
	d := newActionDispatcher(cb, c.opLogger(ActionAction, opID))
	var options any
	if opts != nil {
		options = opts
	}
	c.bridge.Exec(d.onSuccess, d.onFailure, c.service, ActionAction, []any{opID, sessionID, gadgetID, actionID, options})
	return cancelFunc(c.bridge, c.service, opID)
}

// Scan looks for nearby hardware.
func (c *Client) Scan(cb ScanCallback) CancelFunc {
	opID := c.opIDs()
	d := newScanDispatcher(cb, c.opLogger(ActionScan, opID))
	c.bridge.Exec(d.onSuccess, d.onFailure, c.service, ActionScan, []any{opID})
	return cancelFunc(c.bridge, c.service, opID)
}

// Sync synchronizes one hardware over Bluetooth.
func (c *Client) Sync(sessionID, hardwareID string, cb SyncCallback) CancelFunc {
	opID := c.opIDs()
	d := newSyncDispatcher(cb, c.opLogger(ActionSync, opID))
	c.bridge.Exec(d.onSuccess, d.onFailure, c.service, ActionSync, []any{opID, sessionID, hardwareID})
	return cancelFunc(c.bridge, c.service, opID)
}

// ScanCard reads an NFC card. The delivered Card stays open on the native side until
// its Close is called.
func (c *Client) ScanCard(cb ScanCardCallback) CancelFunc {
	opID := c.opIDs()
	d := &scanCardDispatcher{client: c, cb: cb, log: c.opLogger(ActionScanCard, opID)}
	c.bridge.Exec(d.onSuccess, d.onFailure, c.service, ActionScanCard, []any{opID})
	return cancelFunc(c.bridge, c.service, opID)
}

func (c *Client) opLogger(action, opID string) zerolog.Logger {
	return c.log.With().Str("action", action).Str("op", opID).Logger()
}

// Card is an NFC card delivered by ScanCard.
type Card struct {
	UID          string `json:"uid"`
	IsAkilesCard bool   `json:"isAkilesCard"`

	client *Client
}

// Update re-validates this card with the Akiles server.
func (c *Card) Update(ctx context.Context) error {
	if c.client == nil {
		return ErrNilBridge
	}
	_, err := c.client.call(ctx, ActionUpdateCard, c.UID)
	return err
}

// Close releases the native card handle. The outcome is not observed.
func (c *Card) Close() {
	if c.client == nil {
		return
	}
	c.client.bridge.Exec(nil, nil, c.client.service, ActionCloseCard, []any{c.UID})
}
