package akiles

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// ServiceName is the native plugin every bridge call is addressed to.
const ServiceName = "AKILES"

// Native action names.
const (
	ActionGetSessionIDs            = "get_session_ids"
	ActionGetVersion               = "get_version"
	ActionGetClientInfo            = "get_client_info"
	ActionAddSession               = "add_session"
	ActionRemoveSession            = "remove_session"
	ActionRemoveAllSessions        = "remove_all_sessions"
	ActionRefreshSession           = "refresh_session"
	ActionRefreshAllSessions       = "refresh_all_sessions"
	ActionGetGadgets               = "get_gadgets"
	ActionGetHardwares             = "get_hardwares"
	ActionAction                   = "action"
	ActionScan                     = "scan"
	ActionSync                     = "sync"
	ActionScanCard                 = "scan_card"
	ActionIsBluetoothSupported     = "is_bluetooth_supported"
	ActionIsCardEmulationSupported = "is_card_emulation_supported"
	ActionIsSecureNFCSupported     = "is_secure_nfc_supported"
	ActionStartCardEmulation       = "start_card_emulation"
	ActionCancel                   = "cancel"
	ActionUpdateCard               = "update_card"
	ActionCloseCard                = "close_card"
)

// Callback receives one payload from the native side.
type Callback func(payload json.RawMessage)

// Bridge is the native execution primitive. Exec must not block on the native round
// trip; results arrive later through onSuccess (possibly several times for streaming
// actions) or onFailure. Either callback may be nil, meaning the caller does not
// observe that path.
type Bridge interface {
	Exec(onSuccess, onFailure Callback, service, action string, args []any)
}

// StreamBridge is implemented by bridges that know whether a success payload is the
// last one for its call. Hosts use it to tell remote callers when to release a call.
type StreamBridge interface {
	Bridge
	ExecStream(onResult func(payload json.RawMessage, keep bool), onFailure Callback, service, action string, args []any)
}

// BridgeFunc adapts a function to Bridge.
type BridgeFunc func(onSuccess, onFailure Callback, service, action string, args []any)

func (f BridgeFunc) Exec(onSuccess, onFailure Callback, service, action string, args []any) {
	f(onSuccess, onFailure, service, action, args)
}

// CancelFunc asks the native side to abort an in-flight operation. It returns at once
// and never delivers a callback itself: the operation's own terminal callback (usually
// CodeCanceled) reports the outcome. It may be called any number of times, but only
// the first call sends a cancel to the native side; later calls send nothing.
type CancelFunc func()

func cancelFunc(b Bridge, service, opID string) CancelFunc {
	var once sync.Once
	return func() {
		once.Do(func() {
			b.Exec(nil, nil, service, ActionCancel, []any{opID})
		})
	}
}

// NewOpID returns "<unix millis>-<random below 1e6>". Collisions inside one process are
// unlikely enough for cancellation routing; it is not a secure or global identifier.
func NewOpID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixMilli(), rand.IntN(1000000))
}
