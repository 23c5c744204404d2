package akiles

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// channel tracks one independently terminated stream of an operation.
type channel struct {
	started bool
	done    bool
}

// admit records an event on ch and reports whether it may be delivered.
func (ch *channel) admit(terminal bool) bool {
	if ch.done {
		return false
	}
	ch.started = true
	ch.done = terminal
	return true
}

// open reports whether ch has seen events but no terminal signal yet.
func (ch *channel) open() bool { return ch.started && !ch.done }

// actionDispatcher routes action payloads to an ActionCallback. State is guarded by mu;
// callbacks run after it is released so they can call the operation's CancelFunc.
type actionDispatcher struct {
	cb  ActionCallback
	log zerolog.Logger

	mu        sync.Mutex
	global    channel
	internet  channel
	bluetooth channel
}

func newActionDispatcher(cb ActionCallback, log zerolog.Logger) *actionDispatcher {
	return &actionDispatcher{cb: cb, log: log}
}

func (d *actionDispatcher) onSuccess(payload json.RawMessage) {
	ev, err := DecodeActionEvent(payload)
	if err != nil {
		d.log.Warn().Err(err).RawJSON("payload", safeJSON(payload)).Msg("ignoring action payload")
		return
	}
	d.dispatch(ev)
}

func (d *actionDispatcher) dispatch(ev ActionEvent) {
	d.mu.Lock()
	var ok bool
	switch ev.(type) {
	case ActionSucceeded, ActionFailed:
		ok = d.global.admit(true)
	case InternetStatusChanged:
		ok = d.internet.admit(false)
	case InternetSucceeded, InternetFailed:
		ok = d.internet.admit(true)
	case BluetoothStatusChanged, BluetoothProgress:
		ok = d.bluetooth.admit(false)
	case BluetoothSucceeded, BluetoothFailed:
		ok = d.bluetooth.admit(true)
	}
	d.mu.Unlock()
	if !ok {
		d.log.Debug().Str("type", ev.tag()).Msg("dropping action event after terminal")
		return
	}

	cb := d.cb
	switch e := ev.(type) {
	case ActionSucceeded:
		call0(cb.OnSuccess)
	case ActionFailed:
		callErr(cb.OnError, e.Err)
	case InternetStatusChanged:
		if cb.OnInternetStatus != nil {
			cb.OnInternetStatus(e.Status)
		}
	case InternetSucceeded:
		call0(cb.OnInternetSuccess)
	case InternetFailed:
		callErr(cb.OnInternetError, e.Err)
	case BluetoothStatusChanged:
		if cb.OnBluetoothStatus != nil {
			cb.OnBluetoothStatus(e.Status)
		}
	case BluetoothProgress:
		if cb.OnBluetoothStatusProgress != nil {
			cb.OnBluetoothStatusProgress(e.Percent)
		}
	case BluetoothSucceeded:
		call0(cb.OnBluetoothSuccess)
	case BluetoothFailed:
		callErr(cb.OnBluetoothError, e.Err)
	}
}

// onFailure handles the bridge's own failure path. It ends the global result and every
// sub-channel that reported progress but no terminal signal, all with the same error.
func (d *actionDispatcher) onFailure(payload json.RawMessage) {
	e := NormalizeError(payload)

	d.mu.Lock()
	global := d.global.admit(true)
	internet := d.internet.open()
	if internet {
		d.internet.admit(true)
	}
	bluetooth := d.bluetooth.open()
	if bluetooth {
		d.bluetooth.admit(true)
	}
	d.mu.Unlock()

	d.log.Debug().Str("code", string(e.Code)).Msg("action failed on transport")
	if global {
		callErr(d.cb.OnError, e)
	}
	if internet {
		callErr(d.cb.OnInternetError, e)
	}
	if bluetooth {
		callErr(d.cb.OnBluetoothError, e)
	}
}

// streamDispatcher serves scan and sync: progress events, then one terminal signal.
type streamDispatcher[E Event] struct {
	decode   func(json.RawMessage) (E, error)
	terminal func(E) bool
	deliver  func(E)
	onError  func(*Error)
	log      zerolog.Logger

	mu sync.Mutex
	ch channel
}

func (d *streamDispatcher[E]) onSuccess(payload json.RawMessage) {
	ev, err := d.decode(payload)
	if err != nil {
		d.log.Warn().Err(err).RawJSON("payload", safeJSON(payload)).Msg("ignoring payload")
		return
	}
	d.mu.Lock()
	ok := d.ch.admit(d.terminal(ev))
	d.mu.Unlock()
	if !ok {
		d.log.Debug().Str("type", ev.tag()).Msg("dropping event after terminal")
		return
	}
	d.deliver(ev)
}

func (d *streamDispatcher[E]) onFailure(payload json.RawMessage) {
	d.mu.Lock()
	ok := d.ch.admit(true)
	d.mu.Unlock()
	if !ok {
		return
	}
	callErr(d.onError, NormalizeError(payload))
}

func newScanDispatcher(cb ScanCallback, log zerolog.Logger) *streamDispatcher[ScanEvent] {
	return &streamDispatcher[ScanEvent]{
		decode: DecodeScanEvent,
		terminal: func(ev ScanEvent) bool {
			_, progress := ev.(HardwareDiscovered)
			return !progress
		},
		deliver: func(ev ScanEvent) {
			switch e := ev.(type) {
			case HardwareDiscovered:
				if cb.OnDiscover != nil {
					cb.OnDiscover(e.Hardware)
				}
			case ScanSucceeded:
				call0(cb.OnSuccess)
			case ScanFailed:
				callErr(cb.OnError, e.Err)
			}
		},
		onError: cb.OnError,
		log:     log,
	}
}

func newSyncDispatcher(cb SyncCallback, log zerolog.Logger) *streamDispatcher[SyncEvent] {
	return &streamDispatcher[SyncEvent]{
		decode: DecodeSyncEvent,
		terminal: func(ev SyncEvent) bool {
			switch ev.(type) {
			case SyncSucceeded, SyncFailed:
				return true
			}
			return false
		},
		deliver: func(ev SyncEvent) {
			switch e := ev.(type) {
			case SyncStatusChanged:
				if cb.OnStatus != nil {
					cb.OnStatus(e.Status)
				}
			case SyncProgress:
				if cb.OnStatusProgress != nil {
					cb.OnStatusProgress(e.Percent)
				}
			case SyncSucceeded:
				call0(cb.OnSuccess)
			case SyncFailed:
				callErr(cb.OnError, e.Err)
			}
		},
		onError: cb.OnError,
		log:     log,
	}
}

// scanCardDispatcher delivers a single card or error.
type scanCardDispatcher struct {
	client *Client
	cb     ScanCardCallback
	log    zerolog.Logger

	once sync.Once
}

func (d *scanCardDispatcher) onSuccess(payload json.RawMessage) {
	d.once.Do(func() {
		card := &Card{client: d.client}
		if err := json.Unmarshal(payload, card); err != nil {
			d.log.Warn().Err(err).Msg("undecodable card")
			callErr(d.cb.OnError, NewError(CodeInternal, err.Error()))
			return
		}
		if d.cb.OnSuccess != nil {
			d.cb.OnSuccess(card)
		}
	})
}

func (d *scanCardDispatcher) onFailure(payload json.RawMessage) {
	d.once.Do(func() {
		callErr(d.cb.OnError, NormalizeError(payload))
	})
}

func call0(f func()) {
	if f != nil {
		f()
	}
}

func callErr(f func(*Error), err *Error) {
	if f != nil {
		f(err)
	}
}

// safeJSON keeps zerolog's RawJSON from emitting broken log lines.
func safeJSON(b json.RawMessage) []byte {
	if json.Valid(b) {
		return b
	}
	out, _ := json.Marshal(string(b))
	return out
}
