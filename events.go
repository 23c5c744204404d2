package akiles

import (
	"encoding/json"
	"fmt"
)

// Wire tags of the multi-callback payloads.
const (
	tagSuccess                 = "success"
	tagError                   = "error"
	tagInternetStatus          = "internet_status"
	tagInternetSuccess         = "internet_success"
	tagInternetError           = "internet_error"
	tagBluetoothStatus         = "bluetooth_status"
	tagBluetoothStatusProgress = "bluetooth_status_progress"
	tagBluetoothSuccess        = "bluetooth_success"
	tagBluetoothError          = "bluetooth_error"
	tagDiscover                = "discover"
	tagStatus                  = "status"
	tagStatusProgress          = "status_progress"
)

// Event is any payload delivered on the success path of action, scan or sync.
type Event interface {
	tag() string
}

// ActionEvent is the closed set of events an action reports.
type ActionEvent interface {
	Event
	actionEvent()
}

// ScanEvent is the closed set of events a scan reports.
type ScanEvent interface {
	Event
	scanEvent()
}

// SyncEvent is the closed set of events a sync reports.
type SyncEvent interface {
	Event
	syncEvent()
}

type (
	ActionSucceeded        struct{}
	ActionFailed           struct{ Err *Error }
	InternetStatusChanged  struct{ Status ActionInternetStatus }
	InternetSucceeded      struct{}
	InternetFailed         struct{ Err *Error }
	BluetoothStatusChanged struct{ Status ActionBluetoothStatus }
	BluetoothProgress      struct{ Percent float64 }
	BluetoothSucceeded     struct{}
	BluetoothFailed        struct{ Err *Error }
)

type (
	HardwareDiscovered struct{ Hardware Hardware }
	ScanSucceeded      struct{}
	ScanFailed         struct{ Err *Error }
)

type (
	SyncStatusChanged struct{ Status SyncStatus }
	SyncProgress      struct{ Percent float64 }
	SyncSucceeded     struct{}
	SyncFailed        struct{ Err *Error }
)

func (ActionSucceeded) tag() string        { return tagSuccess }
func (ActionFailed) tag() string           { return tagError }
func (InternetStatusChanged) tag() string  { return tagInternetStatus }
func (InternetSucceeded) tag() string      { return tagInternetSuccess }
func (InternetFailed) tag() string         { return tagInternetError }
func (BluetoothStatusChanged) tag() string { return tagBluetoothStatus }
func (BluetoothProgress) tag() string      { return tagBluetoothStatusProgress }
func (BluetoothSucceeded) tag() string     { return tagBluetoothSuccess }
func (BluetoothFailed) tag() string        { return tagBluetoothError }
func (HardwareDiscovered) tag() string     { return tagDiscover }
func (ScanSucceeded) tag() string          { return tagSuccess }
func (ScanFailed) tag() string             { return tagError }
func (SyncStatusChanged) tag() string      { return tagStatus }
func (SyncProgress) tag() string           { return tagStatusProgress }
func (SyncSucceeded) tag() string          { return tagSuccess }
func (SyncFailed) tag() string             { return tagError }

func (ActionSucceeded) actionEvent()        {}
func (ActionFailed) actionEvent()           {}
func (InternetStatusChanged) actionEvent()  {}
func (InternetSucceeded) actionEvent()      {}
func (InternetFailed) actionEvent()         {}
func (BluetoothStatusChanged) actionEvent() {}
func (BluetoothProgress) actionEvent()      {}
func (BluetoothSucceeded) actionEvent()     {}
func (BluetoothFailed) actionEvent()        {}

func (HardwareDiscovered) scanEvent() {}
func (ScanSucceeded) scanEvent()      {}
func (ScanFailed) scanEvent()         {}

func (SyncStatusChanged) syncEvent() {}
func (SyncProgress) syncEvent()      {}
func (SyncSucceeded) syncEvent()     {}
func (SyncFailed) syncEvent()        {}

// eventFrame is the tagged union as the native plugins emit it.
type eventFrame struct {
	Type     string          `json:"type"`
	Status   string          `json:"status,omitempty"`
	Percent  *float64        `json:"percent,omitempty"`
	Hardware *Hardware       `json:"hardware,omitempty"`
	Error    json.RawMessage `json:"error,omitempty"`
}

func decodeFrame(payload json.RawMessage) (eventFrame, error) {
	var f eventFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return f, fmt.Errorf("decode event: %w", err)
	}
	if f.Type == "" {
		return f, fmt.Errorf("decode event: %w: missing type", ErrUnknownEvent)
	}
	return f, nil
}

func (f eventFrame) percent() float64 {
	if f.Percent == nil {
		return 0
	}
	return *f.Percent
}

// DecodeActionEvent decodes one action payload. Tags outside the action set yield an
// error wrapping ErrUnknownEvent.
func DecodeActionEvent(payload json.RawMessage) (ActionEvent, error) {
	f, err := decodeFrame(payload)
	if err != nil {
		return nil, err
	}
	switch f.Type {
	case tagSuccess:
		return ActionSucceeded{}, nil
	case tagError:
		return ActionFailed{Err: NormalizeError(f.Error)}, nil
	case tagInternetStatus:
		return InternetStatusChanged{Status: ActionInternetStatus(f.Status)}, nil
	case tagInternetSuccess:
		return InternetSucceeded{}, nil
	case tagInternetError:
		return InternetFailed{Err: NormalizeError(f.Error)}, nil
	case tagBluetoothStatus:
		return BluetoothStatusChanged{Status: ActionBluetoothStatus(f.Status)}, nil
	case tagBluetoothStatusProgress:
		return BluetoothProgress{Percent: f.percent()}, nil
	case tagBluetoothSuccess:
		return BluetoothSucceeded{}, nil
	case tagBluetoothError:
		return BluetoothFailed{Err: NormalizeError(f.Error)}, nil
	}
	return nil, fmt.Errorf("action %q: %w", f.Type, ErrUnknownEvent)
}

func DecodeScanEvent(payload json.RawMessage) (ScanEvent, error) {
	f, err := decodeFrame(payload)
	if err != nil {
		return nil, err
	}
	switch f.Type {
	case tagDiscover:
		var hw Hardware
		if f.Hardware != nil {
			hw = *f.Hardware
		}
		return HardwareDiscovered{Hardware: hw}, nil
	case tagSuccess:
		return ScanSucceeded{}, nil
	case tagError:
		return ScanFailed{Err: NormalizeError(f.Error)}, nil
	}
	return nil, fmt.Errorf("scan %q: %w", f.Type, ErrUnknownEvent)
}

func DecodeSyncEvent(payload json.RawMessage) (SyncEvent, error) {
	f, err := decodeFrame(payload)
	if err != nil {
		return nil, err
	}
	switch f.Type {
	case tagStatus:
		return SyncStatusChanged{Status: SyncStatus(f.Status)}, nil
	case tagStatusProgress:
		return SyncProgress{Percent: f.percent()}, nil
	case tagSuccess:
		return SyncSucceeded{}, nil
	case tagError:
		return SyncFailed{Err: NormalizeError(f.Error)}, nil
	}
	return nil, fmt.Errorf("sync %q: %w", f.Type, ErrUnknownEvent)
}

// EncodeEvent renders ev in the native wire shape.
func EncodeEvent(ev Event) (json.RawMessage, error) {
	f := eventFrame{Type: ev.tag()}
	var nerr *Error
	switch e := ev.(type) {
	case ActionFailed:
		nerr = e.Err
	case InternetStatusChanged:
		f.Status = string(e.Status)
	case InternetFailed:
		nerr = e.Err
	case BluetoothStatusChanged:
		f.Status = string(e.Status)
	case BluetoothProgress:
		p := e.Percent
		f.Percent = &p
	case BluetoothFailed:
		nerr = e.Err
	case HardwareDiscovered:
		hw := e.Hardware
		f.Hardware = &hw
	case ScanFailed:
		nerr = e.Err
	case SyncStatusChanged:
		f.Status = string(e.Status)
	case SyncProgress:
		p := e.Percent
		f.Percent = &p
	case SyncFailed:
		nerr = e.Err
	}
	if nerr != nil {
		b, err := json.Marshal(nerr)
		if err != nil {
			return nil, err
		}
		f.Error = b
	}
	return json.Marshal(f)
}
