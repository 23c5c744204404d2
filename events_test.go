package akiles

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeActionEvent(t *testing.T) {
	cases := []struct {
		payload string
		want    ActionEvent
	}{
		{`{"type":"success"}`, ActionSucceeded{}},
		{`{"type":"internet_status","status":"ACQUIRING_LOCATION"}`, InternetStatusChanged{Status: InternetAcquiringLocation}},
		{`{"type":"internet_success"}`, InternetSucceeded{}},
		{`{"type":"bluetooth_status","status":"CONNECTING"}`, BluetoothStatusChanged{Status: BluetoothConnecting}},
		{`{"type":"bluetooth_status_progress","percent":42}`, BluetoothProgress{Percent: 42}},
		{`{"type":"bluetooth_success"}`, BluetoothSucceeded{}},
		{`{"type":"error","error":{"code":"ALL_COMM_METHODS_FAILED","description":"nope"}}`, ActionFailed{Err: NewError(CodeAllCommMethodsFailed, "nope")}},
		{`{"type":"internet_error","error":{"code":"INTERNET_NOT_AVAILABLE","description":"offline"}}`, InternetFailed{Err: NewError(CodeInternetNotAvailable, "offline")}},
		{`{"type":"bluetooth_error","error":"radio off"}`, BluetoothFailed{Err: NewError(CodeInternal, "radio off")}},
	}
	for _, tc := range cases {
		got, err := DecodeActionEvent(json.RawMessage(tc.payload))
		require.NoError(t, err, tc.payload)
		assert.Equal(t, tc.want, got, tc.payload)
	}
}

func TestDecodeEventRejectsForeignTags(t *testing.T) {
	_, err := DecodeActionEvent(json.RawMessage(`{"type":"discover"}`))
	assert.True(t, errors.Is(err, ErrUnknownEvent))

	_, err = DecodeScanEvent(json.RawMessage(`{"type":"status","status":"SCANNING"}`))
	assert.True(t, errors.Is(err, ErrUnknownEvent))

	_, err = DecodeSyncEvent(json.RawMessage(`{"status":"SCANNING"}`))
	assert.True(t, errors.Is(err, ErrUnknownEvent))

	_, err = DecodeSyncEvent(json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}

func TestDecodeScanAndSyncEvents(t *testing.T) {
	ev, err := DecodeScanEvent(json.RawMessage(`{"type":"discover","hardware":{"id":"hw_1","name":"Front door","productId":"p","revisionId":"r","sessions":["s1"]}}`))
	require.NoError(t, err)
	d, ok := ev.(HardwareDiscovered)
	require.True(t, ok)
	assert.Equal(t, "hw_1", d.Hardware.ID)
	assert.Equal(t, []string{"s1"}, d.Hardware.Sessions)

	sev, err := DecodeSyncEvent(json.RawMessage(`{"type":"status_progress","percent":99.6}`))
	require.NoError(t, err)
	assert.Equal(t, SyncProgress{Percent: 99.6}, sev)

	sev, err = DecodeSyncEvent(json.RawMessage(`{"type":"status","status":"SYNCING_SERVER"}`))
	require.NoError(t, err)
	assert.Equal(t, SyncStatusChanged{Status: SyncSyncingServer}, sev)
}

func TestEncodeEvent(t *testing.T) {
	b, err := EncodeEvent(BluetoothProgress{Percent: 30})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"bluetooth_status_progress","percent":30}`, string(b))

	b, err = EncodeEvent(SyncFailed{Err: NewError(CodeBluetoothDeviceNotFound, "not found")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","error":{"code":"BLUETOOTH_DEVICE_NOT_FOUND","description":"not found"}}`, string(b))

	b, err = EncodeEvent(ScanSucceeded{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"success"}`, string(b))

	// Whatever the simulator encodes, the dispatcher must decode to the same value.
	in := InternetFailed{Err: &Error{Code: CodeInternetLocationOutOfRadius, Message: "far", Distance: new(float64)}}
	b, err = EncodeEvent(in)
	require.NoError(t, err)
	out, err := DecodeActionEvent(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
