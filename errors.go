package akiles

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNilBridge        = errors.New("bridge is nil")
	ErrNotConnected     = errors.New("bridge not connected")
	ErrConnectionClosed = errors.New("bridge connection closed")
	ErrUnknownEvent     = errors.New("unknown event type")
	ErrInvalidFrame     = errors.New("invalid frame")
	ErrInvalidParameter = errors.New("invalid parameter")
)

// ErrorCode is the closed set of error kinds reported by the native SDK.
type ErrorCode string

const (
	CodeInternal                                 ErrorCode = "INTERNAL"
	CodeInvalidParam                             ErrorCode = "INVALID_PARAM"
	CodeInvalidSession                           ErrorCode = "INVALID_SESSION"
	CodePermissionDenied                         ErrorCode = "PERMISSION_DENIED"
	CodeAllCommMethodsFailed                     ErrorCode = "ALL_COMM_METHODS_FAILED"
	CodeInternetNotAvailable                     ErrorCode = "INTERNET_NOT_AVAILABLE"
	CodeInternetDeviceOffline                    ErrorCode = "INTERNET_DEVICE_OFFLINE"
	CodeInternetLocationOutOfRadius              ErrorCode = "INTERNET_LOCATION_OUT_OF_RADIUS"
	CodeInternetNotPermitted                     ErrorCode = "INTERNET_NOT_PERMITTED"
	CodeBluetoothDeviceNotFound                  ErrorCode = "BLUETOOTH_DEVICE_NOT_FOUND"
	CodeBluetoothDisabled                        ErrorCode = "BLUETOOTH_DISABLED"
	CodeBluetoothNotAvailable                    ErrorCode = "BLUETOOTH_NOT_AVAILABLE"
	CodeBluetoothPermissionNotGranted            ErrorCode = "BLUETOOTH_PERMISSION_NOT_GRANTED"
	CodeBluetoothPermissionNotGrantedPermanently ErrorCode = "BLUETOOTH_PERMISSION_NOT_GRANTED_PERMANENTLY"
	CodeTimeout                                  ErrorCode = "TIMEOUT"
	CodeCanceled                                 ErrorCode = "CANCELED"
	CodeNFCNotAvailable                          ErrorCode = "NFC_NOT_AVAILABLE"
	CodeNFCReadError                             ErrorCode = "NFC_READ_ERROR"
	CodeNFCCardNotCompatible                     ErrorCode = "NFC_CARD_NOT_COMPATIBLE"
	CodeLocationDisabled                         ErrorCode = "LOCATION_DISABLED"
	CodeLocationNotAvailable                     ErrorCode = "LOCATION_NOT_AVAILABLE"
	CodeLocationPermissionNotGranted             ErrorCode = "LOCATION_PERMISSION_NOT_GRANTED"
	CodeLocationPermissionNotGrantedPermanently  ErrorCode = "LOCATION_PERMISSION_NOT_GRANTED_PERMANENTLY"
	CodeLocationFailed                           ErrorCode = "LOCATION_FAILED"
)

// PermissionDeniedReason refines CodePermissionDenied.
type PermissionDeniedReason string

const (
	ReasonOther                PermissionDeniedReason = "OTHER"
	ReasonMemberNotStarted     PermissionDeniedReason = "MEMBER_NOT_STARTED"
	ReasonMemberEnded          PermissionDeniedReason = "MEMBER_ENDED"
	ReasonOutOfSchedule        PermissionDeniedReason = "OUT_OF_SCHEDULE"
	ReasonOrganizationDisabled PermissionDeniedReason = "ORGANIZATION_DISABLED"
)

// Error is a normalized native error. Which optional fields are set depends on Code:
// SiteGeo and Distance go with CodeInternetLocationOutOfRadius, the rest with
// CodePermissionDenied and its Reason.
type Error struct {
	Code    ErrorCode
	Message string

	Reason   PermissionDeniedReason
	StartsAt string // RFC3339, ReasonMemberNotStarted
	EndsAt   string // RFC3339, ReasonMemberEnded
	Schedule *Schedule
	WaitTime *float64 // seconds until in schedule
	Timezone string   // TZDB name
	SiteGeo  *SiteGeo
	Distance *float64 // meters
}

// NewError builds an Error with just a code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("akiles: %s: %s", e.Code, e.Message)
}

// Is matches another *Error with the same code, so errors.Is(err, NewError(CodeCanceled, ""))
// works across wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// nativeError is the payload shape the native plugins send on their failure path.
type nativeError struct {
	Code        ErrorCode              `json:"code"`
	Description string                 `json:"description,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Reason      PermissionDeniedReason `json:"reason,omitempty"`
	StartsAt    string                 `json:"startsAt,omitempty"`
	EndsAt      string                 `json:"endsAt,omitempty"`
	Schedule    *Schedule              `json:"schedule,omitempty"`
	WaitTime    *float64               `json:"waitTime,omitempty"`
	Timezone    string                 `json:"timezone,omitempty"`
	SiteGeo     *SiteGeo               `json:"siteGeo,omitempty"`
	Distance    *float64               `json:"distance,omitempty"`
}

// MarshalJSON encodes e in the native failure shape, which NormalizeError reads back.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(nativeError{
		Code:        e.Code,
		Description: e.Message,
		Reason:      e.Reason,
		StartsAt:    e.StartsAt,
		EndsAt:      e.EndsAt,
		Schedule:    e.Schedule,
		WaitTime:    e.WaitTime,
		Timezone:    e.Timezone,
		SiteGeo:     e.SiteGeo,
		Distance:    e.Distance,
	})
}

// CodeOf returns the ErrorCode carried by err, or "" when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
