package akiles

import (
	"bytes"
	"encoding/json"
)

// NormalizeError converts a native failure payload into an *Error. It never returns nil.
//
// Objects with a non-empty "code" keep it; bare strings, objects without a code and
// anything unparsable become CodeInternal. The message prefers "description", then
// "message", then the payload text itself. Optional fields are copied when present and
// non-null, zero values included.
func NormalizeError(payload json.RawMessage) *Error {
	raw := bytes.TrimSpace(payload)
	if len(raw) == 0 {
		return NewError(CodeInternal, "null")
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return NewError(CodeInternal, s)
		}
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err == nil {
			return fromFields(fields, raw)
		}
	}

	// Numbers, arrays, null, or plain text that is not JSON at all.
	return NewError(CodeInternal, string(raw))
}

// fromFields builds the error key by key, so a field of an unexpected type is lost
// alone and never takes its siblings with it.
func fromFields(fields map[string]json.RawMessage, raw []byte) *Error {
	code, _ := field[ErrorCode](fields, "code")
	description, _ := field[string](fields, "description")
	message, _ := field[string](fields, "message")

	if code == "" {
		if message == "" {
			message = string(raw)
		}
		return NewError(CodeInternal, message)
	}

	e := &Error{Code: code}
	switch {
	case description != "":
		e.Message = description
	case message != "":
		e.Message = message
	default:
		e.Message = string(raw)
	}

	e.Reason, _ = field[PermissionDeniedReason](fields, "reason")
	e.StartsAt, _ = field[string](fields, "startsAt")
	e.EndsAt, _ = field[string](fields, "endsAt")
	e.Timezone, _ = field[string](fields, "timezone")
	if v, ok := field[Schedule](fields, "schedule"); ok {
		e.Schedule = &v
	}
	if v, ok := field[float64](fields, "waitTime"); ok {
		e.WaitTime = &v
	}
	if v, ok := field[SiteGeo](fields, "siteGeo"); ok {
		e.SiteGeo = &v
	}
	if v, ok := field[float64](fields, "distance"); ok {
		e.Distance = &v
	}
	return e
}

// field decodes fields[key]. Absent keys, JSON null and values of another type all
// report false.
func field[T any](fields map[string]json.RawMessage, key string) (T, bool) {
	var v T
	b, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return v, false
	}
	if err := json.Unmarshal(b, &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// TransportFailure renders a Go-side transport error as a failure payload, which
// NormalizeError turns into CodeInternal.
func TransportFailure(err error) json.RawMessage {
	b, _ := json.Marshal(err.Error())
	return b
}
