package akiles

import (
	"github.com/rs/zerolog"
)

// AuthStrategy acquires an authorization header value (e.g., "Bearer ...") for bridges
// that reach the native host over the network.
type AuthStrategy interface {
	AuthorizationValue() (string, error)
}

// StaticAuth implements AuthStrategy using a pre-specified token value.
type StaticAuth struct{ Value string }

func (s StaticAuth) AuthorizationValue() (string, error) { return s.Value, nil }

// Options configures a Client.
type Options struct {
	// Service is the native plugin name every call is addressed to.
	Service string
	// OpIDs generates operation IDs; defaults to NewOpID.
	OpIDs  func() string
	Logger zerolog.Logger
}

// DefaultOptions gives the settings the native plugins expect.
func DefaultOptions() Options {
	return Options{
		Service: ServiceName,
		OpIDs:   NewOpID,
		Logger:  zerolog.Nop(),
	}
}
