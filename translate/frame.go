package translate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const jsonrpcVersion = "2.0"

var (
	errMissingID     = errors.New("frame: missing id")
	errMissingMethod = errors.New("frame: missing method")
	errBadMethod     = errors.New("frame: method must be <service>.<action>")
)

// Request carries one bridge Exec call: method is "<service>.<action>", params the
// argument array.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// Reply carries one payload for a request. Exactly one of Result or Error is set; while
// KeepCallback is true more replies with the same ID follow.
type Reply struct {
	JSONRPC      string          `json:"jsonrpc"`
	ID           string          `json:"id"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        json.RawMessage `json:"error,omitempty"`
	KeepCallback bool            `json:"keepCallback,omitempty"`
}

// NewRequest builds a request frame with a fresh ID.
func NewRequest(service, action string, args []any) Request {
	if args == nil {
		args = []any{}
	}
	return Request{JSONRPC: jsonrpcVersion, ID: uuid.NewString(), Method: service + "." + action, Params: args}
}

// Target splits Method into service and action.
func (r Request) Target() (service, action string, err error) {
	i := strings.LastIndexByte(r.Method, '.')
	if i <= 0 || i == len(r.Method)-1 {
		return "", "", fmt.Errorf("%w: %q", errBadMethod, r.Method)
	}
	return r.Method[:i], r.Method[i+1:], nil
}

// Result builds a success reply.
func Result(id string, payload json.RawMessage, keep bool) Reply {
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = json.RawMessage("null")
	}
	return Reply{JSONRPC: jsonrpcVersion, ID: id, Result: payload, KeepCallback: keep}
}

// Failure builds an error reply. An empty or null payload is sent as the string "null"
// so the reply still reads as a failure.
func Failure(id string, payload json.RawMessage) Reply {
	p := bytes.TrimSpace(payload)
	if len(p) == 0 || string(p) == "null" {
		payload = json.RawMessage(`"null"`)
	}
	return Reply{JSONRPC: jsonrpcVersion, ID: id, Error: payload}
}

// Failed reports whether r travels on the failure path.
func (r Reply) Failed() bool { return len(r.Error) > 0 }

// Codec turns frames into websocket messages and back.
type Codec interface {
	// MessageType is the websocket message type frames are sent with.
	MessageType() int
	EncodeRequest(Request) ([]byte, error)
	DecodeRequest([]byte) (Request, error)
	EncodeReply(Reply) ([]byte, error)
	DecodeReply([]byte) (Reply, error)
}

// CodecByName returns the codec for "json" (the default when name is empty) or "wrp".
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSONCodec{}, nil
	case "wrp", "msgpack":
		return WRPCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

// JSONCodec sends frames as plain JSON text messages.
type JSONCodec struct{}

func (JSONCodec) MessageType() int { return websocket.TextMessage }

func (JSONCodec) EncodeRequest(r Request) ([]byte, error) { return json.Marshal(r) }

func (JSONCodec) DecodeRequest(b []byte) (Request, error) { return decodeRequest(b) }

func (JSONCodec) EncodeReply(r Reply) ([]byte, error) { return json.Marshal(r) }

func (JSONCodec) DecodeReply(b []byte) (Reply, error) { return decodeReply(b) }

func decodeRequest(b []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("frame: decode request: %w", err)
	}
	if r.ID == "" {
		return r, errMissingID
	}
	if r.Method == "" {
		return r, errMissingMethod
	}
	if r.Params == nil {
		r.Params = []any{}
	}
	return r, nil
}

func decodeReply(b []byte) (Reply, error) {
	var r Reply
	if err := json.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("frame: decode reply: %w", err)
	}
	if r.ID == "" {
		return r, errMissingID
	}
	if string(r.Error) == "null" {
		r.Error = nil
	}
	if !r.Failed() && len(r.Result) == 0 {
		r.Result = json.RawMessage("null")
	}
	return r, nil
}
