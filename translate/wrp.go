package translate

import (
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/xmidt-org/wrp-go/v3"
)

const (
	defaultWRPSource      = "dns:akiles-client"
	defaultWRPDestination = "dns:akiles-host/AKILES"
	frameContentType      = "application/json"
)

// WRPCodec wraps each JSON frame in a msgpack WRP SimpleRequestResponse message, so
// bridge traffic can cross WRP routers unchanged. The frame ID doubles as the
// transaction UUID.
type WRPCodec struct {
	Source      string // defaults to dns:akiles-client
	Destination string // defaults to dns:akiles-host/AKILES
}

func (WRPCodec) MessageType() int { return websocket.BinaryMessage }

func (c WRPCodec) EncodeRequest(r Request) ([]byte, error) {
	inner, err := JSONCodec{}.EncodeRequest(r)
	if err != nil {
		return nil, err
	}
	return c.wrap(r.ID, c.source(), c.destination(), inner)
}

func (c WRPCodec) DecodeRequest(b []byte) (Request, error) {
	inner, err := unwrap(b)
	if err != nil {
		return Request{}, err
	}
	return decodeRequest(inner)
}

// EncodeReply sends replies back with source and destination swapped.
func (c WRPCodec) EncodeReply(r Reply) ([]byte, error) {
	inner, err := JSONCodec{}.EncodeReply(r)
	if err != nil {
		return nil, err
	}
	return c.wrap(r.ID, c.destination(), c.source(), inner)
}

func (c WRPCodec) DecodeReply(b []byte) (Reply, error) {
	inner, err := unwrap(b)
	if err != nil {
		return Reply{}, err
	}
	return decodeReply(inner)
}

func (c WRPCodec) source() string {
	if c.Source == "" {
		return defaultWRPSource
	}
	return c.Source
}

func (c WRPCodec) destination() string {
	if c.Destination == "" {
		return defaultWRPDestination
	}
	return c.Destination
}

func (WRPCodec) wrap(id, src, dst string, payload []byte) ([]byte, error) {
	msg := wrp.Message{
		Type:            wrp.SimpleRequestResponseMessageType,
		Source:          src,
		Destination:     dst,
		TransactionUUID: id,
		ContentType:     frameContentType,
		Payload:         payload,
	}
	var out []byte
	if err := wrp.NewEncoderBytes(&out, wrp.Msgpack).Encode(&msg); err != nil {
		return nil, fmt.Errorf("wrp: encode: %w", err)
	}
	return out, nil
}

func unwrap(b []byte) ([]byte, error) {
	var msg wrp.Message
	if err := wrp.NewDecoderBytes(b, wrp.Msgpack).Decode(&msg); err != nil {
		return nil, fmt.Errorf("wrp: decode: %w", err)
	}
	if msg.Type != wrp.SimpleRequestResponseMessageType {
		return nil, fmt.Errorf("wrp: unexpected message type %s", msg.Type)
	}
	return msg.Payload, nil
}
