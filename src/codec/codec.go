package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/orchestra-mcp/collab/src/types"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes envelopes for one connection and decodes what it reads.
type Codec interface {
	types.Decoder
	Name() string
	// Binary reports whether frames are sent as binary WebSocket messages.
	Binary() bool
	Marshal(env types.Envelope) ([]byte, error)
	Unmarshal(data []byte) (Frame, error)
}

// Frame is a decoded envelope whose payload is still in codec form.
type Frame struct {
	Type string
	Raw  []byte
}

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

// Lookup returns the codec registered under name. An empty name selects JSON.
func Lookup(name string) (Codec, bool) {
	switch name {
	case "", "json":
		return JSON, true
	case "msgpack":
		return Msgpack, true
	}
	return nil, false
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Marshal(env types.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (jsonCodec) Unmarshal(data []byte) (Frame, error) {
	var in struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return Frame{}, fmt.Errorf("decode json frame: %w", err)
	}
	raw := []byte(in.Data)
	if bytes.Equal(raw, []byte("null")) {
		raw = nil
	}
	return Frame{Type: in.Type, Raw: raw}, nil
}

func (jsonCodec) Decode(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}

// msgpackCodec reuses the json struct tags so payload types need one tag set.
type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Marshal(env types.Envelope) ([]byte, error) {
	return MarshalMsgpack(env)
}

func (msgpackCodec) Unmarshal(data []byte) (Frame, error) {
	var in struct {
		Type string             `json:"type"`
		Data msgpack.RawMessage `json:"data"`
	}
	if err := UnmarshalMsgpack(data, &in); err != nil {
		return Frame{}, fmt.Errorf("decode msgpack frame: %w", err)
	}
	raw := []byte(in.Data)
	if len(raw) == 1 && raw[0] == 0xc0 {
		raw = nil
	}
	return Frame{Type: in.Type, Raw: raw}, nil
}

func (msgpackCodec) Decode(raw []byte, v any) error {
	return UnmarshalMsgpack(raw, v)
}

// MarshalMsgpack encodes v using json struct tags. Whole floats are written as
// integers so payloads that passed through JSON still decode into int fields.
func MarshalMsgpack(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactFloats(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalMsgpack decodes data into v using json struct tags.
func UnmarshalMsgpack(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
