package types

import (
	"errors"
	"time"
)

// Message kinds. The names are the wire contract with browser peers.
const (
	TypeSignal    = "signal"
	TypeChat      = "chat"
	TypeDraw      = "wb:draw"
	TypeClear     = "wb:clear"
	TypeFileStart = "file:start"
	TypeFileChunk = "file:chunk"

	// Generated by the server only.
	TypePeers      = "peers"
	TypePeerJoined = "peer-joined"
	TypePeerLeft   = "peer-left"
)

// ErrNoData is returned when decoding an envelope that carried no data.
var ErrNoData = errors.New("message has no data")

// ServerOnly reports whether a kind may only be produced by the server.
func ServerOnly(kind string) bool {
	switch kind {
	case TypePeers, TypePeerJoined, TypePeerLeft:
		return true
	}
	return false
}

// Envelope is the outbound message shape: a type tag plus an optional payload.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Decoder decodes a raw payload produced by the codec a frame was read with.
type Decoder interface {
	Decode(raw []byte, v any) error
}

// Inbound is a message read from a client, stamped with the sender's identity.
type Inbound struct {
	Type      string
	Raw       []byte
	ClientID  string
	Username  string
	Room      string
	Timestamp time.Time
	Codec     Decoder
}

// DecodeData decodes the payload into v.
func (m Inbound) DecodeData(v any) error {
	if len(m.Raw) == 0 || m.Codec == nil {
		return ErrNoData
	}
	return m.Codec.Decode(m.Raw, v)
}

// MessageHandler handles one inbound message kind.
type MessageHandler func(clientID string, msg Inbound) error

// Delivery addresses an envelope to a room (minus Exclude) or to a single Target.
type Delivery struct {
	Room     string   `json:"room,omitempty"`
	Exclude  string   `json:"exclude,omitempty"`
	Target   string   `json:"target,omitempty"`
	Envelope Envelope `json:"envelope"`
}

// SignalRequest is the inbound signal payload.
type SignalRequest struct {
	To   string `json:"to"`
	Data any    `json:"data"`
}

// SignalDelivery is what the signal target receives.
type SignalDelivery struct {
	From string `json:"from"`
	Data any    `json:"data"`
}

// ChatMessage is a chat line as delivered to room members.
type ChatMessage struct {
	From string `json:"from"`
	Msg  string `json:"msg"`
	TS   int64  `json:"ts"`
}

// Stroke is one whiteboard line segment.
type Stroke struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	PrevX float64 `json:"prevX"`
	PrevY float64 `json:"prevY"`
	Color string  `json:"color"`
}

// FileMeta announces a transfer. From is injected by the relay.
type FileMeta struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Size   int64  `json:"size"`
	From   string `json:"from,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
}

// FileChunk carries one slice of a transfer. Seq is optional and 0-based.
type FileChunk struct {
	ID    string  `json:"id"`
	Chunk []byte  `json:"chunk"`
	Seq   *uint64 `json:"seq,omitempty"`
}

// PeerJoined announces a new room member.
type PeerJoined struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// PeerLeft announces a departed room member.
type PeerLeft struct {
	ID string `json:"id"`
}

// ClientInfo holds metadata about a connected peer.
type ClientInfo struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Room        string    `json:"room"`
	Codec       string    `json:"codec"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte, binary bool) error
	Ping() error
	Close() error
}
