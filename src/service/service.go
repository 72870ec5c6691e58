package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/orchestra-mcp/collab/src/hub"
	"github.com/orchestra-mcp/collab/src/types"
	"github.com/rs/zerolog"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrUnsupportedKind = errors.New("kind cannot be announced")
)

// Options tunes relay behaviour.
type Options struct {
	// EchoChat delivers chat lines to the sender as well.
	EchoChat bool
	// Now stamps chat lines. Defaults to time.Now.
	Now func() time.Time
}

// Service provides the room relay API on top of the hub.
type Service struct {
	hub      *hub.Hub
	logger   zerolog.Logger
	echoChat bool
	now      func() time.Time
}

// New creates a relay service backed by the given hub.
func New(h *hub.Hub, logger zerolog.Logger, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		hub:      h,
		logger:   logger.With().Str("component", "relay").Logger(),
		echoChat: opts.EchoChat,
		now:      now,
	}
}

// Hub returns the underlying hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// RegisterHandler registers a message handler for an inbound type.
func (s *Service) RegisterHandler(kind string, handler types.MessageHandler) {
	s.hub.RegisterHandler(kind, handler)
	s.logger.Debug().Str("type", kind).Msg("handler registered")
}

// Publish sends an envelope to every member of room.
func (s *Service) Publish(room string, env types.Envelope) error {
	if room == "" {
		return fmt.Errorf("room is required")
	}
	if _, ok := s.hub.RoomMembers(room); !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, room)
	}
	s.hub.Publish(types.Delivery{Room: room, Envelope: env})
	return nil
}

// Announce publishes a chat or whiteboard message to every member of room on
// behalf of username. The payload is normalized like a member's message, so
// the sender name always comes from username.
func (s *Service) Announce(room, username, kind string, raw []byte, dec types.Decoder) error {
	msg := types.Inbound{Type: kind, Raw: raw, Username: username, Room: room, Timestamp: s.now(), Codec: dec}

	var env types.Envelope
	var err error
	switch kind {
	case types.TypeChat:
		env, err = s.chatEnvelope(msg)
	case types.TypeDraw:
		env, err = drawEnvelope(msg)
	case types.TypeClear:
		env = types.Envelope{Type: types.TypeClear}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
	if err != nil {
		return err
	}
	return s.Publish(room, env)
}

// SendToClient sends an envelope directly to a specific client.
func (s *Service) SendToClient(clientID string, env types.Envelope) error {
	if ok := s.hub.SendToClient(clientID, env); !ok {
		return fmt.Errorf("client %s not found or buffer full", clientID)
	}
	return nil
}

// OnConnection registers a callback for new room members.
func (s *Service) OnConnection(cb func(types.ClientInfo)) {
	s.hub.OnConnection(cb)
}

// OnDisconnection registers a callback for departed members.
func (s *Service) OnDisconnection(cb func(types.ClientInfo)) {
	s.hub.OnDisconnection(cb)
}

// GetConnectedClients returns IDs of all connected clients.
func (s *Service) GetConnectedClients() []string {
	return s.hub.ConnectedClients()
}

// GetRooms returns active rooms with member counts.
func (s *Service) GetRooms() map[string]int {
	return s.hub.Rooms()
}

// GetClientInfo returns info for a connected client, or error.
func (s *Service) GetClientInfo(clientID string) (*types.ClientInfo, error) {
	info := s.hub.ClientInfo(clientID)
	if info == nil {
		return nil, fmt.Errorf("client %s not found", clientID)
	}
	return info, nil
}
