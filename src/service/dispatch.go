package service

import (
	"errors"
	"fmt"

	"github.com/orchestra-mcp/collab/src/transfer"
	"github.com/orchestra-mcp/collab/src/types"
)

// DeliveryMode selects who receives a relayed message.
type DeliveryMode int

const (
	// Unicast delivers to one named connection.
	Unicast DeliveryMode = iota
	// BroadcastOthers delivers to every room member except the sender.
	BroadcastOthers
	// BroadcastAll delivers to every room member including the sender.
	BroadcastAll
)

// RegisterRelayHandlers wires every client-originated message kind.
func (s *Service) RegisterRelayHandlers() {
	s.RegisterHandler(types.TypeSignal, s.handleSignal)
	s.RegisterHandler(types.TypeChat, s.handleChat)
	s.RegisterHandler(types.TypeDraw, s.handleDraw)
	s.RegisterHandler(types.TypeClear, s.handleClear)
	s.RegisterHandler(types.TypeFileStart, s.handleFileStart)
	s.RegisterHandler(types.TypeFileChunk, s.handleFileChunk)
}

func (s *Service) relay(msg types.Inbound, mode DeliveryMode, target string, env types.Envelope) {
	switch mode {
	case Unicast:
		s.hub.Deliver(types.Delivery{Target: target, Envelope: env})
	case BroadcastOthers:
		s.hub.Deliver(types.Delivery{Room: msg.Room, Exclude: msg.ClientID, Envelope: env})
	case BroadcastAll:
		s.hub.Deliver(types.Delivery{Room: msg.Room, Envelope: env})
	}
}

func (s *Service) handleSignal(clientID string, msg types.Inbound) error {
	var req types.SignalRequest
	if err := msg.DecodeData(&req); err != nil {
		return fmt.Errorf("decode signal: %w", err)
	}
	if req.To == "" {
		return errors.New("signal without target")
	}
	s.relay(msg, Unicast, req.To, types.Envelope{
		Type: types.TypeSignal,
		Data: types.SignalDelivery{From: clientID, Data: req.Data},
	})
	return nil
}

func (s *Service) handleChat(_ string, msg types.Inbound) error {
	env, err := s.chatEnvelope(msg)
	if err != nil {
		return err
	}
	mode := BroadcastOthers
	if s.echoChat {
		mode = BroadcastAll
	}
	s.relay(msg, mode, "", env)
	return nil
}

// chatEnvelope accepts either a bare string or {"msg": "..."} and stamps the
// line with the sender's username.
func (s *Service) chatEnvelope(msg types.Inbound) (types.Envelope, error) {
	var text string
	if err := msg.DecodeData(&text); err != nil {
		var req struct {
			Msg string `json:"msg"`
		}
		if err := msg.DecodeData(&req); err != nil {
			return types.Envelope{}, fmt.Errorf("decode chat: %w", err)
		}
		text = req.Msg
	}
	return types.Envelope{
		Type: types.TypeChat,
		Data: types.ChatMessage{From: msg.Username, Msg: text, TS: s.now().UnixMilli()},
	}, nil
}

func (s *Service) handleDraw(_ string, msg types.Inbound) error {
	env, err := drawEnvelope(msg)
	if err != nil {
		return err
	}
	s.relay(msg, BroadcastOthers, "", env)
	return nil
}

// drawEnvelope forwards the stroke without interpreting it.
func drawEnvelope(msg types.Inbound) (types.Envelope, error) {
	var stroke any
	if err := msg.DecodeData(&stroke); err != nil {
		return types.Envelope{}, fmt.Errorf("decode stroke: %w", err)
	}
	return types.Envelope{Type: types.TypeDraw, Data: stroke}, nil
}

func (s *Service) handleClear(_ string, msg types.Inbound) error {
	s.relay(msg, BroadcastOthers, "", types.Envelope{Type: types.TypeClear})
	return nil
}

// handleFileStart validates the announcement and forwards every field the
// sender set, with from replaced by the sender's username.
func (s *Service) handleFileStart(_ string, msg types.Inbound) error {
	var meta types.FileMeta
	if err := msg.DecodeData(&meta); err != nil {
		return fmt.Errorf("decode file:start: %w", err)
	}
	if err := transfer.ValidateMeta(meta); err != nil {
		return err
	}
	var fields map[string]any
	if err := msg.DecodeData(&fields); err != nil {
		return fmt.Errorf("decode file:start: %w", err)
	}
	fields["from"] = msg.Username
	s.relay(msg, BroadcastOthers, "", types.Envelope{Type: types.TypeFileStart, Data: fields})
	return nil
}

func (s *Service) handleFileChunk(_ string, msg types.Inbound) error {
	var chunk types.FileChunk
	if err := msg.DecodeData(&chunk); err != nil {
		return fmt.Errorf("decode file:chunk: %w", err)
	}
	if chunk.ID == "" {
		return fmt.Errorf("file:chunk: %w", transfer.ErrUnknownTransfer)
	}
	s.relay(msg, BroadcastOthers, "", types.Envelope{Type: types.TypeFileChunk, Data: chunk})
	return nil
}
