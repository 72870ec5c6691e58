package providers

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/collab/src/codec"
	"github.com/orchestra-mcp/collab/src/service"
	"github.com/orchestra-mcp/collab/src/types"
)

// RoomSummary is one entry of GET /api/rooms.
type RoomSummary struct {
	Room    string   `json:"room"`
	Members []string `json:"members"`
}

func (p *RelayServer) handleListClients(c fiber.Ctx) error {
	clients := p.service.GetConnectedClients()
	infos := make([]types.ClientInfo, 0, len(clients))
	for _, id := range clients {
		info, err := p.service.GetClientInfo(id)
		if err == nil {
			infos = append(infos, *info)
		}
	}
	return c.JSON(fiber.Map{
		"clients": infos,
		"count":   len(infos),
	})
}

func (p *RelayServer) handleListRooms(c fiber.Ctx) error {
	rooms := p.service.GetRooms()
	names := make([]string, 0, len(rooms))
	for name := range rooms {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]RoomSummary, 0, len(names))
	for _, name := range names {
		members, ok := p.hub.RoomMembers(name)
		if !ok {
			continue
		}
		result = append(result, RoomSummary{Room: name, Members: members})
	}
	return c.JSON(result)
}

type publishRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// handlePublish lets an authenticated caller post a chat line or whiteboard
// update to a room. The sender is always the caller's username.
func (p *RelayServer) handlePublish(c fiber.Ctx) error {
	token := c.Cookies(tokenCookie)
	if h := c.Get(fiber.HeaderAuthorization); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		token = strings.TrimSpace(h[7:])
	}
	identity, err := p.tokens.Verify(token)
	if err != nil {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req publishRequest
	if err := c.Bind().JSON(&req); err != nil || req.Type == "" {
		return errorJSON(c, fiber.StatusBadRequest, "type is required")
	}

	room := c.Params("room")
	err = p.service.Announce(room, identity.Username, req.Type, req.Data, codec.JSON)
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		return errorJSON(c, fiber.StatusNotFound, err.Error())
	case err != nil:
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	p.logger.Info().Str("room", room).Str("type", req.Type).Str("username", identity.Username).Msg("admin publish")
	return c.JSON(fiber.Map{"published": true, "room": room})
}
