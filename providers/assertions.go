package providers

import (
	"github.com/orchestra-mcp/collab/src/auth"
	"github.com/orchestra-mcp/collab/src/bridge"
	"github.com/orchestra-mcp/collab/src/hub"
	"github.com/orchestra-mcp/collab/src/types"
)

// Compile-time interface assertions.
var (
	_ bridge.Bridge          = (*bridge.RedisBridge)(nil)
	_ hub.MessageBridge      = (*bridge.RedisBridge)(nil)
	_ bridge.BroadcastTarget = (*hub.Hub)(nil)
	_ auth.UserDirectory     = (*auth.MemoryDirectory)(nil)
	_ auth.UserDirectory     = (*auth.RedisDirectory)(nil)
	_ types.Conn             = (*fasthttpConn)(nil)
)
