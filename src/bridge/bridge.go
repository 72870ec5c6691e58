package bridge

import "github.com/orchestra-mcp/collab/src/types"

// Bridge defines the interface for cross-instance room delivery.
// Implementations relay deliveries between multiple relay instances.
type Bridge interface {
	// Publish sends a delivery to all other instances via the bridge.
	Publish(d types.Delivery) error

	// Start begins listening for deliveries from other instances.
	Start() error

	// Stop shuts down the bridge connection.
	Stop() error

	// Available reports whether the bridge is connected and operational.
	Available() bool
}

// BroadcastTarget is implemented by the Hub to receive deliveries from the bridge.
type BroadcastTarget interface {
	BroadcastToLocal(d types.Delivery)
}
