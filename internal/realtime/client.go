// Package realtime delivers chat events to connected users: an
// in-process Hub of live connections, a Redis relay that fans events out
// across server instances, and the WebSocket client pumps.
package realtime

import "tastechat/backend/internal/models"

// Client is one live connection of a user.
type Client interface {
	// GetUserID returns the user the connection belongs to.
	GetUserID() string
	// GetSendChannel returns the channel the hub writes outgoing messages to.
	GetSendChannel() chan<- models.ChatMessage
	// Run starts the connection's pumps.
	Run()
	// Close releases the connection. It must be safe to call more than once.
	Close()
}
