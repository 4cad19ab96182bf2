package api

// --- Data Structures for API Messages ---

// SessionStartRequest is the body of POST /api/sessions.
type SessionStartRequest struct {
	DeviceID string `json:"device_id"`
}

// ClientCommand is an inbound WebSocket text message from a session client.
type ClientCommand struct {
	Type string `json:"type"`
}

// WebSocket command types
const (
	CommandPlace = "PLACE"
)
