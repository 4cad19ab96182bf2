package zeromq

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/open-ar/groundtracker/pkg/processing"
)

// SessionController is the subset of the session service the wire handlers
// need. Wiring in main supplies the concrete service.
type SessionController interface {
	StartSession(deviceID string) (processing.SessionInfo, error)
	EndSession(sessionID string) error
	HandleFrame(update *processing.FrameUpdate) error
	Place(sessionID string) error
}

// ackData is the payload of an ACK response
type ackData struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// FrameHandler handles FRAME_UPDATE messages
type FrameHandler struct {
	sessions SessionController
	decoder  *processing.FrameDecoder
	logger   *log.Logger
}

// NewFrameHandler creates a new handler for device frame updates
func NewFrameHandler(sessions SessionController, decoder *processing.FrameDecoder, logger *log.Logger) *FrameHandler {
	return &FrameHandler{
		sessions: sessions,
		decoder:  decoder,
		logger:   logger,
	}
}

// HandleMessage processes a FRAME_UPDATE payload and enqueues it for the
// session's pipeline
func (h *FrameHandler) HandleMessage(data []byte) ([]byte, error) {
	update, err := h.decoder.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame update: %w", err)
	}

	if err := h.sessions.HandleFrame(update); err != nil {
		return nil, fmt.Errorf("failed to route frame: %w", err)
	}

	return MarshalMessage(MsgTypeAck, ackData{
		Status:    "OK",
		SessionID: update.SessionID,
	})
}

// sessionStartRequest is the payload of a SESSION_START message
type sessionStartRequest struct {
	DeviceID string `json:"device_id"`
}

// sessionRequest is the payload of SESSION_END and PLACE_REQUEST messages
type sessionRequest struct {
	SessionID string `json:"session_id"`
}

// SessionHandler handles SESSION_START, SESSION_END and PLACE_REQUEST messages
type SessionHandler struct {
	sessions SessionController
	logger   *log.Logger
}

// NewSessionHandler creates a new handler for session lifecycle requests
func NewSessionHandler(sessions SessionController, logger *log.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// HandleStart processes a SESSION_START payload
func (h *SessionHandler) HandleStart(data []byte) ([]byte, error) {
	var req sessionStartRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse session start request: %w", err)
	}

	info, err := h.sessions.StartSession(req.DeviceID)
	if err != nil {
		return nil, err
	}

	h.logger.Printf("Session %s started for device %s", info.SessionID, info.DeviceID)
	return MarshalMessage(MsgTypeAck, ackData{
		Status:    "OK",
		SessionID: info.SessionID,
	})
}

// HandleEnd processes a SESSION_END payload
func (h *SessionHandler) HandleEnd(data []byte) ([]byte, error) {
	var req sessionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse session end request: %w", err)
	}

	if err := h.sessions.EndSession(req.SessionID); err != nil {
		return nil, err
	}

	return MarshalMessage(MsgTypeAck, ackData{
		Status:    "OK",
		SessionID: req.SessionID,
	})
}

// HandlePlace processes a PLACE_REQUEST payload
func (h *SessionHandler) HandlePlace(data []byte) ([]byte, error) {
	var req sessionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse place request: %w", err)
	}

	if err := h.sessions.Place(req.SessionID); err != nil {
		return nil, err
	}

	h.logger.Printf("Placement committed for session %s", req.SessionID)
	return MarshalMessage(MsgTypeAck, ackData{
		Status:    "OK",
		SessionID: req.SessionID,
		Message:   "placement committed",
	})
}

// SceneConfigHandler handles SCENE_REQUEST messages
type SceneConfigHandler struct {
	configs SceneConfigProvider
	logger  *log.Logger
}

// NewSceneConfigHandler creates a new handler for scene configuration requests
func NewSceneConfigHandler(configs SceneConfigProvider, logger *log.Logger) *SceneConfigHandler {
	return &SceneConfigHandler{
		configs: configs,
		logger:  logger,
	}
}

// HandleMessage processes a SCENE_REQUEST and returns a SCENE_RESPONSE with
// the current scene configuration
func (h *SceneConfigHandler) HandleMessage(data []byte) ([]byte, error) {
	h.logger.Printf("Processing scene configuration request")

	cfg := h.configs.GetCurrentConfig()
	if cfg == nil {
		return nil, fmt.Errorf("no scene configuration loaded")
	}

	responseData, err := MarshalMessage(MsgTypeSceneResponse, cfg)
	if err != nil {
		h.logger.Printf("Error serializing response: %v", err)
		return nil, fmt.Errorf("failed to serialize response: %w", err)
	}

	h.logger.Printf("Sending scene configuration response (%d bytes)", len(responseData))
	return responseData, nil
}
