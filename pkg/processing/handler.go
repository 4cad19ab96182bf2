package processing

import (
	"encoding/json"

	customlog "github.com/open-ar/groundtracker/pkg/log"
)

// MessagePublisher defines the interface for publishing messages
type MessagePublisher interface {
	PublishMessage(topic string, data []byte) error
}

// PoseUpdateTopic is the publish topic for per-frame pose results
const PoseUpdateTopic = "ground.pose.update"

// PoseResultHandler logs frame results and publishes pose updates
type PoseResultHandler struct {
	logger    customlog.Logger
	publisher MessagePublisher
}

// poseUpdateMessage is the serialized form of a frame result
type poseUpdateMessage struct {
	SessionID   string      `json:"session_id"`
	TimestampNs int64       `json:"timestamp_ns"`
	Tracking    bool        `json:"tracking"`
	Pose        interface{} `json:"pose"`
}

// NewPoseResultHandler creates a new pose result handler
func NewPoseResultHandler(logger customlog.Logger, publisher MessagePublisher) *PoseResultHandler {
	return &PoseResultHandler{
		logger:    logger,
		publisher: publisher,
	}
}

// HandleResult handles a processed frame result
func (h *PoseResultHandler) HandleResult(result *FrameResult) {
	if result.Error != nil {
		h.logger.Errorf("Error processing frame for session '%s': %v", result.SessionID, result.Error)
		return
	}

	h.logger.Debugf("Processed frame for session '%s' (timestamp: %d, tracking: %v)",
		result.SessionID, result.TimestampNs, result.Tracking)

	if h.publisher == nil {
		return
	}

	msg := poseUpdateMessage{
		SessionID:   result.SessionID,
		TimestampNs: result.TimestampNs,
		Tracking:    result.Tracking,
		Pose:        result.Pose,
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorf("Failed to serialize pose update for session '%s': %v", result.SessionID, err)
		return
	}

	if err := h.publisher.PublishMessage(PoseUpdateTopic, jsonData); err != nil {
		h.logger.Errorf("Failed to publish pose update for session '%s': %v", result.SessionID, err)
	} else {
		h.logger.Debugf("Published pose update for session '%s'", result.SessionID)
	}
}

// CreateHandlerFunc creates a ResultHandler function for the FramePipeline
func (h *PoseResultHandler) CreateHandlerFunc() ResultHandler {
	return func(result *FrameResult) {
		if result == nil {
			h.logger.Errorf("Received nil FrameResult")
			return
		}
		h.HandleResult(result)
	}
}
