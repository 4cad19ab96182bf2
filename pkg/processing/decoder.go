package processing

import (
	"encoding/json"
	"fmt"

	customlog "github.com/open-ar/groundtracker/pkg/log"
)

// FrameDecoder validates and decodes raw frame payloads from the device
// bridge into FrameUpdates.
type FrameDecoder struct {
	logger   customlog.Logger
	registry *SessionRegistry
}

// NewFrameDecoder creates a new frame decoder
func NewFrameDecoder(logger customlog.Logger, registry *SessionRegistry) *FrameDecoder {
	return &FrameDecoder{
		logger:   logger,
		registry: registry,
	}
}

// Decode parses a JSON frame payload and checks it against the session
// registry. The camera forward vector must be non-zero; detection hits are
// optional and an absent list simply triggers the tracker fallback.
func (d *FrameDecoder) Decode(payload []byte) (*FrameUpdate, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty frame payload")
	}

	var update FrameUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return nil, fmt.Errorf("failed to parse frame payload: %w", err)
	}

	if update.SessionID == "" {
		return nil, fmt.Errorf("frame payload missing session_id")
	}

	if !d.registry.Exists(update.SessionID) {
		return nil, fmt.Errorf("unknown session '%s'", update.SessionID)
	}

	if update.Camera.Forward.Len() == 0 {
		return nil, fmt.Errorf("frame for session '%s' has a zero camera forward vector", update.SessionID)
	}

	if update.TimestampNs == 0 {
		update.TimestampNs = GetCurrentTimestamp()
	}

	d.logger.Debugf("Decoded frame for session '%s' (%d detection hits)",
		update.SessionID, len(update.Hits))

	return &update, nil
}
