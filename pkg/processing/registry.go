package processing

import (
	"sync"

	customlog "github.com/open-ar/groundtracker/pkg/log"
)

// SessionInfo holds metadata for a tracked device session
type SessionInfo struct {
	SessionID    string `json:"session_id"`
	DeviceID     string `json:"device_id"`
	StartedNs    int64  `json:"started_ns"`
	FrameCount   int64  `json:"frame_count"`
	LastFrameNs  int64  `json:"last_frame_ns"`
	DroppedCount int64  `json:"dropped_count"`
}

// SessionRegistry maintains information about active sessions
type SessionRegistry struct {
	logger   customlog.Logger
	sessions map[string]*SessionInfo
	mu       sync.RWMutex
}

// NewSessionRegistry creates a new session registry
func NewSessionRegistry(logger customlog.Logger) *SessionRegistry {
	return &SessionRegistry{
		logger:   logger,
		sessions: make(map[string]*SessionInfo),
		mu:       sync.RWMutex{},
	}
}

// Register adds a session to the registry
func (r *SessionRegistry) Register(sessionID, deviceID string, startedNs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sessionID] = &SessionInfo{
		SessionID: sessionID,
		DeviceID:  deviceID,
		StartedNs: startedNs,
	}

	r.logger.Infof("Registered session %s for device %s", sessionID, deviceID)
}

// Remove deletes a session from the registry
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
	r.logger.Infof("Removed session %s", sessionID)
}

// GetSessionInfo gets a copy of the info for a session
func (r *SessionRegistry) GetSessionInfo(sessionID string) (*SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.sessions[sessionID]
	if !exists {
		return nil, false
	}

	// Return a copy to avoid race conditions
	infoCopy := *info
	return &infoCopy, true
}

// Exists reports whether a session is registered
func (r *SessionRegistry) Exists(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.sessions[sessionID]
	return exists
}

// UpdateFrameStats updates per-session frame statistics
func (r *SessionRegistry) UpdateFrameStats(sessionID string, timestampNs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.sessions[sessionID]
	if !exists {
		return
	}

	info.FrameCount++
	info.LastFrameNs = timestampNs
}

// RecordDrop counts a dropped frame for a session
func (r *SessionRegistry) RecordDrop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.sessions[sessionID]
	if !exists {
		return
	}

	info.DroppedCount++
}

// ListSessions returns a copy of all registered sessions
func (r *SessionRegistry) ListSessions() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]SessionInfo, 0, len(r.sessions))
	for _, info := range r.sessions {
		sessions = append(sessions, *info)
	}

	return sessions
}

// Count returns the number of registered sessions
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// GetSessionStats returns a map of session statistics
func (r *SessionRegistry) GetSessionStats() map[string]map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]map[string]interface{})

	for sessionID, info := range r.sessions {
		stats[sessionID] = map[string]interface{}{
			"device_id":     info.DeviceID,
			"frame_count":   info.FrameCount,
			"last_frame_ns": info.LastFrameNs,
			"dropped":       info.DroppedCount,
			"started_ns":    info.StartedNs,
		}
	}

	return stats
}
