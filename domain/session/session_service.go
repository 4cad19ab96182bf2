// Package session manages one ground tracker per connected AR device
// session: lifecycle, frame routing, placement triggers and pose fan-out.
package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/open-ar/groundtracker/domain/ground"
	"github.com/open-ar/groundtracker/domain/scene"
	"github.com/open-ar/groundtracker/pkg/config"
	customlog "github.com/open-ar/groundtracker/pkg/log"
	"github.com/open-ar/groundtracker/pkg/processing"
)

// PlacementTopic is the publish topic for committed placements
const PlacementTopic = "ground.placement.committed"

// ConfigProvider supplies the live scene configuration. The configuration
// can be replaced at runtime via the API, so tuning is read through the
// provider at session start rather than captured at construction.
type ConfigProvider interface {
	GetCurrentConfig() *config.Config
}

// PoseUpdate is one per-frame pose notification delivered to subscribers.
type PoseUpdate struct {
	SessionID   string      `json:"session_id"`
	TimestampNs int64       `json:"timestamp_ns"`
	Tracking    bool        `json:"tracking"`
	Pose        ground.Pose `json:"pose"`
}

// PoseSnapshot is the full observable state of a session at one instant.
type PoseSnapshot struct {
	SessionID  string          `json:"session_id"`
	DeviceID   string          `json:"device_id"`
	Tracking   bool            `json:"tracking"`
	Pose       ground.Pose     `json:"pose"`
	Indicator  scene.Transform `json:"indicator"`
	Target     scene.Transform `json:"target"`
	FrameCount int64           `json:"frame_count"`
}

// placementEvent is the serialized form of a committed placement
type placementEvent struct {
	SessionID string          `json:"session_id"`
	Tracking  bool            `json:"tracking"`
	Target    scene.Transform `json:"target"`
}

// detectionFeed adapts per-frame detection hits to the tracker's
// PlaneDetector collaborator. The session pipeline serializes writes, so the
// hits field never races with the tracker's query.
type detectionFeed struct {
	hits []ground.RaycastHit
}

func (f *detectionFeed) DetectPlane(screen ground.ScreenPoint) []ground.RaycastHit {
	return f.hits
}

// trackedSession bundles the per-session collaborators
type trackedSession struct {
	sessionID string
	deviceID  string
	tracker   *ground.Tracker
	feed      *detectionFeed
	indicator *scene.Node
	target    *scene.Node
}

// Service owns the active sessions and their trackers.
type Service struct {
	logger   customlog.Logger
	configs  ConfigProvider
	registry *processing.SessionRegistry
	director *processing.FrameDirector

	maxSessions int

	mu          sync.RWMutex
	sessions    map[string]*trackedSession
	subscribers map[string]map[int]chan PoseUpdate
	nextSubID   int
	publisher   processing.MessagePublisher
}

// NewService creates the session service and installs its frame processor on
// the director.
func NewService(
	configs ConfigProvider,
	registry *processing.SessionRegistry,
	director *processing.FrameDirector,
	maxSessions int,
	logger customlog.Logger,
) *Service {
	if registry == nil {
		panic("SessionRegistry cannot be nil in NewService")
	}
	if director == nil {
		panic("FrameDirector cannot be nil in NewService")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewService")
	}

	s := &Service{
		logger:      logger,
		configs:     configs,
		registry:    registry,
		director:    director,
		maxSessions: maxSessions,
		sessions:    make(map[string]*trackedSession),
		subscribers: make(map[string]map[int]chan PoseUpdate),
	}

	director.SetProcessor(s.processFrame)
	return s
}

// SetPublisher injects the publisher used for placement events.
func (s *Service) SetPublisher(p processing.MessagePublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
	s.logger.Infof("Publisher injected into session service")
}

// trackerOptions derives tracker tuning from the current scene config,
// falling back to the stock defaults for unset fields. Sessions started
// after a config update pick up the updated tuning.
func (s *Service) trackerOptions() ground.Options {
	opts := ground.DefaultOptions()
	if s.configs == nil {
		return opts
	}
	cfg := s.configs.GetCurrentConfig()
	if cfg == nil {
		return opts
	}
	if cfg.Tracking.MaxFallbackDistanceM > 0 {
		opts.MaxFallbackDistance = cfg.Tracking.MaxFallbackDistanceM
	}
	if cfg.Tracking.PlaceForwardOffsetM > 0 {
		opts.PlaceForwardOffset = cfg.Tracking.PlaceForwardOffsetM
	}
	if cfg.Tracking.PlaceDropOffsetM > 0 {
		opts.PlaceDropOffset = cfg.Tracking.PlaceDropOffsetM
	}
	return opts
}

// StartSession creates a tracker for a device and opens its frame pipeline.
func (s *Service) StartSession(deviceID string) (processing.SessionInfo, error) {
	if deviceID == "" {
		return processing.SessionInfo{}, fmt.Errorf("device ID cannot be empty")
	}

	s.mu.Lock()
	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		s.mu.Unlock()
		return processing.SessionInfo{}, fmt.Errorf("session limit reached (%d)", s.maxSessions)
	}

	sessionID := uuid.NewString()
	feed := &detectionFeed{}
	indicator := scene.NewNode(sessionID+"/indicator", scene.RoleIndicator, nil)
	target := scene.NewNode(sessionID+"/target", scene.RoleTarget, nil)
	tracker := ground.NewTracker(feed, indicator, target, s.trackerOptions(), s.logger)

	s.sessions[sessionID] = &trackedSession{
		sessionID: sessionID,
		deviceID:  deviceID,
		tracker:   tracker,
		feed:      feed,
		indicator: indicator,
		target:    target,
	}
	s.mu.Unlock()

	startedNs := processing.GetCurrentTimestamp()
	s.registry.Register(sessionID, deviceID, startedNs)

	if err := s.director.OpenPipeline(sessionID); err != nil {
		s.registry.Remove(sessionID)
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		return processing.SessionInfo{}, fmt.Errorf("failed to open frame pipeline: %w", err)
	}

	s.logger.Infof("Started session %s for device %s", sessionID, deviceID)

	info, _ := s.registry.GetSessionInfo(sessionID)
	return *info, nil
}

// EndSession tears down a session's pipeline and tracker.
func (s *Service) EndSession(sessionID string) error {
	s.mu.Lock()
	_, exists := s.sessions[sessionID]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("unknown session '%s'", sessionID)
	}
	delete(s.sessions, sessionID)

	subs := s.subscribers[sessionID]
	delete(s.subscribers, sessionID)
	s.mu.Unlock()

	s.director.ClosePipeline(sessionID)
	s.registry.Remove(sessionID)

	for _, ch := range subs {
		close(ch)
	}

	s.logger.Infof("Ended session %s", sessionID)
	return nil
}

// HandleFrame enqueues a device frame for processing.
func (s *Service) HandleFrame(update *processing.FrameUpdate) error {
	return s.director.RouteFrame(update)
}

// processFrame is the frame processor installed on the director. It runs on
// the session's single pipeline worker, which keeps the estimator the only
// writer of the tracker state.
func (s *Service) processFrame(update *processing.FrameUpdate) (*processing.FrameResult, error) {
	s.mu.RLock()
	sess, exists := s.sessions[update.SessionID]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown session '%s'", update.SessionID)
	}

	sess.feed.hits = update.Hits
	sess.tracker.OnFrame(update.Camera)

	result := &processing.FrameResult{
		SessionID:   update.SessionID,
		Pose:        sess.tracker.CurrentGroundPose(),
		Tracking:    sess.tracker.Tracking(),
		TimestampNs: update.TimestampNs,
	}

	s.notifySubscribers(PoseUpdate{
		SessionID:   result.SessionID,
		TimestampNs: result.TimestampNs,
		Tracking:    result.Tracking,
		Pose:        result.Pose,
	})

	return result, nil
}

// Place commits the target object's transform for a session.
func (s *Service) Place(sessionID string) error {
	s.mu.RLock()
	sess, exists := s.sessions[sessionID]
	publisher := s.publisher
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("unknown session '%s'", sessionID)
	}

	sess.tracker.Place()

	if publisher != nil {
		event := placementEvent{
			SessionID: sessionID,
			Tracking:  sess.tracker.Tracking(),
			Target:    sess.target.Snapshot(),
		}
		data, err := json.Marshal(event)
		if err != nil {
			s.logger.Errorf("Failed to serialize placement event for session '%s': %v", sessionID, err)
		} else if err := publisher.PublishMessage(PlacementTopic, data); err != nil {
			s.logger.Warnf("Failed to publish placement event for session '%s': %v", sessionID, err)
		}
	}

	return nil
}

// Snapshot returns the current observable state of a session.
func (s *Service) Snapshot(sessionID string) (PoseSnapshot, error) {
	s.mu.RLock()
	sess, exists := s.sessions[sessionID]
	s.mu.RUnlock()

	if !exists {
		return PoseSnapshot{}, fmt.Errorf("unknown session '%s'", sessionID)
	}

	return PoseSnapshot{
		SessionID:  sessionID,
		DeviceID:   sess.deviceID,
		Tracking:   sess.tracker.Tracking(),
		Pose:       sess.tracker.CurrentGroundPose(),
		Indicator:  sess.indicator.Snapshot(),
		Target:     sess.target.Snapshot(),
		FrameCount: sess.tracker.FrameCount(),
	}, nil
}

// List returns the registry's view of all active sessions.
func (s *Service) List() []processing.SessionInfo {
	return s.registry.ListSessions()
}

// Subscribe registers a pose update subscriber for a session. The returned
// cancel function must be called when the subscriber goes away; the channel
// is closed when the session ends.
func (s *Service) Subscribe(sessionID string) (<-chan PoseUpdate, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; !exists {
		return nil, nil, fmt.Errorf("unknown session '%s'", sessionID)
	}

	if s.subscribers[sessionID] == nil {
		s.subscribers[sessionID] = make(map[int]chan PoseUpdate)
	}

	id := s.nextSubID
	s.nextSubID++

	ch := make(chan PoseUpdate, 8)
	s.subscribers[sessionID][id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.subscribers[sessionID]; ok {
			if sub, ok := subs[id]; ok {
				delete(subs, id)
				close(sub)
			}
		}
	}

	return ch, cancel, nil
}

// notifySubscribers fans a pose update out without blocking the pipeline. A
// slow subscriber loses updates rather than stalling frame processing.
func (s *Service) notifySubscribers(update PoseUpdate) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers[update.SessionID] {
		select {
		case ch <- update:
		default:
		}
	}
}
