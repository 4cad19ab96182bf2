package session

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/open-ar/groundtracker/domain/ground"
	"github.com/open-ar/groundtracker/pkg/config"
	"github.com/open-ar/groundtracker/pkg/processing"
)

type nopLogger struct{}

func (nopLogger) Debugf(format string, args ...interface{}) {}
func (nopLogger) Infof(format string, args ...interface{})  {}
func (nopLogger) Warnf(format string, args ...interface{})  {}
func (nopLogger) Errorf(format string, args ...interface{}) {}
func (nopLogger) Fatalf(format string, args ...interface{}) {}

type capturingPublisher struct {
	topics   []string
	payloads [][]byte
}

func (p *capturingPublisher) PublishMessage(topic string, data []byte) error {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, data)
	return nil
}

type stubConfigProvider struct {
	mu  sync.Mutex
	cfg *config.Config
}

func (p *stubConfigProvider) GetCurrentConfig() *config.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *stubConfigProvider) swap(cfg *config.Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

func newTestService(t *testing.T, maxSessions int) (*Service, *processing.FrameDirector) {
	t.Helper()

	registry := processing.NewSessionRegistry(nopLogger{})
	director := processing.NewFrameDirector(nopLogger{}, registry, &processing.DirectorOptions{DefaultQueueSize: 8})
	svc := NewService(nil, registry, director, maxSessions, nopLogger{})

	director.Start()
	t.Cleanup(director.Stop)

	return svc, director
}

func waitForFrames(t *testing.T, svc *Service, sessionID string, want int64) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := svc.Snapshot(sessionID)
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if snap.FrameCount >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d frames on session %s", want, sessionID)
}

func TestStartSessionCreatesTracker(t *testing.T) {
	svc, _ := newTestService(t, 0)

	info, err := svc.StartSession("device-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if info.SessionID == "" {
		t.Error("Expected non-empty session ID")
	}
	if info.DeviceID != "device-1" {
		t.Errorf("Expected device ID 'device-1', got '%s'", info.DeviceID)
	}

	snap, err := svc.Snapshot(info.SessionID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Tracking {
		t.Error("New session should not be tracking before any frames")
	}
	if !snap.Pose.IsIdentity() {
		t.Error("New session pose should be the identity sentinel")
	}
}

func TestStartSessionUsesCurrentConfigTuning(t *testing.T) {
	registry := processing.NewSessionRegistry(nopLogger{})
	director := processing.NewFrameDirector(nopLogger{}, registry, &processing.DirectorOptions{DefaultQueueSize: 8})
	provider := &stubConfigProvider{cfg: &config.Config{
		Tracking: config.TrackingConfig{MaxFallbackDistanceM: 5},
	}}
	svc := NewService(provider, registry, director, 0, nopLogger{})

	director.Start()
	t.Cleanup(director.Stop)

	first, err := svc.StartSession("device-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	// Live config update: sessions started afterwards get the new tuning
	provider.swap(&config.Config{
		Tracking: config.TrackingConfig{MaxFallbackDistanceM: 9},
	})

	second, err := svc.StartSession("device-2")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	// A near-horizontal view with no detection hits forces the fallback
	// estimate out to the configured distance clamp.
	for _, sessionID := range []string{first.SessionID, second.SessionID} {
		err := svc.HandleFrame(&processing.FrameUpdate{
			SessionID: sessionID,
			Camera: ground.CameraFrame{
				Position: mgl64.Vec3{0, 1.6, 0},
				Forward:  mgl64.Vec3{0, -0.1, 1},
			},
		})
		if err != nil {
			t.Fatalf("HandleFrame failed: %v", err)
		}
		waitForFrames(t, svc, sessionID, 1)
	}

	firstSnap, err := svc.Snapshot(first.SessionID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if z := firstSnap.Pose.Position.Z(); z > 6 {
		t.Errorf("Expected first session clamped near 5m, got z=%.3f", z)
	}

	secondSnap, err := svc.Snapshot(second.SessionID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if z := secondSnap.Pose.Position.Z(); z < 8 {
		t.Errorf("Expected second session clamped near 9m, got z=%.3f", z)
	}
}

func TestStartSessionRejectsEmptyDevice(t *testing.T) {
	svc, _ := newTestService(t, 0)

	if _, err := svc.StartSession(""); err == nil {
		t.Error("Expected error for empty device ID")
	}
}

func TestSessionLimitEnforced(t *testing.T) {
	svc, _ := newTestService(t, 1)

	if _, err := svc.StartSession("device-1"); err != nil {
		t.Fatalf("First StartSession failed: %v", err)
	}
	if _, err := svc.StartSession("device-2"); err == nil {
		t.Error("Expected error when session limit is reached")
	}
}

func TestFrameUpdatesGroundPose(t *testing.T) {
	svc, _ := newTestService(t, 0)

	info, err := svc.StartSession("device-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	hitPose := ground.Pose{
		Position:    mgl64.Vec3{1, 0, 3},
		Orientation: mgl64.QuatIdent(),
	}
	err = svc.HandleFrame(&processing.FrameUpdate{
		SessionID: info.SessionID,
		Camera: ground.CameraFrame{
			Position: mgl64.Vec3{0, 1.6, 0},
			Forward:  mgl64.Vec3{0, 0, 1},
		},
		Hits: []ground.RaycastHit{{Pose: hitPose}},
	})
	if err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}

	waitForFrames(t, svc, info.SessionID, 1)

	snap, err := svc.Snapshot(info.SessionID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if !snap.Tracking {
		t.Error("Session should be tracking after a detection hit")
	}
	if snap.Pose.Position != hitPose.Position {
		t.Errorf("Expected pose position %v, got %v", hitPose.Position, snap.Pose.Position)
	}
	if snap.Indicator.Position != hitPose.Position {
		t.Errorf("Expected indicator at %v, got %v", hitPose.Position, snap.Indicator.Position)
	}
}

func TestSubscriberReceivesPoseUpdates(t *testing.T) {
	svc, _ := newTestService(t, 0)

	info, err := svc.StartSession("device-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	ch, cancel, err := svc.Subscribe(info.SessionID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	err = svc.HandleFrame(&processing.FrameUpdate{
		SessionID: info.SessionID,
		Camera: ground.CameraFrame{
			Position: mgl64.Vec3{0, 1.6, 0},
			Forward:  mgl64.Vec3{0, 0, 1},
		},
		Hits: []ground.RaycastHit{{Pose: ground.Pose{
			Position:    mgl64.Vec3{0, 0, 2},
			Orientation: mgl64.QuatIdent(),
		}}},
	})
	if err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}

	select {
	case update := <-ch:
		if update.SessionID != info.SessionID {
			t.Errorf("Expected session ID '%s', got '%s'", info.SessionID, update.SessionID)
		}
		if !update.Tracking {
			t.Error("Expected tracking update after a detection hit")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for pose update")
	}
}

func TestPlacePublishesPlacementEvent(t *testing.T) {
	svc, _ := newTestService(t, 0)
	publisher := &capturingPublisher{}
	svc.SetPublisher(publisher)

	info, err := svc.StartSession("device-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	err = svc.HandleFrame(&processing.FrameUpdate{
		SessionID: info.SessionID,
		Camera: ground.CameraFrame{
			Position: mgl64.Vec3{0, 1.6, 0},
			Forward:  mgl64.Vec3{0, 0, 1},
		},
		Hits: []ground.RaycastHit{{Pose: ground.Pose{
			Position:    mgl64.Vec3{0, 0, 4},
			Orientation: mgl64.QuatIdent(),
		}}},
	})
	if err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}
	waitForFrames(t, svc, info.SessionID, 1)

	if err := svc.Place(info.SessionID); err != nil {
		t.Fatalf("Place failed: %v", err)
	}

	if len(publisher.topics) != 1 {
		t.Fatalf("Expected 1 published event, got %d", len(publisher.topics))
	}
	if publisher.topics[0] != PlacementTopic {
		t.Errorf("Expected topic '%s', got '%s'", PlacementTopic, publisher.topics[0])
	}

	var event placementEvent
	if err := json.Unmarshal(publisher.payloads[0], &event); err != nil {
		t.Fatalf("Failed to decode placement event: %v", err)
	}
	if event.Target.Position != (mgl64.Vec3{0, 0, 4}) {
		t.Errorf("Expected target at ground position, got %v", event.Target.Position)
	}
}

func TestPlaceUnknownSession(t *testing.T) {
	svc, _ := newTestService(t, 0)

	if err := svc.Place("no-such-session"); err == nil {
		t.Error("Expected error for unknown session")
	}
}

func TestEndSessionClosesSubscribers(t *testing.T) {
	svc, _ := newTestService(t, 0)

	info, err := svc.StartSession("device-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	ch, _, err := svc.Subscribe(info.SessionID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := svc.EndSession(info.SessionID); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	select {
	case _, open := <-ch:
		if open {
			t.Error("Expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for channel close")
	}

	if _, err := svc.Snapshot(info.SessionID); err == nil {
		t.Error("Expected error for ended session")
	}

	if err := svc.EndSession(info.SessionID); err == nil {
		t.Error("Expected error ending a session twice")
	}
}
