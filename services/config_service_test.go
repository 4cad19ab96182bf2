package services

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type nopLogger struct{}

func (nopLogger) Debugf(format string, args ...interface{}) {}
func (nopLogger) Infof(format string, args ...interface{})  {}
func (nopLogger) Warnf(format string, args ...interface{})  {}
func (nopLogger) Errorf(format string, args ...interface{}) {}
func (nopLogger) Fatalf(format string, args ...interface{}) {}

type notifyingPublisher struct {
	published chan struct{}
	notified  chan struct{}
}

func (p *notifyingPublisher) PublishSceneConfig() error {
	if p.published != nil {
		p.published <- struct{}{}
	}
	return nil
}

func (p *notifyingPublisher) PublishSceneConfigNotification() error {
	p.notified <- struct{}{}
	return nil
}

const testSceneYAML = `version: "1.0"
config_id: "scene-test-1"
device_id: "device-1"
tracking:
  max_fallback_distance_m: 15.0
object_mappings:
  - object_id: "obj-1"
    name: "Placement Indicator"
    role: "indicator"
`

func writeSceneConfig(t *testing.T, content string) string {
	t.Helper()

	dir, err := ioutil.TempDir("", "scene-config-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "scene_config.yaml")
	if err := ioutil.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestNewSceneConfigServiceLoadsConfig(t *testing.T) {
	path := writeSceneConfig(t, testSceneYAML)

	svc, err := NewSceneConfigService(path, nopLogger{})
	if err != nil {
		t.Fatalf("NewSceneConfigService failed: %v", err)
	}

	cfg := svc.GetCurrentConfig()
	if cfg == nil {
		t.Fatal("Expected config to be loaded")
	}
	if cfg.ConfigID != "scene-test-1" {
		t.Errorf("Expected config ID 'scene-test-1', got '%s'", cfg.ConfigID)
	}
	if len(cfg.ObjectMappings) != 1 {
		t.Errorf("Expected 1 object mapping, got %d", len(cfg.ObjectMappings))
	}
}

func TestNewSceneConfigServiceMissingFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "scene-config-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	// Service creation succeeds with a nil config; the file can arrive later
	svc, err := NewSceneConfigService(filepath.Join(dir, "missing.yaml"), nopLogger{})
	if err != nil {
		t.Fatalf("NewSceneConfigService failed: %v", err)
	}
	if svc.GetCurrentConfig() != nil {
		t.Error("Expected nil config when file is missing")
	}
}

func TestUpdateConfigPersistsAndNotifies(t *testing.T) {
	path := writeSceneConfig(t, testSceneYAML)

	svc, err := NewSceneConfigService(path, nopLogger{})
	if err != nil {
		t.Fatalf("NewSceneConfigService failed: %v", err)
	}

	publisher := &notifyingPublisher{
		published: make(chan struct{}, 1),
		notified:  make(chan struct{}, 1),
	}
	svc.SetPublisher(publisher)

	updated := `version: "1.1"
config_id: "scene-test-2"
device_id: "device-1"
`
	if err := svc.UpdateConfig([]byte(updated)); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}

	cfg := svc.GetCurrentConfig()
	if cfg.ConfigID != "scene-test-2" {
		t.Errorf("Expected config ID 'scene-test-2', got '%s'", cfg.ConfigID)
	}

	// The update must be durable
	raw, err := svc.GetCurrentConfigYAML()
	if err != nil {
		t.Fatalf("GetCurrentConfigYAML failed: %v", err)
	}
	if string(raw) != updated {
		t.Errorf("Persisted YAML does not match update")
	}

	select {
	case <-publisher.published:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for full config publication")
	}
	select {
	case <-publisher.notified:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for config notification")
	}
}

func TestUpdateConfigAfterMissingInitialFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "scene-config-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	// The scene file does not exist yet; it arrives through the API
	svc, err := NewSceneConfigService(filepath.Join(dir, "scene_config.yaml"), nopLogger{})
	if err != nil {
		t.Fatalf("NewSceneConfigService failed: %v", err)
	}

	publisher := &notifyingPublisher{notified: make(chan struct{}, 1)}
	svc.SetPublisher(publisher)

	if err := svc.UpdateConfig([]byte(testSceneYAML)); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}

	select {
	case <-publisher.notified:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for config notification")
	}

	cfg := svc.GetCurrentConfig()
	if cfg == nil || cfg.ConfigID != "scene-test-1" {
		t.Error("Expected first API-provided config to be applied")
	}
}

func TestUpdateConfigRejectsMissingFields(t *testing.T) {
	path := writeSceneConfig(t, testSceneYAML)

	svc, err := NewSceneConfigService(path, nopLogger{})
	if err != nil {
		t.Fatalf("NewSceneConfigService failed: %v", err)
	}

	if err := svc.UpdateConfig([]byte(`version: "1.0"`)); err == nil {
		t.Error("Expected validation error for missing fields")
	}
	if err := svc.UpdateConfig([]byte("{{not yaml")); err == nil {
		t.Error("Expected parse error for malformed YAML")
	}

	// The original config must be untouched after failed updates
	cfg := svc.GetCurrentConfig()
	if cfg == nil || cfg.ConfigID != "scene-test-1" {
		t.Error("Expected original config to remain after failed updates")
	}
}
