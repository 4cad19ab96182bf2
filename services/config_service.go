package services

import (
	"fmt"
	"io/ioutil"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/open-ar/groundtracker/pkg/config"
	customlog "github.com/open-ar/groundtracker/pkg/log"
)

// SceneConfigPublisher defines the interface for publishing scene
// configuration changes. This avoids a direct dependency on the concrete
// ZeroMQService implementation.
type SceneConfigPublisher interface {
	PublishSceneConfig() error
	PublishSceneConfigNotification() error
}

// SceneConfigService defines the interface for managing the operational
// scene configuration.
type SceneConfigService interface {
	LoadConfig() error
	GetCurrentConfig() *config.Config
	GetCurrentConfigYAML() ([]byte, error)
	UpdateConfig(newConfigYAML []byte) error
	PersistConfig(yamlData []byte) error
	SetPublisher(p SceneConfigPublisher)
}

// sceneConfigService implements the SceneConfigService interface.
type sceneConfigService struct {
	sceneConfigPath string
	logger          customlog.Logger
	publisher       SceneConfigPublisher
	currentConfig   *config.Config
	mu              sync.RWMutex
}

// NewSceneConfigService creates a new SceneConfigService.
// Publisher can be set later via SetPublisher.
func NewSceneConfigService(sceneConfigPath string, logger customlog.Logger) (SceneConfigService, error) {
	if sceneConfigPath == "" {
		return nil, fmt.Errorf("scene configuration path cannot be empty")
	}
	if logger == nil {
		logger, _ = customlog.NewLogrusLogger("info", "")
		logger.Warnf("No logger provided to SceneConfigService, using default.")
	}

	service := &sceneConfigService{
		sceneConfigPath: sceneConfigPath,
		logger:          logger,
		publisher:       nil,
		mu:              sync.RWMutex{},
	}

	// Attempt initial load; the file may not exist yet and can arrive via the API
	if err := service.LoadConfig(); err != nil {
		logger.Warnf("Initial load of scene config '%s' failed: %v. Service created, but config is nil.", sceneConfigPath, err)
		return service, nil
	}

	logger.Infof("SceneConfigService initialized successfully for path: %s", sceneConfigPath)
	return service, nil
}

// LoadConfig reads the scene config file from disk and updates the currentConfig.
func (s *sceneConfigService) LoadConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infof("Loading scene configuration from: %s", s.sceneConfigPath)
	data, err := ioutil.ReadFile(s.sceneConfigPath)
	if err != nil {
		s.logger.Errorf("Error reading scene config file '%s': %v", s.sceneConfigPath, err)
		s.currentConfig = nil
		return fmt.Errorf("error reading scene config file '%s': %w", s.sceneConfigPath, err)
	}

	cfg, err := config.ParseConfig(data)
	if err != nil {
		s.logger.Errorf("Error parsing scene config file '%s': %v", s.sceneConfigPath, err)
		s.currentConfig = nil
		return fmt.Errorf("error parsing scene config file '%s': %w", s.sceneConfigPath, err)
	}

	s.currentConfig = cfg
	s.logger.Infof("Successfully loaded scene configuration ID: %s, Version: %s", cfg.ConfigID, cfg.Version)
	return nil
}

// GetCurrentConfig returns a pointer to the currently loaded scene configuration.
// It's read-only; modifications should go through UpdateConfig.
func (s *sceneConfigService) GetCurrentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentConfig
}

// GetCurrentConfigYAML reads the scene config file from disk and returns its
// raw YAML content, for clients that edit the file as text.
func (s *sceneConfigService) GetCurrentConfigYAML() ([]byte, error) {
	s.mu.RLock()
	path := s.sceneConfigPath
	s.mu.RUnlock()

	s.logger.Debugf("Reading raw scene configuration YAML from: %s", path)
	data, err := ioutil.ReadFile(path)
	if err != nil {
		s.logger.Errorf("Error reading scene config file '%s' for YAML export: %v", path, err)
		return nil, fmt.Errorf("error reading scene config file '%s': %w", path, err)
	}
	return data, nil
}

// UpdateConfig validates, persists and applies the new scene configuration,
// then publishes a notification.
func (s *sceneConfigService) UpdateConfig(newConfigYAML []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infof("Attempting to update scene configuration from provided YAML")

	var newCfg config.Config
	if err := yaml.Unmarshal(newConfigYAML, &newCfg); err != nil {
		s.logger.Errorf("Failed to parse provided YAML configuration: %v", err)
		return fmt.Errorf("invalid YAML format: %w", err)
	}
	if newCfg.ConfigID == "" || newCfg.Version == "" || newCfg.DeviceID == "" {
		s.logger.Errorf("Validation failed: Missing required fields (ConfigID, Version, DeviceID) in provided YAML.")
		return fmt.Errorf("validation failed: missing required fields (ConfigID, Version, DeviceID)")
	}

	// Persist the new configuration YAML before applying it
	if err := s.persistConfigUnlocked(newConfigYAML); err != nil {
		return err
	}

	oldCfgID := "N/A"
	if s.currentConfig != nil {
		oldCfgID = s.currentConfig.ConfigID
	}
	s.currentConfig = &newCfg
	s.logger.Infof("Successfully updated and persisted scene configuration. ID %s -> %s, Version: %s", oldCfgID, s.currentConfig.ConfigID, s.currentConfig.Version)

	// Notify subscribed clients without blocking the update path: the full
	// config on its update topic, then the change notification
	if s.publisher != nil {
		go func(publisher SceneConfigPublisher) {
			if err := publisher.PublishSceneConfig(); err != nil {
				s.logger.Warnf("Failed to publish updated scene config: %v", err)
			}
			s.logger.Debugf("Attempting to publish scene config notification...")
			if err := publisher.PublishSceneConfigNotification(); err != nil {
				s.logger.Warnf("Failed to publish scene config notification: %v", err)
			} else {
				s.logger.Infof("Published scene config notification successfully.")
			}
		}(s.publisher)
	} else {
		s.logger.Infof("SceneConfigPublisher not configured, skipping update notification.")
	}

	return nil
}

// PersistConfig writes the given YAML data to the scene config file path.
// Exposed mainly for testing or external triggers.
func (s *sceneConfigService) PersistConfig(yamlData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistConfigUnlocked(yamlData)
}

// persistConfigUnlocked is the internal implementation for writing the
// config file. The caller holds the lock.
func (s *sceneConfigService) persistConfigUnlocked(yamlData []byte) error {
	s.logger.Infof("Persisting scene configuration to: %s", s.sceneConfigPath)
	err := ioutil.WriteFile(s.sceneConfigPath, yamlData, 0644)
	if err != nil {
		s.logger.Errorf("Error writing scene config file '%s': %v", s.sceneConfigPath, err)
		return fmt.Errorf("error writing scene config file '%s': %w", s.sceneConfigPath, err)
	}
	s.logger.Infof("Successfully persisted scene configuration to %s", s.sceneConfigPath)
	return nil
}

// SetPublisher allows injecting the SceneConfigPublisher after initialization.
func (s *sceneConfigService) SetPublisher(p SceneConfigPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
	s.logger.Infof("SceneConfigPublisher injected into SceneConfigService.")
}
