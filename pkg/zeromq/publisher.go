package zeromq

import (
	"fmt"
	"log"

	"github.com/open-ar/groundtracker/pkg/config"
	"github.com/open-ar/groundtracker/pkg/processing"
)

// SceneConfigProvider supplies the live scene configuration. Reading through
// the provider keeps the wire layer current across config updates, and the
// config may still be nil when no scene file has been loaded yet.
type SceneConfigProvider interface {
	GetCurrentConfig() *config.Config
}

// SceneConfigPublisher publishes scene configuration updates to subscribed
// AR clients
type SceneConfigPublisher struct {
	service *ZeroMQService
	configs SceneConfigProvider
	logger  *log.Logger
}

// NewSceneConfigPublisher creates a new publisher for scene configuration updates
func NewSceneConfigPublisher(service *ZeroMQService, configs SceneConfigProvider, logger *log.Logger) *SceneConfigPublisher {
	return &SceneConfigPublisher{
		service: service,
		configs: configs,
		logger:  logger,
	}
}

// PublishSceneConfig publishes the current scene configuration to all
// subscribed clients
func (p *SceneConfigPublisher) PublishSceneConfig() error {
	cfg := p.configs.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("no scene configuration loaded")
	}

	p.logger.Printf("Publishing scene configuration (ID: %s)", cfg.ConfigID)

	return p.service.PublishJSON("scene.configuration.update", MsgTypeSceneResponse, cfg)
}

// PublishSceneConfigNotification publishes a notification that the scene
// configuration has changed
func (p *SceneConfigPublisher) PublishSceneConfigNotification() error {
	cfg := p.configs.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("no scene configuration loaded")
	}

	p.logger.Printf("Publishing scene configuration notification")

	notification := map[string]interface{}{
		"config_id":    cfg.ConfigID,
		"version":      cfg.Version,
		"last_updated": cfg.LastUpdated,
	}

	return p.service.PublishJSON("scene.configuration.notification", "SCENE_CONFIG_UPDATED", notification)
}

// RegisterTrackerHandlers registers the tracker's wire handlers on the
// service and returns the scene config publisher
func RegisterTrackerHandlers(
	service *ZeroMQService,
	sessions SessionController,
	decoder *processing.FrameDecoder,
	configs SceneConfigProvider,
	logger *log.Logger,
) *SceneConfigPublisher {
	frameHandler := NewFrameHandler(sessions, decoder, logger)
	service.RegisterHandler(MsgTypeFrameUpdate, frameHandler)

	sessionHandler := NewSessionHandler(sessions, logger)
	service.RegisterHandlerFunc(MsgTypeSessionStart, sessionHandler.HandleStart)
	service.RegisterHandlerFunc(MsgTypeSessionEnd, sessionHandler.HandleEnd)
	service.RegisterHandlerFunc(MsgTypePlaceRequest, sessionHandler.HandlePlace)

	sceneHandler := NewSceneConfigHandler(configs, logger)
	service.RegisterHandler(MsgTypeSceneRequest, sceneHandler)

	publisher := NewSceneConfigPublisher(service, configs, logger)

	logger.Printf("Registered tracker handlers and scene config publisher")
	return publisher
}
