package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	customlog "github.com/open-ar/groundtracker/pkg/log"
	"github.com/open-ar/groundtracker/services"
)

// ConfigHandler holds dependencies for scene configuration API endpoints.
type ConfigHandler struct {
	configService services.SceneConfigService
	logger        customlog.Logger
}

// NewConfigHandler creates a new handler for scene configuration endpoints.
func NewConfigHandler(configService services.SceneConfigService, logger customlog.Logger) *ConfigHandler {
	if configService == nil {
		panic("ConfigService cannot be nil in NewConfigHandler")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewConfigHandler")
	}
	return &ConfigHandler{
		configService: configService,
		logger:        logger,
	}
}

// RegisterConfigRoutes registers the scene configuration API endpoints with the Fiber app.
func RegisterConfigRoutes(app *fiber.App, configService services.SceneConfigService, logger customlog.Logger) {
	h := NewConfigHandler(configService, logger)

	apiGroup := app.Group("/api/v1/config")

	// GET endpoint to retrieve the current scene configuration as YAML
	apiGroup.Get("/scene", h.handleGetSceneConfig)

	// PUT endpoint to update the scene configuration
	apiGroup.Put("/scene", h.handleUpdateSceneConfig)

	logger.Infof("Registered scene configuration API endpoints under /api/v1/config")
}

// handleGetSceneConfig handles GET requests to retrieve the current scene config YAML.
func (h *ConfigHandler) handleGetSceneConfig(c *fiber.Ctx) error {
	h.logger.Debugf("Handling GET request for /api/v1/config/scene")
	yamlData, err := h.configService.GetCurrentConfigYAML()
	if err != nil {
		h.logger.Errorf("Failed to get current scene config YAML: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to retrieve configuration: %v", err),
		})
	}

	if yamlData == nil {
		h.logger.Warnf("Scene config file exists but content is empty or initial load failed.")
		return c.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": "Scene configuration not found or not yet set.",
		})
	}

	c.Set(fiber.HeaderContentType, "application/x-yaml")
	return c.Send(yamlData)
}

// handleUpdateSceneConfig handles PUT requests to update the scene config YAML.
func (h *ConfigHandler) handleUpdateSceneConfig(c *fiber.Ctx) error {
	h.logger.Debugf("Handling PUT request for /api/v1/config/scene")

	contentType := c.Get(fiber.HeaderContentType)
	if contentType != "application/x-yaml" && contentType != "application/yaml" && contentType != "text/yaml" {
		// Relaxed check, try to process anyway but log a warning
		h.logger.Warnf("Received PUT request with incorrect Content-Type: %s", contentType)
	}

	newConfigYAML := c.Body()
	if len(newConfigYAML) == 0 {
		h.logger.Errorf("Received empty body in PUT request for scene config update.")
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Request body cannot be empty.",
		})
	}

	err := h.configService.UpdateConfig(newConfigYAML)
	if err != nil {
		h.logger.Errorf("Failed to update scene configuration: %v", err)
		if strings.Contains(err.Error(), "validation failed") || strings.Contains(err.Error(), "invalid YAML") {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("Configuration update failed: %v", err),
			})
		}
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Internal server error during configuration update: %v", err),
		})
	}

	h.logger.Infof("Successfully processed PUT request to update scene configuration.")
	return c.JSON(fiber.Map{
		"message": "Scene configuration updated successfully.",
	})
}
