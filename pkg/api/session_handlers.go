package api

import (
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/open-ar/groundtracker/domain/session"
	customlog "github.com/open-ar/groundtracker/pkg/log"
)

// SessionHandler holds dependencies for session API endpoints.
type SessionHandler struct {
	sessions *session.Service
	logger   customlog.Logger
}

// NewSessionHandler creates a new handler for session endpoints.
func NewSessionHandler(sessions *session.Service, logger customlog.Logger) *SessionHandler {
	if sessions == nil {
		panic("SessionService cannot be nil in NewSessionHandler")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewSessionHandler")
	}
	return &SessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// RegisterSessionRoutes registers the session API endpoints with the Fiber app.
func RegisterSessionRoutes(app *fiber.App, sessions *session.Service, logger customlog.Logger) {
	h := NewSessionHandler(sessions, logger)

	apiGroup := app.Group("/api/sessions")

	apiGroup.Get("/", h.handleListSessions)
	apiGroup.Post("/", h.handleStartSession)
	apiGroup.Delete("/:id", h.handleEndSession)
	apiGroup.Get("/:id/pose", h.handleGetPose)
	apiGroup.Post("/:id/place", h.handlePlace)

	logger.Infof("Registered session API endpoints under /api/sessions")
}

// handleListSessions handles GET requests for all active sessions.
func (h *SessionHandler) handleListSessions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"sessions": h.sessions.List(),
	})
}

// handleStartSession handles POST requests to create a new session.
func (h *SessionHandler) handleStartSession(c *fiber.Ctx) error {
	var req SessionStartRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnf("Failed to parse session start request: %v", err)
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body.",
		})
	}

	info, err := h.sessions.StartSession(req.DeviceID)
	if err != nil {
		h.logger.Errorf("Failed to start session: %v", err)
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to start session: %v", err),
		})
	}

	return c.Status(http.StatusCreated).JSON(info)
}

// handleEndSession handles DELETE requests to tear down a session.
func (h *SessionHandler) handleEndSession(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	if err := h.sessions.EndSession(sessionID); err != nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to end session: %v", err),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Session ended.",
	})
}

// handleGetPose handles GET requests for the current ground pose snapshot.
func (h *SessionHandler) handleGetPose(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	snapshot, err := h.sessions.Snapshot(sessionID)
	if err != nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to get pose: %v", err),
		})
	}

	return c.JSON(snapshot)
}

// handlePlace handles POST requests to commit a placement.
func (h *SessionHandler) handlePlace(c *fiber.Ctx) error {
	sessionID := c.Params("id")

	if err := h.sessions.Place(sessionID); err != nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to place: %v", err),
		})
	}

	return c.JSON(fiber.Map{
		"message": "Placement committed.",
	})
}
