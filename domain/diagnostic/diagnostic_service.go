package diagnostic

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/open-ar/groundtracker/pkg/processing"
)

// TrackerMetrics represents a rollup of the tracker's runtime health
type TrackerMetrics struct {
	Timestamp      time.Time                             `json:"timestamp"`
	UptimeSeconds  float64                               `json:"uptime_seconds"`
	ActiveSessions int                                   `json:"active_sessions"`
	Sessions       map[string]map[string]interface{}     `json:"sessions"`
	Pipelines      map[string]processing.PipelineMetrics `json:"pipelines"`
}

// DiagnosticService aggregates frame pipeline and session statistics
type DiagnosticService struct {
	mu        sync.RWMutex
	registry  *processing.SessionRegistry
	director  *processing.FrameDirector
	startTime time.Time
}

// NewDiagnosticService creates a new diagnostic service instance
func NewDiagnosticService(registry *processing.SessionRegistry, director *processing.FrameDirector) *DiagnosticService {
	return &DiagnosticService{
		registry:  registry,
		director:  director,
		startTime: time.Now(),
	}
}

// GetMetrics returns the current tracker metrics
func (s *DiagnosticService) GetMetrics() TrackerMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return TrackerMetrics{
		Timestamp:      time.Now(),
		UptimeSeconds:  time.Since(s.startTime).Seconds(),
		ActiveSessions: s.registry.Count(),
		Sessions:       s.registry.GetSessionStats(),
		Pipelines:      s.director.GetPipelineMetrics(),
	}
}

// GetMetricsHandler handles API requests for tracker metrics
func (s *DiagnosticService) GetMetricsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"metrics": s.GetMetrics(),
	})
}
