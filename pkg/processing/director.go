package processing

import (
	"fmt"
	"sync"
	"time"

	customlog "github.com/open-ar/groundtracker/pkg/log"
)

// GetCurrentTimestamp gets the current timestamp in nanoseconds
func GetCurrentTimestamp() int64 {
	return time.Now().UnixNano()
}

// FrameDirector routes frame updates to the owning session's pipeline
type FrameDirector struct {
	logger        customlog.Logger
	registry      *SessionRegistry
	pipelines     map[string]*FramePipeline
	processor     FrameProcessor
	resultHandler ResultHandler
	running       bool
	mu            sync.RWMutex

	// Default settings
	defaultQueueSize int
}

// DirectorOptions holds configuration options for the FrameDirector
type DirectorOptions struct {
	DefaultQueueSize int
}

// NewFrameDirector creates a new frame director
func NewFrameDirector(
	logger customlog.Logger,
	registry *SessionRegistry,
	options *DirectorOptions,
) *FrameDirector {
	// Set default options if not provided
	if options == nil {
		options = &DirectorOptions{
			DefaultQueueSize: 32, // Roughly half a second of frames at 60Hz
		}
	}

	return &FrameDirector{
		logger:           logger,
		registry:         registry,
		pipelines:        make(map[string]*FramePipeline),
		defaultQueueSize: options.DefaultQueueSize,
		running:          false,
		mu:               sync.RWMutex{},
	}
}

// SetProcessor sets the frame processor function for all pipelines
func (d *FrameDirector) SetProcessor(processor FrameProcessor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.processor = processor

	for _, pipeline := range d.pipelines {
		pipeline.SetProcessor(processor)
	}
}

// SetResultHandler sets the result handler function for all pipelines
func (d *FrameDirector) SetResultHandler(handler ResultHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.resultHandler = handler

	for _, pipeline := range d.pipelines {
		pipeline.SetResultHandler(handler)
	}
}

// OpenPipeline creates and starts a pipeline for a session
func (d *FrameDirector) OpenPipeline(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return fmt.Errorf("frame director is not running")
	}

	if _, exists := d.pipelines[sessionID]; exists {
		return fmt.Errorf("pipeline for session '%s' already exists", sessionID)
	}

	pipeline := NewFramePipeline(sessionID, d.defaultQueueSize, d.logger)
	pipeline.SetProcessor(d.processor)
	pipeline.SetResultHandler(d.resultHandler)
	pipeline.Start()

	d.pipelines[sessionID] = pipeline
	d.logger.Infof("Opened frame pipeline for session %s (queue size %d)", sessionID, d.defaultQueueSize)
	return nil
}

// ClosePipeline stops and removes a session's pipeline
func (d *FrameDirector) ClosePipeline(sessionID string) {
	d.mu.Lock()
	pipeline, exists := d.pipelines[sessionID]
	delete(d.pipelines, sessionID)
	d.mu.Unlock()

	if !exists {
		return
	}

	pipeline.Stop()
	d.logger.Infof("Closed frame pipeline for session %s", sessionID)
}

// RouteFrame routes a frame update to its session's pipeline
func (d *FrameDirector) RouteFrame(update *FrameUpdate) error {
	d.mu.RLock()
	running := d.running
	pipeline, exists := d.pipelines[update.SessionID]
	d.mu.RUnlock()

	if !running {
		return fmt.Errorf("frame director is not running")
	}

	if !exists {
		return fmt.Errorf("no pipeline for session '%s'", update.SessionID)
	}

	if !pipeline.Enqueue(update) {
		d.registry.RecordDrop(update.SessionID)
		return fmt.Errorf("failed to enqueue frame for session '%s'", update.SessionID)
	}

	d.registry.UpdateFrameStats(update.SessionID, update.TimestampNs)
	return nil
}

// Start starts the director
func (d *FrameDirector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}

	d.running = true
	d.logger.Infof("Starting Frame Director")
}

// Stop stops the director and all pipelines
func (d *FrameDirector) Stop() {
	d.mu.Lock()
	running := d.running
	d.running = false
	pipelines := make([]*FramePipeline, 0, len(d.pipelines))
	for _, pipeline := range d.pipelines {
		pipelines = append(pipelines, pipeline)
	}
	d.pipelines = make(map[string]*FramePipeline)
	d.mu.Unlock()

	if !running {
		return
	}

	d.logger.Infof("Stopping Frame Director")

	for _, pipeline := range pipelines {
		pipeline.Stop()
	}

	d.logger.Infof("Frame Director stopped")
}

// GetPipelineMetrics returns metrics for all pipelines keyed by session ID
func (d *FrameDirector) GetPipelineMetrics() map[string]PipelineMetrics {
	d.mu.RLock()
	defer d.mu.RUnlock()

	metrics := make(map[string]PipelineMetrics)

	for sessionID, pipeline := range d.pipelines {
		metrics[sessionID] = pipeline.GetMetrics()
	}

	return metrics
}
