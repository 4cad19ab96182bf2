package processing

import (
	"sync"
	"time"

	"github.com/open-ar/groundtracker/domain/ground"
	customlog "github.com/open-ar/groundtracker/pkg/log"
)

// FrameUpdate is one device frame: camera state plus the plane-detection
// hits the device bridge reported for that frame.
type FrameUpdate struct {
	SessionID   string              `json:"session_id"`
	TimestampNs int64               `json:"timestamp_ns"`
	Camera      ground.CameraFrame  `json:"camera"`
	Hits        []ground.RaycastHit `json:"hits,omitempty"`
}

// FrameResult is the outcome of processing one frame.
type FrameResult struct {
	SessionID   string
	Pose        ground.Pose
	Tracking    bool
	TimestampNs int64
	Error       error
}

// ResultHandler is a function that handles processed frame results
type ResultHandler func(result *FrameResult)

// FrameProcessor consumes one frame update and returns the resulting pose
type FrameProcessor func(update *FrameUpdate) (*FrameResult, error)

// FramePipeline is a bounded, serialized frame queue for one session. A
// single worker drains it so frames are consumed strictly in arrival order
// and the tracker state has exactly one writer.
type FramePipeline struct {
	sessionID     string
	logger        customlog.Logger
	frameQueue    chan *FrameUpdate
	running       bool
	wg            sync.WaitGroup
	mu            sync.Mutex
	processor     FrameProcessor
	resultHandler ResultHandler
	queueSize     int
	metrics       *PipelineMetrics
}

// PipelineMetrics tracks metrics for a frame pipeline
type PipelineMetrics struct {
	ProcessedCount    int64
	ErrorCount        int64
	QueuedCount       int64
	DroppedCount      int64
	LastProcessedTime int64
	ProcessingTimeAvg int64 // in microseconds
	ProcessingTimeMax int64 // in microseconds
	mu                sync.Mutex
}

// NewFramePipeline creates a new frame pipeline for a session
func NewFramePipeline(sessionID string, queueSize int, logger customlog.Logger) *FramePipeline {
	return &FramePipeline{
		sessionID:  sessionID,
		queueSize:  queueSize,
		logger:     logger,
		frameQueue: make(chan *FrameUpdate, queueSize),
		running:    false,
		wg:         sync.WaitGroup{},
		mu:         sync.Mutex{},
		metrics:    &PipelineMetrics{mu: sync.Mutex{}},
	}
}

// SetProcessor sets the frame processor function
func (p *FramePipeline) SetProcessor(processor FrameProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processor = processor
}

// SetResultHandler sets the result handler function
func (p *FramePipeline) SetResultHandler(handler ResultHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resultHandler = handler
}

// Enqueue adds a frame to the queue. A full queue drops the frame: a stale
// frame is worthless since the next one re-derives the same state.
func (p *FramePipeline) Enqueue(update *FrameUpdate) bool {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	if !running {
		p.logger.Warnf("Pipeline for session %s not running, discarding frame", p.sessionID)
		return false
	}

	p.metrics.mu.Lock()
	p.metrics.QueuedCount++
	p.metrics.mu.Unlock()

	select {
	case p.frameQueue <- update:
		return true
	default:
		p.metrics.mu.Lock()
		p.metrics.DroppedCount++
		p.metrics.mu.Unlock()
		p.logger.Warnf("Frame queue full for session %s, dropping frame", p.sessionID)
		return false
	}
}

// Start starts the pipeline worker
func (p *FramePipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.logger.Infof("Starting frame pipeline for session %s", p.sessionID)

	p.wg.Add(1)
	go p.worker()
}

// Stop stops the pipeline and waits for the worker to drain
func (p *FramePipeline) Stop() {
	p.mu.Lock()

	if !p.running {
		p.mu.Unlock()
		return
	}

	p.running = false
	p.mu.Unlock() // Unlock before closing channel to avoid deadlock

	close(p.frameQueue)

	p.logger.Infof("Stopping frame pipeline for session %s", p.sessionID)

	p.wg.Wait()
	p.logger.Infof("Frame pipeline for session %s stopped", p.sessionID)

	p.logMetrics()
}

// worker consumes frames from the queue in order
func (p *FramePipeline) worker() {
	defer p.wg.Done()

	p.logger.Debugf("Frame pipeline worker for session %s started", p.sessionID)

	for update := range p.frameQueue {
		p.mu.Lock()
		processor := p.processor
		resultHandler := p.resultHandler
		p.mu.Unlock()

		if processor == nil {
			p.logger.Errorf("No frame processor set for session %s pipeline", p.sessionID)
			continue
		}

		startTime := time.Now()

		result, err := processor(update)

		processingTime := time.Since(startTime).Microseconds()

		p.metrics.mu.Lock()
		p.metrics.ProcessedCount++
		p.metrics.LastProcessedTime = time.Now().UnixNano()

		if p.metrics.ProcessingTimeAvg == 0 {
			p.metrics.ProcessingTimeAvg = processingTime
		} else {
			// Simple moving average
			p.metrics.ProcessingTimeAvg = (p.metrics.ProcessingTimeAvg + processingTime) / 2
		}

		if processingTime > p.metrics.ProcessingTimeMax {
			p.metrics.ProcessingTimeMax = processingTime
		}

		if err != nil {
			p.metrics.ErrorCount++
		}
		p.metrics.mu.Unlock()

		if err != nil {
			p.logger.Errorf("Error processing frame for session %s: %v", p.sessionID, err)
		}

		if result == nil {
			result = &FrameResult{
				SessionID:   update.SessionID,
				TimestampNs: update.TimestampNs,
				Error:       err,
			}
		}

		if resultHandler != nil {
			resultHandler(result)
		}
	}

	p.logger.Debugf("Frame pipeline worker for session %s stopped", p.sessionID)
}

// GetMetrics returns a copy of the current metrics
func (p *FramePipeline) GetMetrics() PipelineMetrics {
	p.metrics.mu.Lock()
	defer p.metrics.mu.Unlock()

	return PipelineMetrics{
		ProcessedCount:    p.metrics.ProcessedCount,
		ErrorCount:        p.metrics.ErrorCount,
		QueuedCount:       p.metrics.QueuedCount,
		DroppedCount:      p.metrics.DroppedCount,
		LastProcessedTime: p.metrics.LastProcessedTime,
		ProcessingTimeAvg: p.metrics.ProcessingTimeAvg,
		ProcessingTimeMax: p.metrics.ProcessingTimeMax,
	}
}

// logMetrics logs the current metrics
func (p *FramePipeline) logMetrics() {
	metrics := p.GetMetrics()

	p.logger.Infof("Session %s pipeline metrics: processed=%d, errors=%d, dropped=%d, avg_time=%dµs, max_time=%dµs",
		p.sessionID, metrics.ProcessedCount, metrics.ErrorCount, metrics.DroppedCount,
		metrics.ProcessingTimeAvg, metrics.ProcessingTimeMax)
}

// SessionID returns the owning session's ID
func (p *FramePipeline) SessionID() string {
	return p.sessionID
}

// GetQueueLength returns the current length of the frame queue
func (p *FramePipeline) GetQueueLength() int {
	return len(p.frameQueue)
}

// GetQueueCapacity returns the capacity of the frame queue
func (p *FramePipeline) GetQueueCapacity() int {
	return p.queueSize
}
