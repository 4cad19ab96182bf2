package zeromq

import (
	"log"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/open-ar/groundtracker/pkg/processing"
)

// FrameStreamListener ingests high-rate frame updates from a SUB socket.
// Devices that stream at display rate publish frames here instead of paying
// a REQ/REP round trip per frame; delivery is fire-and-forget and dropped
// frames are absorbed by the session pipeline.
type FrameStreamListener struct {
	socket   *zmq.Socket
	sessions SessionController
	decoder  *processing.FrameDecoder
	logger   *log.Logger
	running  bool
}

// NewFrameStreamListener creates a new ZeroMQ frame stream listener
func NewFrameStreamListener(sessions SessionController, decoder *processing.FrameDecoder, logger *log.Logger) (*FrameStreamListener, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, err
	}

	// Subscribe to all messages
	err = socket.SetSubscribe("")
	if err != nil {
		socket.Close()
		return nil, err
	}

	return &FrameStreamListener{
		socket:   socket,
		sessions: sessions,
		decoder:  decoder,
		logger:   logger,
		running:  false,
	}, nil
}

// Start begins listening for frame updates
func (l *FrameStreamListener) Start(address string) error {
	err := l.socket.Bind(address)
	if err != nil {
		return err
	}

	l.running = true
	go l.receiveLoop()

	l.logger.Printf("Frame stream listener started on %s", address)
	return nil
}

// Stop stops the frame stream listener
func (l *FrameStreamListener) Stop() {
	l.running = false
	l.socket.Close()
}

// receiveLoop continuously receives and routes frame updates
func (l *FrameStreamListener) receiveLoop() {
	for l.running {
		msg, err := l.socket.RecvBytes(0)
		if err != nil {
			if l.running {
				l.logger.Printf("Error receiving frame: %v", err)
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}

		update, err := l.decoder.Decode(msg)
		if err != nil {
			l.logger.Printf("Dropping malformed stream frame: %v", err)
			continue
		}

		// No reply channel on a SUB socket, so routing errors are only logged
		if err := l.sessions.HandleFrame(update); err != nil {
			l.logger.Printf("Failed to route stream frame for session '%s': %v", update.SessionID, err)
		}
	}
}
