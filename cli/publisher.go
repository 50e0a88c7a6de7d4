package cli

import (
	"fmt"

	"github.com/devrenanferrari/genesis/logger"
	"github.com/devrenanferrari/genesis/server"
)

// FramePublisher hands frames from the network goroutine to the TUI.
type FramePublisher struct {
	frameChan chan server.Frame
	errorChan chan error
	logger    logger.Logger
}

func NewFramePublisher(logger logger.Logger) *FramePublisher {
	return &FramePublisher{
		frameChan: make(chan server.Frame, 256),
		errorChan: make(chan error, 10),
		logger:    logger,
	}
}

// Publish blocks when the TUI falls behind so no frame is lost.
func (p *FramePublisher) Publish(f server.Frame) {
	p.frameChan <- f
	p.logger.Debug(fmt.Sprintf("Published frame: %s", f.Type))
}

func (p *FramePublisher) Error(err error) {
	select {
	case p.errorChan <- err:
		p.logger.Debug(fmt.Sprintf("Published error: %v", err))
	default:
		p.logger.Warn(fmt.Sprintf("Failed to publish error: %v. Channel full.", err))
	}
}

// Close ends the frame stream. Publish must not be called afterwards.
func (p *FramePublisher) Close() {
	close(p.frameChan)
}
