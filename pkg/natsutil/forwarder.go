package natsutil

import (
	"context"
	"sync"
	"time"

	"github.com/carverauto/rclink/pkg/logger"
	"github.com/carverauto/rclink/pkg/models"
)

const (
	defaultForwardBuffer  = 64
	defaultPublishTimeout = 5 * time.Second
)

// ConnectionPublisher publishes connection status changes.
type ConnectionPublisher interface {
	PublishConnectionEvent(ctx context.Context, status models.ConnectionStatus) error
}

// StatusForwarder is a session listener that publishes statuses from its
// own goroutine, so a slow broker never holds up the session manager.
// When the buffer is full new statuses are dropped and logged.
type StatusForwarder struct {
	publisher ConnectionPublisher
	logger    logger.Logger
	timeout   time.Duration

	queue     chan models.ConnectionStatus
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewStatusForwarder returns a forwarder with room for buffer pending statuses.
func NewStatusForwarder(publisher ConnectionPublisher, buffer int, log logger.Logger) *StatusForwarder {
	if buffer <= 0 {
		buffer = defaultForwardBuffer
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	return &StatusForwarder{
		publisher: publisher,
		logger:    log,
		timeout:   defaultPublishTimeout,
		queue:     make(chan models.ConnectionStatus, buffer),
		done:      make(chan struct{}),
	}
}

// Start launches the publishing goroutine.
func (f *StatusForwarder) Start(ctx context.Context) {
	f.wg.Add(1)

	go f.run(context.WithoutCancel(ctx))
}

// OnStatus queues status for publishing. It never blocks.
func (f *StatusForwarder) OnStatus(status models.ConnectionStatus) {
	select {
	case <-f.done:
		return
	default:
	}

	select {
	case f.queue <- status:
	default:
		f.logger.Warn().
			Str("reason", string(status.Reason)).
			Str("identity", string(status.Identity)).
			Msg("Status forward buffer full, dropping event")
	}
}

// Stop publishes what is already queued and stops the goroutine.
func (f *StatusForwarder) Stop(ctx context.Context) error {
	f.closeOnce.Do(func() {
		close(f.done)
	})

	waited := make(chan struct{})

	go func() {
		f.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *StatusForwarder) run(ctx context.Context) {
	defer f.wg.Done()

	for {
		select {
		case status := <-f.queue:
			f.publish(ctx, status)
		case <-f.done:
			for {
				select {
				case status := <-f.queue:
					f.publish(ctx, status)
				default:
					return
				}
			}
		}
	}
}

func (f *StatusForwarder) publish(ctx context.Context, status models.ConnectionStatus) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.publisher.PublishConnectionEvent(ctx, status); err != nil {
		f.logger.Error().Err(err).Str("reason", string(status.Reason)).Msg("Failed to publish connection event")
	}
}
