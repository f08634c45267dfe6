/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package poller periodically enumerates USB devices and hands each
// successful snapshot to the session manager.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/carverauto/rclink/pkg/enumerator"
	"github.com/carverauto/rclink/pkg/logger"
	"github.com/carverauto/rclink/pkg/models"
)

// SnapshotSink receives enumeration snapshots. session.Manager implements it.
type SnapshotSink interface {
	NotifySnapshot(descs []models.DeviceDescriptor) error
}

// Scheduler runs the enumerator on its own goroutine every interval.
// Polls never overlap: ticks and PollNow are serialised.
type Scheduler struct {
	config Config
	source enumerator.Enumerator
	sink   SnapshotSink
	clock  Clock
	logger logger.Logger
	tracer trace.Tracer

	pollMu    sync.Mutex
	reloadCh  chan time.Duration
	done      chan struct{}
	closeOnce sync.Once
	startWg   sync.WaitGroup
}

// New returns a Scheduler. A nil clock uses wall time.
func New(config *Config, source enumerator.Enumerator, sink SnapshotSink, clock Clock, log logger.Logger) (*Scheduler, error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if source == nil {
		return nil, errSourceRequired
	}

	if sink == nil {
		return nil, errSinkRequired
	}

	if clock == nil {
		clock = realClock{}
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Scheduler{
		config:   cfg,
		source:   source,
		sink:     sink,
		clock:    clock,
		logger:   log,
		tracer:   logger.GetTracer("rclink.poller"),
		reloadCh: make(chan time.Duration, 1),
		done:     make(chan struct{}),
	}, nil
}

// Start polls once immediately and then on every tick until Stop is called
// or ctx is cancelled. It implements lifecycle.Service.
func (s *Scheduler) Start(ctx context.Context) error {
	s.startWg.Add(1)
	defer s.startWg.Done()

	select {
	case <-s.done:
		return nil
	default:
	}

	interval := time.Duration(s.config.Interval)
	ticker := s.clock.Ticker(interval)

	defer func() {
		ticker.Stop()
	}()

	s.logger.Info().Dur("interval", interval).Msg("Starting device poller")

	if err := s.PollNow(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Initial device poll failed")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.Chan():
			if err := s.PollNow(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("Device poll failed, skipping tick")
			}
		case newInterval := <-s.reloadCh:
			ticker.Stop()
			ticker = s.clock.Ticker(newInterval)
			s.logger.Info().Dur("interval", newInterval).Msg("Poll interval hot-reloaded")
		}
	}
}

// Stop ends the polling loop and waits for Start to return. It is idempotent.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	waited := make(chan struct{})

	go func() {
		s.startWg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetInterval changes the polling period of a running scheduler. Only the
// latest pending value is kept.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s", errInvalidInterval, d)
	}

	select {
	case <-s.done:
		return nil
	default:
	}

	select {
	case <-s.reloadCh:
	default:
	}

	select {
	case s.reloadCh <- d:
	default:
	}

	return nil
}

// PollNow enumerates immediately and forwards the snapshot. A failed
// enumeration is reported and nothing is forwarded.
func (s *Scheduler) PollNow(ctx context.Context) error {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	ctx, span := s.tracer.Start(ctx, "poller.enumerate")
	defer span.End()

	if timeout := time.Duration(s.config.Timeout); timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := s.clock.Now()

	descs, err := s.source.Enumerate(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enumeration failed")

		return fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
	}

	span.SetAttributes(attribute.Int("rclink.devices", len(descs)))

	s.logger.Debug().
		Int("devices", len(descs)).
		Dur("took", s.clock.Now().Sub(started)).
		Msg("Enumerated devices")

	if err := s.sink.NotifySnapshot(descs); err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshotRejected, err)
	}

	return nil
}
