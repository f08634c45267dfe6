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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/rclink/pkg/logger"
)

const defaultStopTimeout = 10 * time.Second

// Service is a component with a blocking Start and an idempotent Stop.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// RunOptions controls Run.
type RunOptions struct {
	ServiceName string
	Service     Service
	Logger      logger.Logger
	StopTimeout time.Duration
	// Signals defaults to SIGINT and SIGTERM.
	Signals []os.Signal
}

var errServiceRequired = errors.New("service is required")

// Run starts the service and blocks until it returns, the context is
// cancelled, or one of the signals arrives. The service is then stopped with
// a bounded timeout.
func Run(ctx context.Context, opts *RunOptions) error {
	if opts == nil || opts.Service == nil {
		return errServiceRequired
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	signals := opts.Signals
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	ctx, stopSignals := signal.NotifyContext(ctx, signals...)
	defer stopSignals()

	errCh := make(chan error, 1)

	go func() {
		errCh <- opts.Service.Start(ctx)
	}()

	log.Info().Str("service", opts.ServiceName).Msg("Service started")

	var startErr error

	select {
	case <-ctx.Done():
		log.Info().Str("service", opts.ServiceName).Msg("Shutdown requested")
	case startErr = <-errCh:
		if startErr != nil && !errors.Is(startErr, context.Canceled) {
			log.Error().Err(startErr).Str("service", opts.ServiceName).Msg("Service exited with error")
		}
	}

	timeout := opts.StopTimeout
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := opts.Service.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop %s: %w", opts.ServiceName, err)
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		return startErr
	}

	return nil
}
