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

// Package lifecycle wires loggers and runs long-lived services until the
// process is asked to stop.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/carverauto/rclink/pkg/logger"
)

// InitializeLogger configures the process-wide logger. A nil config uses
// logger.DefaultConfig.
func InitializeLogger(ctx context.Context, config *logger.Config) error {
	if err := logger.Init(ctx, config); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	return nil
}

// CreateComponentLogger builds an injectable logger tagged with component.
// It does not touch the process-wide logger.
func CreateComponentLogger(ctx context.Context, component string, config *logger.Config) (logger.Logger, error) {
	if config == nil {
		config = logger.DefaultConfig()
	}

	if err := logger.Init(ctx, config); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger.Wrap(logger.WithComponent(component)), nil
}

// ShutdownLogger flushes any pending OTLP log records.
func ShutdownLogger() error {
	return logger.Shutdown()
}
