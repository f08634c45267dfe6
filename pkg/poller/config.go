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

package poller

import (
	"fmt"
	"time"

	"github.com/carverauto/rclink/pkg/models"
)

const (
	// DefaultInterval is the fallback polling period.
	DefaultInterval = 2 * time.Second
	stopTimeout     = 10 * time.Second
)

// Config controls the polling scheduler.
type Config struct {
	Interval models.Duration `json:"interval"`
	// Timeout bounds one enumeration. Zero means no bound.
	Timeout models.Duration `json:"timeout"`
}

// DefaultConfig polls every DefaultInterval without an enumeration bound.
func DefaultConfig() Config {
	return Config{Interval: models.Duration(DefaultInterval)}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: %s", errInvalidInterval, c.Interval)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("%w: %s", errInvalidTimeout, c.Timeout)
	}

	return nil
}
