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

package logger

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/carverauto/rclink/pkg/models"
)

// EnvPrefix namespaces the logging environment variables. RCLINK_LOG_LEVEL
// wins over LOG_LEVEL so that the agent can be tuned without touching
// settings shared with other processes on the ground-station host.
const EnvPrefix = "RCLINK_"

// Log outputs.
const (
	OutputStdout = "stdout"
	OutputStderr = "stderr"
	OutputNone   = "none"
)

const defaultServiceName = "rclink"

var (
	errInvalidOutput = errors.New("invalid log output")
	errInvalidLevel  = errors.New("invalid log level")
)

// timeFormats maps the short names accepted in time_format to layouts.
// Anything else is used as a Go time layout.
var timeFormats = map[string]string{
	"rfc3339":     time.RFC3339,
	"rfc3339nano": time.RFC3339Nano,
	"unix":        zerolog.TimeFormatUnix,
	"unixms":      zerolog.TimeFormatUnixMs,
	"unixmicro":   zerolog.TimeFormatUnixMicro,
}

// DefaultConfig reads the logging configuration from the environment.
func DefaultConfig() *Config {
	return &Config{
		Level:      getEnvOrDefault("LOG_LEVEL", "info"),
		Debug:      getEnvBoolOrDefault("DEBUG", false),
		Output:     getEnvOrDefault("LOG_OUTPUT", OutputStdout),
		TimeFormat: getEnvOrDefault("LOG_TIME_FORMAT", ""),
		OTel:       DefaultOTelConfig(),
	}
}

// Validate normalizes level, output and time format, filling defaults.
func (c *Config) Validate() error {
	c.Level = strings.ToLower(strings.TrimSpace(c.Level))
	if c.Level == "" {
		c.Level = "info"
	}

	if _, err := zerolog.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("%w: %q", errInvalidLevel, c.Level)
	}

	c.Output = strings.ToLower(strings.TrimSpace(c.Output))

	switch c.Output {
	case "":
		c.Output = OutputStdout
	case OutputStdout, OutputStderr, OutputNone:
	default:
		return fmt.Errorf("%w: %q (want %s, %s or %s)", errInvalidOutput, c.Output, OutputStdout, OutputStderr, OutputNone)
	}

	if layout, ok := timeFormats[strings.ToLower(c.TimeFormat)]; ok {
		c.TimeFormat = layout
	}

	if c.OTel.ServiceName == "" {
		c.OTel.ServiceName = defaultServiceName
	}

	return nil
}

// ForTerminalUI returns a copy that keeps the terminal free for the
// interactive watcher. OTLP export, when enabled, still receives records.
func (c *Config) ForTerminalUI() *Config {
	out := *c
	out.Output = OutputNone

	return &out
}

// DefaultOTelConfig reads the OTLP log exporter settings from the environment.
func DefaultOTelConfig() OTelConfig {
	headers := make(map[string]string)

	if headerStr := lookupEnv("OTEL_EXPORTER_OTLP_LOGS_HEADERS"); headerStr != "" {
		for _, pair := range strings.Split(headerStr, ",") {
			if key, value, ok := strings.Cut(pair, "="); ok {
				headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
			}
		}
	}

	batchTimeout := 5 * time.Second

	if timeoutStr := lookupEnv("OTEL_EXPORTER_OTLP_LOGS_TIMEOUT"); timeoutStr != "" {
		if duration, err := time.ParseDuration(timeoutStr); err == nil {
			batchTimeout = duration
		}
	}

	return OTelConfig{
		Enabled:      getEnvBoolOrDefault("OTEL_LOGS_ENABLED", false),
		Endpoint:     getEnvOrDefault("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", ""),
		Headers:      headers,
		ServiceName:  getEnvOrDefault("OTEL_SERVICE_NAME", defaultServiceName),
		BatchTimeout: models.Duration(batchTimeout),
		Insecure:     getEnvBoolOrDefault("OTEL_EXPORTER_OTLP_LOGS_INSECURE", false),
	}
}

// lookupEnv returns the prefixed variable when set, else the plain one.
func lookupEnv(key string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}

	return os.Getenv(key)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := lookupEnv(key); value != "" {
		return value
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := lookupEnv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
