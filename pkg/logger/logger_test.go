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
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
)

func TestInit(t *testing.T) {
	config := &Config{
		Level:  "debug",
		Debug:  true,
		Output: "stdout",
	}

	require.NoError(t, Init(context.Background(), config))
	assert.Equal(t, zerolog.DebugLevel, GetLogger().GetLevel())
}

func TestInitRejectsBadLevel(t *testing.T) {
	err := Init(context.Background(), &Config{Level: "loud"})
	require.Error(t, err)
}

func TestSetDebug(t *testing.T) {
	SetDebug(true)
	assert.Equal(t, zerolog.DebugLevel, GetLogger().GetLevel())

	SetDebug(false)
	assert.Equal(t, zerolog.InfoLevel, GetLogger().GetLevel())
}

func TestWithComponent(t *testing.T) {
	componentLogger := WithComponent("test-component")

	assert.NotEqual(t, zerolog.Disabled, componentLogger.GetLevel())
}

func TestWrapAndComponent(t *testing.T) {
	var buf bytes.Buffer

	l := Wrap(zerolog.New(&buf))
	Component(l, "session").Info().Str("identity", "2ca3:1020").Msg("hello")

	out := buf.String()
	assert.True(t, strings.Contains(out, `"component":"session"`), out)
	assert.True(t, strings.Contains(out, `"identity":"2ca3:1020"`), out)
}

func TestComponentNilParent(t *testing.T) {
	assert.NotNil(t, Component(nil, "x"))
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_HEADERS", "a=1, b = 2")

	config := DefaultConfig()

	assert.Equal(t, "warn", config.Level)
	assert.Equal(t, "stdout", config.Output)
	assert.Equal(t, "rclink", config.OTel.ServiceName)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, config.OTel.Headers)
}

func TestDefaultConfig_PrefixedEnvWins(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("RCLINK_LOG_LEVEL", "debug")
	t.Setenv("RCLINK_LOG_OUTPUT", "stderr")
	t.Setenv("RCLINK_OTEL_LOGS_ENABLED", "yes")

	config := DefaultConfig()

	assert.Equal(t, "debug", config.Level)
	assert.Equal(t, OutputStderr, config.Output)
	assert.True(t, config.OTel.Enabled)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name       string
		config     Config
		want       Config
		wantErr    error
		wantFormat string
	}{
		{
			name:   "defaults",
			config: Config{},
			want:   Config{Level: "info", Output: OutputStdout, OTel: OTelConfig{ServiceName: "rclink"}},
		},
		{
			name:   "normalizes case",
			config: Config{Level: " WARN ", Output: "None", OTel: OTelConfig{ServiceName: "ground-station"}},
			want:   Config{Level: "warn", Output: OutputNone, OTel: OTelConfig{ServiceName: "ground-station"}},
		},
		{
			name:       "time format alias",
			config:     Config{TimeFormat: "UnixMs"},
			wantFormat: zerolog.TimeFormatUnixMs,
		},
		{
			name:       "time layout kept",
			config:     Config{TimeFormat: "15:04:05"},
			wantFormat: "15:04:05",
		},
		{name: "bad output", config: Config{Output: "syslog"}, wantErr: errInvalidOutput},
		{name: "bad level", config: Config{Level: "loud"}, wantErr: errInvalidLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := tt.config
			err := config.Validate()

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)

			if tt.wantFormat != "" {
				assert.Equal(t, tt.wantFormat, config.TimeFormat)
				return
			}

			assert.Equal(t, tt.want, config)
		})
	}
}

func TestInitRejectsBadOutput(t *testing.T) {
	err := Init(context.Background(), &Config{Output: "syslog"})
	require.ErrorIs(t, err, errInvalidOutput)
}

func TestForTerminalUI(t *testing.T) {
	config := &Config{Level: "debug", Output: OutputStdout, OTel: OTelConfig{Enabled: true, Endpoint: "otel:4317"}}

	quiet := config.ForTerminalUI()

	assert.Equal(t, OutputNone, quiet.Output)
	assert.Equal(t, "debug", quiet.Level)
	assert.True(t, quiet.OTel.Enabled)
	assert.Equal(t, OutputStdout, config.Output, "original is untouched")
}

func TestNewOTELWriterDisabled(t *testing.T) {
	_, err := NewOTELWriter(context.Background(), OTelConfig{})
	require.ErrorIs(t, err, ErrOTelLoggingDisabled)

	_, err = NewOTELWriter(context.Background(), OTelConfig{Enabled: true})
	require.ErrorIs(t, err, ErrOTelEndpointRequired)
}

func TestInitializeMetricsDisabled(t *testing.T) {
	_, err := InitializeMetrics(context.Background(), MetricsConfig{})
	require.ErrorIs(t, err, ErrOTelMetricsDisabled)
}

func TestMapZerologLevelToOTEL(t *testing.T) {
	assert.Equal(t, otellog.SeverityWarn, mapZerologLevelToOTEL("warning"))
	assert.Equal(t, otellog.SeverityFatal, mapZerologLevelToOTEL("panic"))
	assert.Equal(t, otellog.SeverityInfo, mapZerologLevelToOTEL("whatever"))
}

func TestTruncateString(t *testing.T) {
	long := strings.Repeat("x", maxAttributeValueLength+10)

	got := formatAttributeValue(long)
	assert.Len(t, got, maxAttributeValueLength)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, `{"a":1}`, formatAttributeValue(map[string]interface{}{"a": 1}))
	assert.Equal(t, "null", formatAttributeValue(nil))
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) - 1, nil }

type failWriter struct{}

var errWrite = errors.New("write failed")

func (failWriter) Write(_ []byte) (int, error) { return 0, errWrite }

func TestMultiWriter(t *testing.T) {
	var a, b bytes.Buffer

	n, err := NewMultiWriter(&a, &b).Write([]byte("line"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "line", a.String())
	assert.Equal(t, "line", b.String())

	_, err = NewMultiWriter(shortWriter{}).Write([]byte("line"))
	require.Error(t, err)

	_, err = NewMultiWriter(failWriter{}).Write([]byte("line"))
	require.ErrorIs(t, err, errWrite)
}
