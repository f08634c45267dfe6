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

package session

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/carverauto/rclink/pkg/models"
)

const (
	meterName                = "github.com/carverauto/rclink/pkg/session"
	metricStatusTotal        = "rclink_session_status_total"
	metricPermissionRequests = "rclink_permission_requests_total"
	metricSessionDuration    = "rclink_session_duration_seconds"
)

var (
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	meterOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	statusCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	permissionCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	durationHistogram metric.Float64Histogram
)

func initMeter() {
	meter := otel.Meter(meterName)

	counter, err := meter.Int64Counter(
		metricStatusTotal,
		metric.WithDescription("Connection status notifications emitted, by reason"),
	)
	if err != nil {
		otel.Handle(err)
	}
	statusCounter = counter

	requests, err := meter.Int64Counter(
		metricPermissionRequests,
		metric.WithDescription("Permission prompts dispatched to the host, by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}
	permissionCounter = requests

	hist, err := meter.Float64Histogram(
		metricSessionDuration,
		metric.WithDescription("Lifetime of active peripheral sessions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}
	durationHistogram = hist
}

func recordStatus(ctx context.Context, status models.ConnectionStatus) {
	meterOnce.Do(initMeter)
	if statusCounter == nil {
		return
	}

	statusCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", string(status.Reason)),
		attribute.Bool("connected", status.Connected),
	))
}

func recordPermissionRequest(ctx context.Context, outcome string) {
	meterOnce.Do(initMeter)
	if permissionCounter == nil {
		return
	}

	permissionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func recordSessionDuration(ctx context.Context, d time.Duration, model models.ModelTag, reason models.StatusReason) {
	meterOnce.Do(initMeter)
	if durationHistogram == nil {
		return
	}

	durationHistogram.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("model", string(model)),
		attribute.String("reason", string(reason)),
	))
}
