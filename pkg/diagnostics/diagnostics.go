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

// Package diagnostics collects a host report logged when the agent starts.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// ErrHostInfoUnavailable is returned when the host information query fails.
var ErrHostInfoUnavailable = errors.New("host information unavailable")

var (
	hostInfoWithContext = host.InfoWithContext
	virtualMemory       = mem.VirtualMemoryWithContext
	countsWithContext   = cpu.CountsWithContext
)

// Collector produces a diagnostics report.
type Collector interface {
	Collect(ctx context.Context) (*Report, error)
}

// Report describes the host the agent runs on.
type Report struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	Arch            string `json:"arch"`
	Virtualization  string `json:"virtualization,omitempty"`
	UptimeSeconds   uint64 `json:"uptime_seconds"`
	LogicalCPUs     int    `json:"logical_cpus"`
	MemoryTotal     uint64 `json:"memory_total_bytes"`
	GoVersion       string `json:"go_version"`
}

// Fields returns the report as structured log fields.
func (r *Report) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"hostname":         r.Hostname,
		"os":               r.OS,
		"platform":         r.Platform,
		"platform_version": r.PlatformVersion,
		"kernel_version":   r.KernelVersion,
		"arch":             r.Arch,
		"uptime_seconds":   r.UptimeSeconds,
		"logical_cpus":     r.LogicalCPUs,
		"memory_total":     r.MemoryTotal,
		"go_version":       r.GoVersion,
	}

	if r.Virtualization != "" {
		fields["virtualization"] = r.Virtualization
	}

	return fields
}

// HostCollector gathers a Report through gopsutil. Only the host query is
// required; CPU and memory failures leave those fields zero.
type HostCollector struct{}

// NewHostCollector returns a HostCollector.
func NewHostCollector() *HostCollector {
	return &HostCollector{}
}

// Collect implements Collector.
func (*HostCollector) Collect(ctx context.Context) (*Report, error) {
	info, err := hostInfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHostInfoUnavailable, err)
	}

	report := &Report{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		Arch:            info.KernelArch,
		UptimeSeconds:   info.Uptime,
		GoVersion:       runtime.Version(),
	}

	if report.Arch == "" {
		report.Arch = runtime.GOARCH
	}

	if info.VirtualizationSystem != "" {
		report.Virtualization = info.VirtualizationSystem + "/" + info.VirtualizationRole
	}

	if n, err := countsWithContext(ctx, true); err == nil {
		report.LogicalCPUs = n
	}

	if vm, err := virtualMemory(ctx); err == nil && vm != nil {
		report.MemoryTotal = vm.Total
	}

	return report, nil
}
