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

package diagnostics

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubCollectors(t *testing.T,
	info func(context.Context) (*host.InfoStat, error),
	vm func(context.Context) (*mem.VirtualMemoryStat, error),
	counts func(context.Context, bool) (int, error),
) {
	t.Helper()

	origInfo, origVM, origCounts := hostInfoWithContext, virtualMemory, countsWithContext

	t.Cleanup(func() {
		hostInfoWithContext, virtualMemory, countsWithContext = origInfo, origVM, origCounts
	})

	hostInfoWithContext, virtualMemory, countsWithContext = info, vm, counts
}

func TestHostCollector_Collect(t *testing.T) {
	stubCollectors(t,
		func(context.Context) (*host.InfoStat, error) {
			return &host.InfoStat{
				Hostname:             "ground-station",
				OS:                   "linux",
				Platform:             "debian",
				PlatformVersion:      "12.5",
				KernelVersion:        "6.1.0",
				KernelArch:           "aarch64",
				Uptime:               3600,
				VirtualizationSystem: "kvm",
				VirtualizationRole:   "guest",
			}, nil
		},
		func(context.Context) (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{Total: 8 << 30}, nil
		},
		func(context.Context, bool) (int, error) { return 4, nil },
	)

	report, err := NewHostCollector().Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "ground-station", report.Hostname)
	assert.Equal(t, "debian", report.Platform)
	assert.Equal(t, "aarch64", report.Arch)
	assert.Equal(t, "kvm/guest", report.Virtualization)
	assert.Equal(t, uint64(3600), report.UptimeSeconds)
	assert.Equal(t, 4, report.LogicalCPUs)
	assert.Equal(t, uint64(8<<30), report.MemoryTotal)
	assert.Equal(t, runtime.Version(), report.GoVersion)

	fields := report.Fields()
	assert.Equal(t, "ground-station", fields["hostname"])
	assert.Equal(t, "kvm/guest", fields["virtualization"])
}

func TestHostCollector_PartialFailures(t *testing.T) {
	stubCollectors(t,
		func(context.Context) (*host.InfoStat, error) {
			return &host.InfoStat{Hostname: "bench"}, nil
		},
		func(context.Context) (*mem.VirtualMemoryStat, error) { return nil, errors.New("no meminfo") },
		func(context.Context, bool) (int, error) { return 0, errors.New("no cpuinfo") },
	)

	report, err := NewHostCollector().Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "bench", report.Hostname)
	assert.Equal(t, runtime.GOARCH, report.Arch)
	assert.Zero(t, report.LogicalCPUs)
	assert.Zero(t, report.MemoryTotal)
	assert.NotContains(t, report.Fields(), "virtualization")
}

func TestHostCollector_HostFailure(t *testing.T) {
	stubCollectors(t,
		func(context.Context) (*host.InfoStat, error) { return nil, errors.New("denied") },
		virtualMemory,
		countsWithContext,
	)

	_, err := NewHostCollector().Collect(context.Background())
	require.ErrorIs(t, err, ErrHostInfoUnavailable)
}
