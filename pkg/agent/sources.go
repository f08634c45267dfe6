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

package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/carverauto/rclink/pkg/enumerator"
	"github.com/carverauto/rclink/pkg/enumerator/sysfs"
	"github.com/carverauto/rclink/pkg/logger"
)

const (
	// SourceSysfs reads the Linux USB device tree.
	SourceSysfs = "sysfs"
	// SourceStatic serves Config.StaticDevices.
	SourceStatic = "static"
	// SourceLibUSB enumerates through libusb; available with the libusb build tag.
	SourceLibUSB = "libusb"
)

// SourceFactory builds a snapshot source from the agent configuration.
type SourceFactory func(cfg *Config, log logger.Logger) (enumerator.Enumerator, error)

var (
	sourcesMu sync.RWMutex
	sources   = map[string]SourceFactory{}
)

func init() {
	RegisterSource(SourceSysfs, func(cfg *Config, log logger.Logger) (enumerator.Enumerator, error) {
		return sysfs.New(cfg.SysfsRoot, log), nil
	})

	RegisterSource(SourceStatic, func(cfg *Config, _ logger.Logger) (enumerator.Enumerator, error) {
		return enumerator.NewStatic(cfg.StaticDevices...), nil
	})
}

// RegisterSource makes a snapshot source available under name. A later
// registration replaces an earlier one.
func RegisterSource(name string, factory SourceFactory) {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()

	sources[strings.ToLower(name)] = factory
}

// SourceNames lists the registered sources.
func SourceNames() []string {
	sourcesMu.RLock()
	defer sourcesMu.RUnlock()

	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func lookupSource(name string) (SourceFactory, bool) {
	sourcesMu.RLock()
	defer sourcesMu.RUnlock()

	f, ok := sources[name]

	return f, ok
}

// buildSources combines the configured sources in order.
func buildSources(cfg *Config, log logger.Logger) (*enumerator.Multi, error) {
	buses := make([]enumerator.Source, 0, len(cfg.Sources))

	for _, raw := range cfg.Sources {
		name := strings.ToLower(strings.TrimSpace(raw))

		factory, ok := lookupSource(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", errUnknownSource, raw)
		}

		src, err := factory(cfg, logger.Component(log, "source."+name))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s source: %w", name, err)
		}

		buses = append(buses, enumerator.Source{Name: name, Enumerator: src})
	}

	return enumerator.NewMulti(buses...), nil
}
