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

// Package enumerator produces device snapshots for the session manager.
//
// A snapshot is the full list of USB peripherals visible at one instant.
// Sources for different buses are combined with Multi.
package enumerator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/carverauto/rclink/pkg/models"
)

var (
	// ErrNoSources is returned by a Multi without any source.
	ErrNoSources = errors.New("no enumeration sources configured")
	// ErrSourceFailed wraps the failure of one source of a Multi.
	ErrSourceFailed = errors.New("enumeration source failed")
)

// Enumerator lists the peripherals currently attached to the host.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]models.DeviceDescriptor, error)
}

// Func adapts a function to the Enumerator interface.
type Func func(ctx context.Context) ([]models.DeviceDescriptor, error)

// Enumerate calls f(ctx).
func (f Func) Enumerate(ctx context.Context) ([]models.DeviceDescriptor, error) {
	return f(ctx)
}

// Source is a named Enumerator, used in error messages and logs.
type Source struct {
	Name       string
	Enumerator Enumerator
}

// Multi merges the snapshots of several sources in order. A device seen by
// more than one source is reported once, as described by the first. Any
// failing source fails the whole snapshot.
type Multi struct {
	sources []Source
}

// NewMulti returns a Multi over sources.
func NewMulti(sources ...Source) *Multi {
	return &Multi{sources: sources}
}

// Sources returns the names of the configured sources.
func (m *Multi) Sources() []string {
	names := make([]string, 0, len(m.sources))
	for _, s := range m.sources {
		names = append(names, s.Name)
	}

	return names
}

// Enumerate implements Enumerator.
func (m *Multi) Enumerate(ctx context.Context) ([]models.DeviceDescriptor, error) {
	if len(m.sources) == 0 {
		return nil, ErrNoSources
	}

	seen := make(models.IdentitySet)

	var out []models.DeviceDescriptor

	for _, src := range m.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		descs, err := src.Enumerator.Enumerate(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrSourceFailed, src.Name, err)
		}

		for i := range descs {
			if descs[i].Identity == "" || seen.Has(descs[i].Identity) {
				continue
			}

			seen[descs[i].Identity] = struct{}{}
			out = append(out, descs[i])
		}
	}

	return out, nil
}

// Static is an in-memory source whose contents are set by the host.
type Static struct {
	mu    sync.RWMutex
	descs []models.DeviceDescriptor
	err   error
}

// NewStatic returns a Static reporting descs.
func NewStatic(descs ...models.DeviceDescriptor) *Static {
	return &Static{descs: descs}
}

// Set replaces the reported devices and clears any failure.
func (s *Static) Set(descs ...models.DeviceDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.descs = append([]models.DeviceDescriptor(nil), descs...)
	s.err = nil
}

// Fail makes the next enumerations return err until Set is called.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err
}

// Enumerate implements Enumerator.
func (s *Static) Enumerate(_ context.Context) ([]models.DeviceDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, s.err
	}

	return append([]models.DeviceDescriptor(nil), s.descs...), nil
}
