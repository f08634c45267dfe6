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

// Package hotplug turns kernel USB uevents into session attach and detach
// notifications. It runs next to the poller: uevents give fast reaction and
// the next snapshot reconciles anything a missed event left behind.
package hotplug

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/carverauto/rclink/pkg/enumerator/sysfs"
	"github.com/carverauto/rclink/pkg/logger"
	"github.com/carverauto/rclink/pkg/models"
)

const receiveBufferSize = 8192

var (
	// ErrUnsupported is returned by Open on platforms without kernel uevents.
	ErrUnsupported = errors.New("uevent hotplug is not supported on this platform")
	// ErrOverflow is returned by Conn.Receive when the kernel dropped events.
	ErrOverflow = errors.New("uevent receive buffer overflow")
)

// Action is the uevent action.
type Action string

// Uevent actions that matter to device tracking.
const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Event is a parsed kernel uevent.
type Event struct {
	Action    Action
	DevPath   string
	Subsystem string
	DevType   string
}

// Name returns the kernel device name (the last DEVPATH element).
func (e Event) Name() string {
	if e.DevPath == "" {
		return ""
	}

	return path.Base(e.DevPath)
}

// USBDevice reports whether the event concerns a whole USB device rather
// than one of its interfaces.
func (e Event) USBDevice() bool {
	return e.Subsystem == "usb" && e.DevType == "usb_device"
}

// ParseEvent decodes a NUL separated uevent datagram. The leading
// action@devpath header is used when the ACTION or DEVPATH keys are missing.
func ParseEvent(data []byte) Event {
	var ev Event

	for _, field := range bytes.Split(data, []byte{0}) {
		if len(field) == 0 {
			continue
		}

		s := string(field)

		key, value, ok := strings.Cut(s, "=")
		if !ok {
			if action, devpath, found := strings.Cut(s, "@"); found {
				if ev.Action == "" {
					ev.Action = Action(action)
				}

				if ev.DevPath == "" {
					ev.DevPath = devpath
				}
			}

			continue
		}

		switch key {
		case "ACTION":
			ev.Action = Action(value)
		case "DEVPATH":
			ev.DevPath = value
		case "SUBSYSTEM":
			ev.Subsystem = value
		case "DEVTYPE":
			ev.DevType = value
		}
	}

	return ev
}

// Conn is a uevent socket. Receive returns 0 and no error when its read
// timeout expires so that the caller can check for cancellation.
type Conn interface {
	Receive(buf []byte) (int, error)
	Close() error
}

// Reader resolves kernel device names to descriptors. *sysfs.Enumerator
// implements it.
type Reader interface {
	Scan(ctx context.Context) ([]sysfs.Device, error)
	ReadDevice(name string) (models.DeviceDescriptor, error)
}

// Sink receives attach and detach notifications. *session.Manager
// implements it.
type Sink interface {
	NotifyAttach(desc models.DeviceDescriptor) error
	NotifyDetach(id models.Identity) error
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(log logger.Logger) Option {
	return func(m *Monitor) {
		if log != nil {
			m.logger = log
		}
	}
}

// WithRescan sets the function called when an event cannot be resolved,
// usually the poller's PollNow.
func WithRescan(fn func(context.Context) error) Option {
	return func(m *Monitor) {
		m.rescan = fn
	}
}

// Monitor applies uevents to a Sink. It remembers the identity of every
// device it has seen so that removals, which arrive after sysfs has
// already dropped the device, can still be named.
type Monitor struct {
	conn   Conn
	reader Reader
	sink   Sink
	rescan func(context.Context) error
	logger logger.Logger

	names map[string]models.Identity
	buf   []byte
}

// New returns a Monitor reading conn.
func New(conn Conn, reader Reader, sink Sink, opts ...Option) *Monitor {
	m := &Monitor{
		conn:   conn,
		reader: reader,
		sink:   sink,
		logger: logger.NewTestLogger(),
		names:  make(map[string]models.Identity),
		buf:    make([]byte, receiveBufferSize),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Run learns the devices already present, then applies uevents until ctx
// is done or the socket fails. It closes conn before returning.
func (m *Monitor) Run(ctx context.Context) error {
	defer func() {
		if err := m.conn.Close(); err != nil {
			m.logger.Debug().Err(err).Msg("Failed to close uevent socket")
		}
	}()

	m.seed(ctx)

	m.logger.Info().Int("devices", len(m.names)).Msg("Listening for USB hotplug events")

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := m.conn.Receive(m.buf)

		switch {
		case errors.Is(err, ErrOverflow):
			m.logger.Warn().Msg("Missed USB hotplug events, rescanning")
			m.requestRescan(ctx)

			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("failed to receive uevent: %w", err)
		case n == 0:
			continue
		}

		m.Handle(ctx, ParseEvent(m.buf[:n]))
	}
}

// Handle applies one event.
func (m *Monitor) Handle(ctx context.Context, ev Event) {
	if !ev.USBDevice() {
		return
	}

	name := ev.Name()
	if !sysfs.IsDeviceName(name) {
		return
	}

	switch ev.Action {
	case ActionAdd:
		m.attach(ctx, name)
	case ActionRemove:
		m.detach(ctx, name)
	}
}

func (m *Monitor) attach(ctx context.Context, name string) {
	desc, err := m.reader.ReadDevice(name)
	if err != nil {
		m.logger.Debug().Err(err).Str("device", name).Msg("Attached device not readable yet, rescanning")
		m.requestRescan(ctx)

		return
	}

	if prev, ok := m.names[name]; ok && prev != desc.Identity {
		m.notifyDetach(name, prev)
	}

	m.names[name] = desc.Identity

	m.logger.Debug().Str("device", name).Str("identity", string(desc.Identity)).Msg("USB device attached")

	if err := m.sink.NotifyAttach(desc); err != nil {
		m.logger.Warn().Err(err).Str("identity", string(desc.Identity)).Msg("Failed to report attached device")
	}
}

func (m *Monitor) detach(ctx context.Context, name string) {
	id, ok := m.names[name]
	if !ok {
		m.logger.Debug().Str("device", name).Msg("Removed device was never seen, rescanning")
		m.requestRescan(ctx)

		return
	}

	delete(m.names, name)
	m.notifyDetach(name, id)
}

func (m *Monitor) notifyDetach(name string, id models.Identity) {
	m.logger.Debug().Str("device", name).Str("identity", string(id)).Msg("USB device removed")

	if err := m.sink.NotifyDetach(id); err != nil {
		m.logger.Warn().Err(err).Str("identity", string(id)).Msg("Failed to report removed device")
	}
}

func (m *Monitor) seed(ctx context.Context) {
	devices, err := m.reader.Scan(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to list present USB devices")
		return
	}

	for _, d := range devices {
		m.names[d.Name] = d.Descriptor.Identity
	}
}

func (m *Monitor) requestRescan(ctx context.Context) {
	if m.rescan == nil {
		return
	}

	if err := m.rescan(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Rescan after hotplug event failed")
	}
}
