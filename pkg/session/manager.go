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
	"sort"
	"sync"
	"time"

	"github.com/carverauto/rclink/pkg/logger"
	"github.com/carverauto/rclink/pkg/models"
	"github.com/carverauto/rclink/pkg/permission"
)

// Listener receives connection status notifications. Listeners are called
// on the manager goroutine, one notification at a time, in the order the
// notifications were produced. A listener may call back into the Manager
// except for Stop.
type Listener interface {
	OnStatus(status models.ConnectionStatus)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(status models.ConnectionStatus)

// OnStatus calls f(status).
func (f ListenerFunc) OnStatus(status models.ConnectionStatus) {
	f(status)
}

// Subscription is returned by Subscribe.
type Subscription struct {
	manager *Manager
	id      uint64
	once    sync.Once
}

// Unsubscribe removes the listener. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.manager.removeListener(s.id)
	})
}

type listenerEntry struct {
	id       uint64
	listener Listener
}

type eventKind int

const (
	eventDetach eventKind = iota
	eventAllDetached
	eventPermissionResult
	eventPermissionRevoked
	eventAttach
	eventRetry
	eventSnapshot
)

// precedence orders events within one drained batch: removals first, then
// permission answers, then new candidates, then full snapshots.
func (k eventKind) precedence() int {
	switch k {
	case eventDetach, eventAllDetached:
		return 0
	case eventPermissionResult, eventPermissionRevoked:
		return 1
	case eventAttach, eventRetry:
		return 2
	default:
		return 3
	}
}

type event struct {
	kind    eventKind
	id      models.Identity
	desc    models.DeviceDescriptor
	descs   []models.DeviceDescriptor
	granted bool
}

type view struct {
	state   models.SessionState
	session *models.Session
	devices []models.DeviceDescriptor
}

type options struct {
	classifier Classifier
	checker    permission.Checker
	logger     logger.Logger
	now        func() time.Time
	newID      func() string
}

// Option configures a Manager.
type Option func(*options)

// WithClassifier replaces the default classifier.
func WithClassifier(c Classifier) Option {
	return func(o *options) {
		o.classifier = c
	}
}

// WithChecker lets the permission gate ask the host for existing permissions.
func WithChecker(c permission.Checker) Option {
	return func(o *options) {
		o.checker = c
	}
}

// WithLogger sets the manager logger.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		o.logger = log
	}
}

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithSessionIDs sets the session id generator.
func WithSessionIDs(newID func() string) Option {
	return func(o *options) {
		o.newID = newID
	}
}

// Manager is the single owner of the session state machine. Inbound events
// are queued on an unbounded mailbox and never block the caller; a single
// goroutine applies them in order.
type Manager struct {
	machine *Machine
	logger  logger.Logger

	mu       sync.Mutex
	queue    []event
	started  bool
	stopping bool
	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	listenersMu  sync.RWMutex
	listeners    []listenerEntry
	nextListener uint64

	viewMu sync.RWMutex
	view   view

	// owned by the actor goroutine
	outbox  []models.ConnectionStatus
	devices []models.DeviceDescriptor
}

// NewManager returns a Manager that dispatches permission prompts through
// requester. Events may be queued before Start.
func NewManager(requester permission.Requester, opts ...Option) *Manager {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = logger.NewTestLogger()
	}

	m := &Manager{
		logger: o.logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	gateOpts := []permission.Option{permission.WithLogger(logger.Component(o.logger, "permission"))}
	if o.checker != nil {
		gateOpts = append(gateOpts, permission.WithChecker(o.checker))
	}

	m.machine = NewMachine(MachineConfig{
		Classifier: o.classifier,
		Gate:       permission.NewGate(requester, gateOpts...),
		Emit:       func(s models.ConnectionStatus) { m.outbox = append(m.outbox, s) },
		Logger:     o.logger,
		Now:        o.now,
		NewID:      o.newID,
	})

	return m
}

// Start launches the manager goroutine and returns. Cancelling ctx has the
// same effect as Stop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopping {
		return ErrManagerStopped
	}

	if m.started {
		return ErrManagerRunning
	}

	m.started = true

	go m.run(ctx)

	m.logger.Info().Msg("Session manager started")

	return nil
}

// Stop tears the session down, drops all listeners and rejects further
// events. Events queued before Stop are applied first. Stop is idempotent
// and must not be called from a Listener.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	started := m.started
	m.stopping = true
	m.mu.Unlock()

	if !started {
		m.stopOnce.Do(func() {
			m.shutdown(ctx)
			close(m.done)
		})

		return nil
	}

	m.signal()

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the manager has shut down.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// NotifyAttach reports a newly attached device.
func (m *Manager) NotifyAttach(desc models.DeviceDescriptor) error {
	return m.enqueue(event{kind: eventAttach, id: desc.Identity, desc: desc})
}

// NotifyDetach reports a removed device.
func (m *Manager) NotifyDetach(id models.Identity) error {
	return m.enqueue(event{kind: eventDetach, id: id})
}

// NotifyAllDetached reports that the host has no USB peripherals attached.
func (m *Manager) NotifyAllDetached() error {
	return m.enqueue(event{kind: eventAllDetached})
}

// NotifyPermissionResult reports the answer to a permission prompt.
func (m *Manager) NotifyPermissionResult(id models.Identity, granted bool) error {
	return m.enqueue(event{kind: eventPermissionResult, id: id, granted: granted})
}

// NotifyPermissionRevoked reports that the host withdrew a permission.
func (m *Manager) NotifyPermissionRevoked(id models.Identity) error {
	return m.enqueue(event{kind: eventPermissionRevoked, id: id})
}

// NotifySnapshot reports a full device enumeration.
func (m *Manager) NotifySnapshot(descs []models.DeviceDescriptor) error {
	return m.enqueue(event{kind: eventSnapshot, descs: append([]models.DeviceDescriptor(nil), descs...)})
}

// RetryPermission asks for a new prompt for a device whose permission was
// denied, or whose pending prompt could not be sent.
func (m *Manager) RetryPermission(id models.Identity) error {
	return m.enqueue(event{kind: eventRetry, id: id})
}

// Subscribe registers l for status notifications.
func (m *Manager) Subscribe(l Listener) *Subscription {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	m.nextListener++
	m.listeners = append(m.listeners, listenerEntry{id: m.nextListener, listener: l})

	return &Subscription{manager: m, id: m.nextListener}
}

// State returns the session state as of the last applied event.
func (m *Manager) State() models.SessionState {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()

	return m.view.state
}

// CurrentSession returns the active session, if any.
func (m *Manager) CurrentSession() (models.Session, bool) {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()

	if m.view.session == nil {
		return models.Session{}, false
	}

	return *m.view.session, true
}

// Devices returns the devices observed by the last snapshot and later
// attach/detach events.
func (m *Manager) Devices() []models.DeviceDescriptor {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()

	return append([]models.DeviceDescriptor(nil), m.view.devices...)
}

func (m *Manager) enqueue(ev event) error {
	m.mu.Lock()

	if m.stopping {
		m.mu.Unlock()
		return ErrManagerStopped
	}

	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	m.signal()

	return nil
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) take() ([]event, bool) {
	m.mu.Lock()
	batch := m.queue
	m.queue = nil
	stopping := m.stopping
	m.mu.Unlock()

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].kind.precedence() < batch[j].kind.precedence()
	})

	return batch, stopping
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	for {
		select {
		case <-m.wake:
		case <-ctx.Done():
			m.mu.Lock()
			m.stopping = true
			m.mu.Unlock()
		}

		batch, stopping := m.take()

		for i := range batch {
			m.apply(ctx, &batch[i])
		}

		if stopping {
			m.shutdown(context.WithoutCancel(ctx))
			return
		}
	}
}

func (m *Manager) apply(ctx context.Context, ev *event) {
	switch ev.kind {
	case eventSnapshot:
		m.devices = ev.descs
		m.machine.HandleSnapshot(ctx, ev.descs)
	case eventAttach:
		m.addDevice(ev.desc)
		m.machine.HandleAttach(ctx, ev.desc)
	case eventDetach:
		m.removeDevice(ev.id)
		m.machine.HandleDetach(ctx, ev.id)
	case eventAllDetached:
		m.devices = nil
		m.machine.HandleAllDetached(ctx)
	case eventPermissionResult:
		m.machine.HandlePermissionResult(ctx, ev.id, ev.granted)
	case eventPermissionRevoked:
		m.machine.HandlePermissionRevoked(ctx, ev.id)
	case eventRetry:
		if !m.machine.Retry(ctx, ev.id) {
			m.logger.Debug().Str("identity", string(ev.id)).Msg("Permission retry had no effect")
		}
	}

	m.publish()
	m.flush()
}

func (m *Manager) shutdown(ctx context.Context) {
	m.machine.Teardown(ctx)
	m.devices = nil

	m.publish()
	m.flush()

	m.listenersMu.Lock()
	m.listeners = nil
	m.listenersMu.Unlock()

	m.logger.Info().Msg("Session manager stopped")
}

func (m *Manager) addDevice(desc models.DeviceDescriptor) {
	for i := range m.devices {
		if m.devices[i].Identity == desc.Identity {
			devices := append([]models.DeviceDescriptor(nil), m.devices...)
			devices[i] = desc
			m.devices = devices

			return
		}
	}

	m.devices = append(append([]models.DeviceDescriptor(nil), m.devices...), desc)
}

func (m *Manager) removeDevice(id models.Identity) {
	devices := make([]models.DeviceDescriptor, 0, len(m.devices))

	for i := range m.devices {
		if m.devices[i].Identity != id {
			devices = append(devices, m.devices[i])
		}
	}

	m.devices = devices
}

func (m *Manager) publish() {
	v := view{state: m.machine.State(), devices: m.devices}
	if sess, ok := m.machine.Current(); ok {
		v.session = &sess
	}

	m.viewMu.Lock()
	m.view = v
	m.viewMu.Unlock()
}

func (m *Manager) flush() {
	if len(m.outbox) == 0 {
		return
	}

	statuses := m.outbox
	m.outbox = nil

	m.listenersMu.RLock()
	listeners := append([]listenerEntry(nil), m.listeners...)
	m.listenersMu.RUnlock()

	for _, status := range statuses {
		for _, entry := range listeners {
			m.deliver(entry, status)
		}
	}
}

func (m *Manager) deliver(entry listenerEntry, status models.ConnectionStatus) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Interface("panic", r).
				Uint64("listener", entry.id).
				Str("reason", string(status.Reason)).
				Msg("Status listener panicked")
		}
	}()

	entry.listener.OnStatus(status)
}

func (m *Manager) removeListener(id uint64) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	for i := range m.listeners {
		if m.listeners[i].id == id {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return
		}
	}
}
