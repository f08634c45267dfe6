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

// Package session keeps a single coherent connection session for a
// recognized USB peripheral.
//
// Machine is the state machine (Idle, Pending, Active). Manager wraps a
// Machine in an actor goroutine so that OS callbacks, polling snapshots and
// permission results are applied one at a time, and fans status
// notifications out to listeners.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/rclink/pkg/classifier"
	"github.com/carverauto/rclink/pkg/logger"
	"github.com/carverauto/rclink/pkg/models"
	"github.com/carverauto/rclink/pkg/permission"
)

// Classifier decides whether a descriptor is a recognized peripheral.
type Classifier interface {
	Classify(desc models.DeviceDescriptor) models.Classification
}

// Emitter receives the status notifications produced by a Machine.
type Emitter func(models.ConnectionStatus)

type candidate struct {
	desc models.DeviceDescriptor
	cls  models.Classification
}

// Machine is the session state machine. At most one device is Pending or
// Active at a time; other recognized devices are tracked but ignored until
// the session ends.
//
// A Machine is not safe for concurrent use.
type Machine struct {
	classifier Classifier
	gate       *permission.Gate
	emit       Emitter
	logger     logger.Logger
	now        func() time.Time
	newID      func() string

	state   models.SessionState
	target  *candidate
	session *models.Session
	known   map[models.Identity]candidate
}

// MachineConfig holds the collaborators of a Machine. Only Gate is required.
type MachineConfig struct {
	Classifier Classifier
	Gate       *permission.Gate
	Emit       Emitter
	Logger     logger.Logger
	Now        func() time.Time
	NewID      func() string
}

// NewMachine returns an Idle machine.
func NewMachine(cfg MachineConfig) *Machine {
	m := &Machine{
		classifier: cfg.Classifier,
		gate:       cfg.Gate,
		emit:       cfg.Emit,
		logger:     cfg.Logger,
		now:        cfg.Now,
		newID:      cfg.NewID,
		known:      make(map[models.Identity]candidate),
	}

	if m.classifier == nil {
		m.classifier = classifier.Default()
	}

	if m.gate == nil {
		m.gate = permission.NewGate(nil)
	}

	if m.emit == nil {
		m.emit = func(models.ConnectionStatus) {}
	}

	if m.logger == nil {
		m.logger = logger.NewTestLogger()
	}

	if m.now == nil {
		m.now = time.Now
	}

	if m.newID == nil {
		m.newID = uuid.NewString
	}

	return m
}

// State returns the current state.
func (m *Machine) State() models.SessionState {
	return m.state
}

// Current returns the active session, if any.
func (m *Machine) Current() (models.Session, bool) {
	if m.session == nil {
		return models.Session{}, false
	}

	return *m.session, true
}

// Target returns the identity of the Pending or Active device.
func (m *Machine) Target() (models.Identity, bool) {
	if m.target == nil {
		return "", false
	}

	return m.target.desc.Identity, true
}

// HandleSnapshot reconciles the machine with a full device enumeration.
// Applying the same snapshot twice has no further effect.
func (m *Machine) HandleSnapshot(ctx context.Context, descs []models.DeviceDescriptor) {
	present := models.IdentitiesOf(descs)

	if m.target != nil && !present.Has(m.target.desc.Identity) {
		m.logger.Info().
			Str("identity", string(m.target.desc.Identity)).
			Str("state", m.state.String()).
			Msg("Session device no longer enumerated")

		m.end(ctx, models.ReasonDisappeared)
	}

	if dropped := m.gate.Prune(present); len(dropped) > 0 {
		m.logger.Debug().Int("count", len(dropped)).Msg("Forgot permission records of absent devices")
	}

	for id := range m.known {
		if !present.Has(id) {
			delete(m.known, id)
		}
	}

	var first *candidate

	for i := range descs {
		c, ok := m.observe(descs[i])
		if !ok {
			continue
		}

		if first == nil && m.selectable(c.desc.Identity) {
			first = &c
		}
	}

	if m.state == models.SessionIdle && first != nil {
		m.begin(ctx, *first)
	}
}

// HandleAttach processes a single newly attached device. It never tears
// down an existing session.
func (m *Machine) HandleAttach(ctx context.Context, desc models.DeviceDescriptor) {
	c, ok := m.observe(desc)
	if !ok {
		m.logger.Debug().Str("identity", string(desc.Identity)).Msg("Ignoring unrecognized device")
		return
	}

	if m.state != models.SessionIdle {
		if m.target.desc.Identity != desc.Identity {
			m.logger.Info().
				Str("identity", string(desc.Identity)).
				Str("session_identity", string(m.target.desc.Identity)).
				Msg("Ignoring second recognized device while a session is in progress")
		}

		return
	}

	if m.selectable(desc.Identity) {
		m.begin(ctx, c)
	}
}

// HandleDetach processes the removal of one device.
func (m *Machine) HandleDetach(ctx context.Context, id models.Identity) {
	if m.target != nil && m.target.desc.Identity == id {
		m.end(ctx, models.ReasonDetached)
	}

	m.gate.Forget(id)
	delete(m.known, id)
}

// HandleAllDetached processes the platform-wide "USB disconnected" state.
func (m *Machine) HandleAllDetached(ctx context.Context) {
	if m.target != nil {
		m.end(ctx, models.ReasonAllDetached)
	}

	m.gate.Clear()
	clear(m.known)
}

// HandlePermissionResult applies the OS answer to a permission prompt.
// Results for anything other than the Pending device only update the gate.
func (m *Machine) HandlePermissionResult(ctx context.Context, id models.Identity, granted bool) {
	state, applied := m.gate.OnPermissionResult(id, granted)
	if !applied {
		return
	}

	if m.state != models.SessionPending || m.target.desc.Identity != id {
		m.logger.Debug().
			Str("identity", string(id)).
			Str("permission", state.String()).
			Msg("Permission result for device that is not pending")

		return
	}

	if granted {
		m.activate(ctx, *m.target)
		return
	}

	c := *m.target
	m.reset()

	m.logger.Warn().Str("identity", string(id)).Msg("Permission denied")

	m.notify(ctx, models.ConnectionStatus{
		Connected: false,
		Label:     classifier.Label(c.desc, c.cls) + " permission denied",
		Reason:    models.ReasonDenied,
		Identity:  id,
		Model:     c.cls.Model,
		Timestamp: m.now(),
	})
}

// HandlePermissionRevoked processes the host withdrawing a granted permission.
func (m *Machine) HandlePermissionRevoked(ctx context.Context, id models.Identity) {
	if !m.gate.Revoke(id) {
		return
	}

	if m.target != nil && m.target.desc.Identity == id {
		m.end(ctx, models.ReasonRevoked)
	}
}

// Retry resends a prompt whose dispatch failed for the Pending device, or
// clears a denial for id and, when Idle, starts a new candidate pass for it.
// It reports whether a prompt was resent or a new pass started.
func (m *Machine) Retry(ctx context.Context, id models.Identity) bool {
	if m.state == models.SessionPending && m.target.desc.Identity == id {
		if !m.gate.DispatchFailed(id) {
			return false
		}

		dispatched, err := m.gate.Redispatch(ctx, id)
		m.requested(ctx, *m.target, dispatched, err)

		return dispatched
	}

	if !m.gate.Reset(id) {
		return false
	}

	c, ok := m.known[id]
	if !ok || m.state != models.SessionIdle {
		return false
	}

	m.begin(ctx, c)

	return m.state != models.SessionIdle
}

// Teardown ends any session and forgets all permission records. A
// disconnect is emitted only if a session was Active.
func (m *Machine) Teardown(ctx context.Context) {
	if m.target != nil {
		m.end(ctx, models.ReasonShutdown)
	}

	m.gate.Clear()
	clear(m.known)
}

func (m *Machine) observe(desc models.DeviceDescriptor) (candidate, bool) {
	if desc.Identity == "" {
		return candidate{}, false
	}

	cls := m.classifier.Classify(desc)
	if !cls.Recognized {
		return candidate{}, false
	}

	m.gate.RecordSeen(desc.Identity, cls)

	c := candidate{desc: desc, cls: cls}
	m.known[desc.Identity] = c

	return c, true
}

func (m *Machine) selectable(id models.Identity) bool {
	state, ok := m.gate.State(id)
	return ok && state != models.PermissionDenied
}

func (m *Machine) begin(ctx context.Context, c candidate) {
	state, _ := m.gate.State(c.desc.Identity)
	if state == models.PermissionGranted {
		m.activate(ctx, c)
		return
	}

	m.state = models.SessionPending
	m.target = &c

	m.logger.Info().
		Str("identity", string(c.desc.Identity)).
		Str("model", string(c.cls.Model)).
		Msg("Recognized device pending permission")

	dispatched, err := m.gate.RequestIfNeeded(ctx, c.desc.Identity)
	if errors.Is(err, permission.ErrUnknownDevice) {
		m.reset()
		return
	}

	m.requested(ctx, c, dispatched, err)
}

// requested records the outcome of a prompt dispatch for the Pending target.
// A failed dispatch keeps the machine Pending and is reported once; only
// Retry sends the prompt again.
func (m *Machine) requested(ctx context.Context, c candidate, dispatched bool, err error) {
	switch {
	case err != nil:
		recordPermissionRequest(ctx, "failed")
	case dispatched:
		recordPermissionRequest(ctx, "dispatched")
	}

	if err == nil {
		return
	}

	m.notify(ctx, models.ConnectionStatus{
		Connected: false,
		Label:     classifier.Label(c.desc, c.cls) + " permission request failed",
		Reason:    models.ReasonRequestFailed,
		Identity:  c.desc.Identity,
		Model:     c.cls.Model,
		Timestamp: m.now(),
	})
}

func (m *Machine) activate(ctx context.Context, c candidate) {
	sess := models.Session{
		ID:            m.newID(),
		Identity:      c.desc.Identity,
		Model:         c.cls.Model,
		Manufacturer:  c.desc.Manufacturer,
		Label:         classifier.Label(c.desc, c.cls),
		EstablishedAt: m.now(),
	}

	m.state = models.SessionActive
	m.target = &c
	m.session = &sess

	m.logger.Info().
		Str("identity", string(sess.Identity)).
		Str("session_id", sess.ID).
		Str("label", sess.Label).
		Msg("Session established")

	m.notify(ctx, models.ConnectionStatus{
		Connected: true,
		Label:     sess.Label + " connected",
		Reason:    models.ReasonConnected,
		Identity:  sess.Identity,
		Model:     sess.Model,
		SessionID: sess.ID,
		Timestamp: sess.EstablishedAt,
	})
}

// end returns the machine to Idle. Only an Active session produces a
// disconnect notification.
func (m *Machine) end(ctx context.Context, reason models.StatusReason) {
	sess := m.session
	wasActive := m.state == models.SessionActive

	m.reset()

	if !wasActive || sess == nil {
		return
	}

	now := m.now()

	m.logger.Info().
		Str("identity", string(sess.Identity)).
		Str("session_id", sess.ID).
		Str("reason", string(reason)).
		Msg("Session ended")

	recordSessionDuration(ctx, now.Sub(sess.EstablishedAt), sess.Model, reason)

	m.notify(ctx, models.ConnectionStatus{
		Connected: false,
		Label:     sess.Label + " disconnected",
		Reason:    reason,
		Identity:  sess.Identity,
		Model:     sess.Model,
		SessionID: sess.ID,
		Timestamp: now,
	})
}

func (m *Machine) reset() {
	m.state = models.SessionIdle
	m.target = nil
	m.session = nil
}

func (m *Machine) notify(ctx context.Context, status models.ConnectionStatus) {
	recordStatus(ctx, status)
	m.emit(status)
}
