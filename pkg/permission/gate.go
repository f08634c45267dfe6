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

// Package permission tracks the OS permission handshake of recognized
// devices. Each identity gets at most one prompt per attachment episode.
package permission

import (
	"context"
	"fmt"

	"github.com/carverauto/rclink/pkg/logger"
	"github.com/carverauto/rclink/pkg/models"
)

type record struct {
	state          models.PermissionState
	model          models.ModelTag
	dispatchFailed bool
}

// Gate holds one permission record per recognized identity.
//
// A Gate is not safe for concurrent use. It is owned by the session actor.
type Gate struct {
	requester Requester
	checker   Checker
	logger    logger.Logger
	records   map[models.Identity]*record
}

// Option configures a Gate.
type Option func(*Gate)

// WithChecker consults c when a record is created.
func WithChecker(c Checker) Option {
	return func(g *Gate) {
		g.checker = c
	}
}

// WithLogger sets the gate logger.
func WithLogger(log logger.Logger) Option {
	return func(g *Gate) {
		if log != nil {
			g.logger = log
		}
	}
}

// NewGate returns an empty gate dispatching prompts through requester.
func NewGate(requester Requester, opts ...Option) *Gate {
	g := &Gate{
		requester: requester,
		logger:    logger.NewTestLogger(),
		records:   make(map[models.Identity]*record),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// RecordSeen creates a NotRequested record for a recognized identity. It is a
// no-op for unrecognized devices and for identities that already have a
// record. It reports whether a record was created.
func (g *Gate) RecordSeen(id models.Identity, cls models.Classification) bool {
	if !cls.Recognized || id == "" {
		return false
	}

	if _, ok := g.records[id]; ok {
		return false
	}

	rec := &record{state: models.PermissionNotRequested, model: cls.Model}

	if g.checker != nil && g.checker.HasPermission(id) {
		rec.state = models.PermissionGranted
	}

	g.records[id] = rec

	g.logger.Debug().
		Str("identity", string(id)).
		Str("model", string(cls.Model)).
		Str("permission", rec.state.String()).
		Msg("Tracking recognized device")

	return true
}

// State returns the permission state of id and whether a record exists.
func (g *Gate) State(id models.Identity) (models.PermissionState, bool) {
	rec, ok := g.records[id]
	if !ok {
		return models.PermissionNotRequested, false
	}

	return rec.state, true
}

// RequestIfNeeded dispatches a permission prompt for id when its record is
// NotRequested. It reports whether a prompt was dispatched. Dispatch failures
// leave the record Requested and are returned wrapped in ErrRequestFailed;
// later calls stay no-ops until Redispatch succeeds.
func (g *Gate) RequestIfNeeded(ctx context.Context, id models.Identity) (bool, error) {
	rec, ok := g.records[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	if rec.state != models.PermissionNotRequested {
		return false, nil
	}

	rec.state = models.PermissionRequested

	return g.send(ctx, id, rec)
}

// Redispatch sends the prompt for id again when the record is Requested and
// the previous dispatch failed. It reports whether a prompt was dispatched.
func (g *Gate) Redispatch(ctx context.Context, id models.Identity) (bool, error) {
	rec, ok := g.records[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	if rec.state != models.PermissionRequested || !rec.dispatchFailed {
		return false, nil
	}

	g.logger.Debug().Str("identity", string(id)).Msg("Re-dispatching failed permission request")

	return g.send(ctx, id, rec)
}

// DispatchFailed reports whether the last prompt dispatch for id failed and
// no answer has arrived since.
func (g *Gate) DispatchFailed(id models.Identity) bool {
	rec, ok := g.records[id]
	return ok && rec.state == models.PermissionRequested && rec.dispatchFailed
}

func (g *Gate) send(ctx context.Context, id models.Identity, rec *record) (bool, error) {
	if err := g.dispatch(ctx, id); err != nil {
		rec.dispatchFailed = true

		g.logger.Warn().Err(err).Str("identity", string(id)).Msg("Permission request could not be dispatched")

		return false, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}

	rec.dispatchFailed = false

	g.logger.Info().Str("identity", string(id)).Msg("Permission requested")

	return true, nil
}

func (g *Gate) dispatch(ctx context.Context, id models.Identity) (err error) {
	if g.requester == nil {
		return errNoRequester
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errRequesterPanic, r)
		}
	}()

	return g.requester.RequestPermission(ctx, id)
}

// OnPermissionResult applies the OS answer for id. Results are accepted only
// while the record is Requested; anything else is stale and ignored. It
// returns the resulting state and whether the result was applied.
func (g *Gate) OnPermissionResult(id models.Identity, granted bool) (models.PermissionState, bool) {
	rec, ok := g.records[id]
	if !ok {
		g.logger.Debug().Str("identity", string(id)).Bool("granted", granted).
			Msg("Ignoring permission result for untracked device")

		return models.PermissionNotRequested, false
	}

	if rec.state != models.PermissionRequested {
		g.logger.Debug().Str("identity", string(id)).Bool("granted", granted).
			Str("permission", rec.state.String()).
			Msg("Ignoring stale permission result")

		return rec.state, false
	}

	rec.dispatchFailed = false
	if granted {
		rec.state = models.PermissionGranted
	} else {
		rec.state = models.PermissionDenied
	}

	g.logger.Info().Str("identity", string(id)).Str("permission", rec.state.String()).Msg("Permission result")

	return rec.state, true
}

// Revoke moves a Granted record to Denied. It reports whether it did.
func (g *Gate) Revoke(id models.Identity) bool {
	rec, ok := g.records[id]
	if !ok || rec.state != models.PermissionGranted {
		return false
	}

	rec.state = models.PermissionDenied

	return true
}

// Reset moves a Denied record back to NotRequested so that the next
// candidate pass prompts again. It reports whether it did.
func (g *Gate) Reset(id models.Identity) bool {
	rec, ok := g.records[id]
	if !ok || rec.state != models.PermissionDenied {
		return false
	}

	rec.state = models.PermissionNotRequested
	rec.dispatchFailed = false

	return true
}

// Forget drops the record of id.
func (g *Gate) Forget(id models.Identity) {
	delete(g.records, id)
}

// Prune drops every record whose identity is not in present and returns the
// dropped identities.
func (g *Gate) Prune(present models.IdentitySet) []models.Identity {
	var dropped []models.Identity

	for id := range g.records {
		if !present.Has(id) {
			delete(g.records, id)
			dropped = append(dropped, id)
		}
	}

	return dropped
}

// Clear drops all records.
func (g *Gate) Clear() {
	clear(g.records)
}

// Len returns the number of tracked identities.
func (g *Gate) Len() int {
	return len(g.records)
}
