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
	"context"
	"errors"

	"github.com/carverauto/rclink/pkg/logger"
	"github.com/carverauto/rclink/pkg/models"
	"github.com/carverauto/rclink/pkg/session"
)

// PermissionAnswerer receives answers to permission requests.
type PermissionAnswerer interface {
	NotifyPermissionResult(id models.Identity, granted bool) error
}

// policyRequester answers permission requests with a fixed decision. The
// answer is queued to the session manager and applied after the request
// returns, like an operating system callback would be.
type policyRequester struct {
	granted bool
	target  PermissionAnswerer
	logger  logger.Logger
}

func newPolicyRequester(policy PermissionPolicy, log logger.Logger) *policyRequester {
	return &policyRequester{granted: policy == PolicyAuto, logger: log}
}

func (p *policyRequester) bind(target PermissionAnswerer) {
	p.target = target
}

// RequestPermission implements permission.Requester.
func (p *policyRequester) RequestPermission(_ context.Context, id models.Identity) error {
	p.logger.Info().
		Str("identity", string(id)).
		Bool("granted", p.granted).
		Msg("Answering permission request from policy")

	err := p.target.NotifyPermissionResult(id, p.granted)
	if err != nil && !errors.Is(err, session.ErrManagerStopped) {
		return err
	}

	return nil
}
