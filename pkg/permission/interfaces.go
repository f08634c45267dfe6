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

package permission

import (
	"context"

	"github.com/carverauto/rclink/pkg/models"
)

//go:generate mockgen -destination=mock_permission.go -package=permission github.com/carverauto/rclink/pkg/permission Requester,Checker

// Requester asks the host OS to show its permission prompt for a device.
// The answer arrives later as a separate event; RequestPermission only
// reports whether the request could be dispatched.
type Requester interface {
	RequestPermission(ctx context.Context, id models.Identity) error
}

// RequesterFunc adapts a function to the Requester interface.
type RequesterFunc func(ctx context.Context, id models.Identity) error

// RequestPermission calls f(ctx, id).
func (f RequesterFunc) RequestPermission(ctx context.Context, id models.Identity) error {
	return f(ctx, id)
}

// Checker reports whether the host already holds permission for a device,
// so that a fresh record can start out Granted.
type Checker interface {
	HasPermission(id models.Identity) bool
}
