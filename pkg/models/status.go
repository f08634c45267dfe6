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

package models

import "time"

// StatusReason tells why a ConnectionStatus was emitted.
type StatusReason string

const (
	ReasonConnected     StatusReason = "connected"
	ReasonDetached      StatusReason = "detached"
	ReasonDisappeared   StatusReason = "disappeared"
	ReasonAllDetached   StatusReason = "all_detached"
	ReasonRevoked       StatusReason = "revoked"
	ReasonDenied        StatusReason = "denied"
	ReasonRequestFailed StatusReason = "request_failed"
	ReasonShutdown      StatusReason = "shutdown"
)

// ConnectionStatus is the notification delivered to status listeners.
type ConnectionStatus struct {
	Connected bool         `json:"connected"`
	Label     string       `json:"label"`
	Reason    StatusReason `json:"reason"`
	Identity  Identity     `json:"identity,omitempty"`
	Model     ModelTag     `json:"model,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
