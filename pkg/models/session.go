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

import (
	"fmt"
	"time"
)

// PermissionState is the OS permission state of one recognized device.
type PermissionState int

const (
	PermissionNotRequested PermissionState = iota
	PermissionRequested
	PermissionGranted
	PermissionDenied
)

func (p PermissionState) String() string {
	switch p {
	case PermissionNotRequested:
		return "not_requested"
	case PermissionRequested:
		return "requested"
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return fmt.Sprintf("permission(%d)", int(p))
	}
}

// SessionState is the state of the session state machine.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionPending
	SessionActive
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionPending:
		return "pending"
	case SessionActive:
		return "active"
	default:
		return fmt.Sprintf("session(%d)", int(s))
	}
}

// Session records the single currently active peripheral connection.
type Session struct {
	ID            string    `json:"id"`
	Identity      Identity  `json:"identity"`
	Model         ModelTag  `json:"model"`
	Manufacturer  string    `json:"manufacturer,omitempty"`
	Label         string    `json:"label"`
	EstablishedAt time.Time `json:"established_at"`
}
