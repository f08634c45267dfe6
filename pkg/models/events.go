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

// CloudEvent is the CloudEvents 1.0 envelope used for published events.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

// ConnectionEventData is the payload of a peripheral connection event.
type ConnectionEventData struct {
	Connected bool         `json:"connected"`
	Label     string       `json:"label"`
	Reason    StatusReason `json:"reason"`
	Identity  Identity     `json:"identity,omitempty"`
	Model     ModelTag     `json:"model,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Host      string       `json:"host,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
