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

import "errors"

var (
	// ErrRequestFailed wraps any failure to dispatch a permission request.
	ErrRequestFailed = errors.New("permission request failed")
	// ErrUnknownDevice is returned for identities that were never recorded.
	ErrUnknownDevice = errors.New("device has no permission record")
	errRequesterPanic = errors.New("requester panicked")
	errNoRequester    = errors.New("no requester configured")
)
