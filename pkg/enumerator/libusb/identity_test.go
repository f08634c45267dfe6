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

package libusb

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carverauto/rclink/pkg/models"
)

func TestIdentities_StableAcrossOpenFailures(t *testing.T) {
	ids := newIdentities()

	first := ids.resolve("1-7", 0x2ca3, 0x1020, "3BQ")
	assert.Equal(t, models.Identity("2ca3:1020:3BQ"), first)

	// the next scan could not open the device and has no serial
	assert.Equal(t, first, ids.resolve("1-7", 0x2ca3, 0x1020, ""))

	unopened := ids.resolve("1-8", 0x2ca3, 0x1020, "")
	assert.Equal(t, models.Identity("2ca3:1020:port-1-8"), unopened)

	// opened later: the serial does not change the pinned identity
	assert.Equal(t, unopened, ids.resolve("1-8", 0x2ca3, 0x1020, "7CX"))
}

func TestIdentities_NewDeviceAtAddress(t *testing.T) {
	ids := newIdentities()

	ids.resolve("2-3", 0x2ca3, 0x1020, "3BQ")

	assert.Equal(t, models.Identity("046d:c31c:port-2-3"), ids.resolve("2-3", 0x046d, 0xc31c, ""),
		"different ids at the same address")
}

func TestIdentities_Retain(t *testing.T) {
	ids := newIdentities()

	ids.resolve("1-7", 0x2ca3, 0x1020, "3BQ")
	ids.resolve("1-8", 0x2ca3, 0x1020, "")

	ids.retain(map[string]struct{}{"1-8": {}})

	assert.Len(t, ids.byAddr, 1)
	assert.Equal(t, models.Identity("2ca3:1020:9QZ"), ids.resolve("1-7", 0x2ca3, 0x1020, "9QZ"))
	assert.Equal(t, models.Identity("2ca3:1020:port-1-8"), ids.resolve("1-8", 0x2ca3, 0x1020, "7CX"))
}
