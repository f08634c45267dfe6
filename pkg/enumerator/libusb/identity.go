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
	"sync"

	"github.com/carverauto/rclink/pkg/models"
)

type pinned struct {
	vendorID  uint16
	productID uint16
	identity  models.Identity
}

// identities pins each attached device to the identity first computed for
// its bus address. Whether libusb can open a device, and so read its serial,
// may change between scans; the identity must not.
type identities struct {
	mu     sync.Mutex
	byAddr map[string]pinned
}

func newIdentities() *identities {
	return &identities{byAddr: make(map[string]pinned)}
}

// resolve returns the pinned identity for addr, or pins a new one built
// from serial, falling back to the bus address. A different vendor or
// product at the same address is a new device.
func (c *identities) resolve(addr string, vendorID, productID uint16, serial string) models.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.byAddr[addr]; ok && p.vendorID == vendorID && p.productID == productID {
		return p.identity
	}

	key := serial
	if key == "" {
		key = "port-" + addr
	}

	id := models.DeviceIdentity(vendorID, productID, key)
	c.byAddr[addr] = pinned{vendorID: vendorID, productID: productID, identity: id}

	return id
}

// retain forgets addresses that are no longer enumerated. The kernel hands
// out a fresh address on every attach, so a replug starts a new identity.
func (c *identities) retain(present map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for addr := range c.byAddr {
		if _, ok := present[addr]; !ok {
			delete(c.byAddr, addr)
		}
	}
}
