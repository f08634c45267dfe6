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

// Package models holds the data types shared by the rclink packages.
package models

import (
	"fmt"
	"strings"
)

// Identity is the stable key used to track one physical device across scans.
type Identity string

// DeviceKind distinguishes accessory-mode peripherals from plain USB devices.
type DeviceKind int

const (
	// KindGenericDevice is a peripheral enumerated by vendor/product ids.
	KindGenericDevice DeviceKind = iota
	// KindAccessory is a peripheral that identifies itself through the accessory
	// protocol strings (manufacturer, model, description).
	KindAccessory
)

func (k DeviceKind) String() string {
	switch k {
	case KindAccessory:
		return "accessory"
	case KindGenericDevice:
		return "device"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DeviceDescriptor is an immutable snapshot of one enumerable USB entity.
// Empty strings mean the platform did not report the field.
type DeviceDescriptor struct {
	Identity     Identity   `json:"identity"`
	Manufacturer string     `json:"manufacturer,omitempty"`
	ProductName  string     `json:"product_name,omitempty"`
	Model        string     `json:"model,omitempty"`
	Description  string     `json:"description,omitempty"`
	Serial       string     `json:"serial,omitempty"`
	VendorID     uint16     `json:"vendor_id,omitempty"`
	ProductID    uint16     `json:"product_id,omitempty"`
	Kind         DeviceKind `json:"kind"`
}

// SameDevice reports whether both descriptors describe the same identity.
func (d DeviceDescriptor) SameDevice(other DeviceDescriptor) bool {
	return d.Identity != "" && d.Identity == other.Identity
}

// DeviceIdentity builds the identity of a generic USB device from its
// vendor/product pair and, when available, its serial number.
func DeviceIdentity(vendorID, productID uint16, serial string) Identity {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return Identity(fmt.Sprintf("%04x:%04x", vendorID, productID))
	}

	return Identity(fmt.Sprintf("%04x:%04x:%s", vendorID, productID, serial))
}

// AccessoryIdentity builds the identity of an accessory-mode peripheral.
// The serial is preferred; accessories without one fall back to
// manufacturer and model.
func AccessoryIdentity(serial, manufacturer, model string) Identity {
	if serial = strings.TrimSpace(serial); serial != "" {
		return Identity("accessory:" + serial)
	}

	return Identity(fmt.Sprintf("accessory:%s/%s",
		strings.ToLower(strings.TrimSpace(manufacturer)),
		strings.ToLower(strings.TrimSpace(model))))
}

// IdentitySet is the set of identities observed in one snapshot.
type IdentitySet map[Identity]struct{}

// IdentitiesOf collects the identities of the given descriptors.
func IdentitiesOf(descs []DeviceDescriptor) IdentitySet {
	set := make(IdentitySet, len(descs))
	for i := range descs {
		set[descs[i].Identity] = struct{}{}
	}

	return set
}

// Has reports whether id is part of the set.
func (s IdentitySet) Has(id Identity) bool {
	_, ok := s[id]
	return ok
}
