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

// Package classifier decides whether a USB descriptor belongs to a known
// remote-controller peripheral.
//
// Rules are checked in priority order and the first match wins:
//
//  1. Model equals or contains a known model tag.
//  2. ProductName or Description contains the logic-link marker.
//  3. Manufacturer equals a known vendor name.
//  4. A generic (non-accessory) device carries a known USB vendor id.
//
// All string comparisons are case-insensitive and empty fields never match.
package classifier

import (
	"strings"

	"github.com/carverauto/rclink/pkg/models"
)

// DefaultLinkMarker is the product/description marker of the logic-link protocol.
const DefaultLinkMarker = "com.dji.logiclink"

// DJIVendorID is the USB vendor id of DJI Technology Co., Ltd.
const DJIVendorID uint16 = 0x2ca3

// Rules is the matching table. The zero value matches nothing; use
// DefaultRules for the built-in table.
type Rules struct {
	Models     []models.ModelTag `json:"models"`
	LinkMarker string            `json:"link_marker"`
	Vendors    []string          `json:"vendors"`
	VendorIDs  []uint16          `json:"vendor_ids"`
}

// DefaultRules returns the built-in matching table.
func DefaultRules() Rules {
	return Rules{
		Models:     models.KnownModels(),
		LinkMarker: DefaultLinkMarker,
		Vendors:    []string{"DJI"},
		VendorIDs:  []uint16{DJIVendorID},
	}
}

// Classifier applies a Rules table. It holds no mutable state and is safe for
// concurrent use.
type Classifier struct {
	rules Rules
}

// New returns a Classifier for rules. Blank table entries are dropped.
func New(rules Rules) *Classifier {
	c := &Classifier{}

	for _, m := range rules.Models {
		if !isAbsent(string(m)) {
			c.rules.Models = append(c.rules.Models, m)
		}
	}

	for _, v := range rules.Vendors {
		if !isAbsent(v) {
			c.rules.Vendors = append(c.rules.Vendors, strings.TrimSpace(v))
		}
	}

	c.rules.LinkMarker = strings.TrimSpace(rules.LinkMarker)
	c.rules.VendorIDs = append(c.rules.VendorIDs, rules.VendorIDs...)

	return c
}

// Default returns a Classifier using DefaultRules.
func Default() *Classifier {
	return New(DefaultRules())
}

//nolint:gochecknoglobals // immutable default table
var defaultClassifier = Default()

// Classify runs desc through the default rules.
func Classify(desc models.DeviceDescriptor) models.Classification {
	return defaultClassifier.Classify(desc)
}

// Rules returns a copy of the table in use.
func (c *Classifier) Rules() Rules {
	return Rules{
		Models:     append([]models.ModelTag(nil), c.rules.Models...),
		LinkMarker: c.rules.LinkMarker,
		Vendors:    append([]string(nil), c.rules.Vendors...),
		VendorIDs:  append([]uint16(nil), c.rules.VendorIDs...),
	}
}

// Classify returns the classification of desc. It never fails: partial or
// malformed descriptors come back Unrecognized.
func (c *Classifier) Classify(desc models.DeviceDescriptor) models.Classification {
	if tag, ok := c.matchModel(desc.Model); ok {
		return models.Recognized(tag, models.RuleModel)
	}

	if c.matchLinkMarker(desc.ProductName) || c.matchLinkMarker(desc.Description) {
		return models.Recognized(models.ModelLogicLink, models.RuleLinkProtocol)
	}

	if c.matchVendor(desc.Manufacturer) {
		return models.Recognized(models.ModelGeneric, models.RuleManufacturer)
	}

	if desc.Kind == models.KindGenericDevice && c.matchVendorID(desc.VendorID) {
		return models.Recognized(models.ModelGeneric, models.RuleVendorID)
	}

	return models.Unrecognized
}

func (c *Classifier) matchModel(model string) (models.ModelTag, bool) {
	if isAbsent(model) {
		return "", false
	}

	for _, tag := range c.rules.Models {
		if strings.EqualFold(model, string(tag)) || containsFold(model, string(tag)) {
			return tag, true
		}
	}

	return "", false
}

func (c *Classifier) matchLinkMarker(field string) bool {
	if isAbsent(field) || c.rules.LinkMarker == "" {
		return false
	}

	return containsFold(field, c.rules.LinkMarker)
}

func (c *Classifier) matchVendor(manufacturer string) bool {
	if isAbsent(manufacturer) {
		return false
	}

	manufacturer = strings.TrimSpace(manufacturer)

	for _, vendor := range c.rules.Vendors {
		if strings.EqualFold(manufacturer, vendor) {
			return true
		}
	}

	return false
}

func (c *Classifier) matchVendorID(vid uint16) bool {
	if vid == 0 {
		return false
	}

	for _, known := range c.rules.VendorIDs {
		if vid == known {
			return true
		}
	}

	return false
}

func isAbsent(s string) bool {
	return strings.TrimSpace(s) == ""
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
