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

package classifier

import (
	"fmt"
	"strings"

	"github.com/carverauto/rclink/pkg/models"
)

// Describe renders one line for device listings:
//   - "Product (Manufacturer) [vid:pid]" for generic devices
//   - "Manufacturer Model (Description)" for accessories
func Describe(desc models.DeviceDescriptor) string {
	if desc.Kind == models.KindAccessory {
		name := joinNonEmpty(desc.Manufacturer, desc.Model)
		if name == "" {
			name = "Unknown accessory"
		}

		if d := strings.TrimSpace(desc.Description); d != "" {
			return fmt.Sprintf("%s (%s)", name, d)
		}

		return name
	}

	product := strings.TrimSpace(desc.ProductName)
	if product == "" {
		product = "Unknown"
	}

	if m := strings.TrimSpace(desc.Manufacturer); m != "" {
		return fmt.Sprintf("%s (%s) [%04x:%04x]", product, m, desc.VendorID, desc.ProductID)
	}

	return fmt.Sprintf("%s [%04x:%04x]", product, desc.VendorID, desc.ProductID)
}

// Label is the human name of a recognized peripheral, e.g. "DJI RM330":
// manufacturer followed by model, falling back to the product name and then
// the classified model tag.
func Label(desc models.DeviceDescriptor, cls models.Classification) string {
	model := strings.TrimSpace(desc.Model)
	if model == "" {
		model = strings.TrimSpace(desc.ProductName)
	}

	if model == "" && cls.Recognized && cls.Model != models.ModelGeneric {
		model = string(cls.Model)
	}

	name := joinNonEmpty(desc.Manufacturer, model)
	if name == "" {
		return string(desc.Identity)
	}

	return name
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return strings.Join(out, " ")
}
