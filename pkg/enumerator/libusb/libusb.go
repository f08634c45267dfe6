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

//go:build libusb

package libusb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"
	"github.com/google/gousb/usbid"

	"github.com/carverauto/rclink/pkg/logger"
	"github.com/carverauto/rclink/pkg/models"
)

var errContextInit = errors.New("failed to initialise libusb")

// Enumerator lists devices via libusb. Devices that cannot be opened, for
// example for lack of permission, are still reported with their ids. A
// device keeps the identity of its first scan for as long as it stays at
// the same bus address.
type Enumerator struct {
	logger logger.Logger
	ids    *identities
}

// New returns a libusb Enumerator.
func New(log logger.Logger) *Enumerator {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Enumerator{logger: log, ids: newIdentities()}
}

// Enumerate implements enumerator.Enumerator.
func (e *Enumerator) Enumerate(ctx context.Context) (descs []models.DeviceDescriptor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errContextInit, r)
		}
	}()

	usbCtx := gousb.NewContext()
	defer func() { _ = usbCtx.Close() }()

	var seen []*gousb.DeviceDesc

	devices, openErr := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		seen = append(seen, desc)
		return true
	})

	defer func() {
		for _, dev := range devices {
			_ = dev.Close()
		}
	}()

	if openErr != nil {
		e.logger.Debug().Err(openErr).Msg("Some USB devices could not be opened")
	}

	opened := make(map[string]*gousb.Device, len(devices))
	for _, dev := range devices {
		opened[busKey(dev.Desc)] = dev
	}

	descs = make([]models.DeviceDescriptor, 0, len(seen))
	present := make(map[string]struct{}, len(seen))

	for _, desc := range seen {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		present[busKey(desc)] = struct{}{}
		descs = append(descs, e.describe(desc, opened[busKey(desc)]))
	}

	e.ids.retain(present)

	return descs, nil
}

func (e *Enumerator) describe(desc *gousb.DeviceDesc, dev *gousb.Device) models.DeviceDescriptor {
	vid, pid := uint16(desc.Vendor), uint16(desc.Product)

	out := models.DeviceDescriptor{
		Description: usbid.Describe(desc),
		VendorID:    vid,
		ProductID:   pid,
		Kind:        models.KindGenericDevice,
	}

	if dev != nil {
		out.Manufacturer = e.stringDescriptor(dev, "manufacturer", dev.Manufacturer)
		out.ProductName = e.stringDescriptor(dev, "product", dev.Product)
		out.Serial = e.stringDescriptor(dev, "serial", dev.SerialNumber)
	}

	out.Identity = e.ids.resolve(busKey(desc), vid, pid, out.Serial)

	return out
}

func (e *Enumerator) stringDescriptor(dev *gousb.Device, name string, read func() (string, error)) string {
	s, err := read()
	if err != nil {
		e.logger.Trace().Err(err).Str("device", dev.String()).Str("descriptor", name).Msg("String descriptor unavailable")
		return ""
	}

	return s
}

func busKey(desc *gousb.DeviceDesc) string {
	return fmt.Sprintf("%d-%d", desc.Bus, desc.Address)
}
