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

// Package sysfs enumerates USB devices from the Linux sysfs tree.
package sysfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/carverauto/rclink/pkg/logger"
	"github.com/carverauto/rclink/pkg/models"
)

// DefaultRoot is where the kernel lists USB devices.
const DefaultRoot = "/sys/bus/usb/devices"

var errMissingAttribute = errors.New("missing sysfs attribute")

// Enumerator reads device attributes below a sysfs root.
type Enumerator struct {
	root   string
	logger logger.Logger
}

// New returns an Enumerator for root, or DefaultRoot when root is empty.
func New(root string, log logger.Logger) *Enumerator {
	if root == "" {
		root = DefaultRoot
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Enumerator{root: root, logger: log}
}

// Device is a descriptor together with its kernel device name (1-1.4).
type Device struct {
	Name       string
	Descriptor models.DeviceDescriptor
}

// Enumerate lists every USB device below the root. Root hubs (usbN) and
// interface nodes (1-1:1.0) are skipped, as are devices whose ids cannot
// be read.
func (e *Enumerator) Enumerate(ctx context.Context) ([]models.DeviceDescriptor, error) {
	devices, err := e.Scan(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.DeviceDescriptor, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Descriptor)
	}

	return out, nil
}

// Scan is Enumerate keeping the kernel name of each device.
func (e *Enumerator) Scan(ctx context.Context) ([]Device, error) {
	entries, err := os.ReadDir(e.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", e.root, err)
	}

	var out []Device

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := entry.Name()

		if !IsDeviceName(name) {
			continue
		}

		desc, err := e.ReadDevice(name)
		if err != nil {
			e.logger.Debug().Err(err).Str("device", name).Msg("Skipping unreadable sysfs device")
			continue
		}

		out = append(out, Device{Name: name, Descriptor: desc})
	}

	return out, nil
}

// IsDeviceName reports whether a sysfs entry names a device rather than a
// root hub or an interface.
func IsDeviceName(name string) bool {
	return name != "" && !strings.HasPrefix(name, "usb") && !strings.Contains(name, ":")
}

// ReadDevice reads the descriptor of one device by kernel name.
func (e *Enumerator) ReadDevice(name string) (models.DeviceDescriptor, error) {
	dir := filepath.Join(e.root, name)

	vid, err := readHex16(filepath.Join(dir, "idVendor"))
	if err != nil {
		return models.DeviceDescriptor{}, err
	}

	pid, err := readHex16(filepath.Join(dir, "idProduct"))
	if err != nil {
		return models.DeviceDescriptor{}, err
	}

	serial := readString(filepath.Join(dir, "serial"))

	key := serial
	if key == "" {
		// without a serial the bus port keeps identical devices apart
		key = "port-" + name
	}

	return models.DeviceDescriptor{
		Identity:     models.DeviceIdentity(vid, pid, key),
		Manufacturer: readString(filepath.Join(dir, "manufacturer")),
		ProductName:  readString(filepath.Join(dir, "product")),
		Serial:       serial,
		VendorID:     vid,
		ProductID:    pid,
		Kind:         models.KindGenericDevice,
	}, nil
}

func readString(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(b))
}

func readHex16(path string) (uint16, error) {
	s := readString(path)
	if s == "" {
		return 0, fmt.Errorf("%w: %s", errMissingAttribute, filepath.Base(path))
	}

	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	return uint16(v), nil
}
