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

package sysfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/rclink/pkg/models"
)

func writeDevice(t *testing.T, root, name string, attrs map[string]string) {
	t.Helper()

	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	for k, v := range attrs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, k), []byte(v+"\n"), 0o600))
	}
}

func TestEnumerate(t *testing.T) {
	root := t.TempDir()

	writeDevice(t, root, "usb1", map[string]string{"idVendor": "1d6b", "idProduct": "0002"})
	writeDevice(t, root, "1-1", map[string]string{
		"idVendor":     "2ca3",
		"idProduct":    "1020",
		"manufacturer": "DJI",
		"product":      "RC-N1",
		"serial":       "3BQ",
	})
	writeDevice(t, root, "1-1:1.0", map[string]string{"bInterfaceClass": "ff"})
	writeDevice(t, root, "1-2", map[string]string{"idVendor": "046d", "idProduct": "c31c"})
	writeDevice(t, root, "1-3", map[string]string{"idVendor": "zzzz", "idProduct": "0001"})
	writeDevice(t, root, "1-4", map[string]string{"product": "no ids"})

	descs, err := New(root, nil).Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 2)

	assert.Equal(t, models.DeviceDescriptor{
		Identity:     "2ca3:1020:3BQ",
		Manufacturer: "DJI",
		ProductName:  "RC-N1",
		Serial:       "3BQ",
		VendorID:     0x2ca3,
		ProductID:    0x1020,
		Kind:         models.KindGenericDevice,
	}, descs[0])

	assert.Equal(t, models.Identity("046d:c31c:port-1-2"), descs[1].Identity)
	assert.Empty(t, descs[1].Manufacturer)
}

func TestEnumerate_MissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent"), nil).Enumerate(context.Background())
	require.Error(t, err)
}

func TestNew_DefaultRoot(t *testing.T) {
	assert.Equal(t, DefaultRoot, New("", nil).root)
}

func TestScanAndReadDevice(t *testing.T) {
	root := t.TempDir()

	writeDevice(t, root, "usb2", map[string]string{"idVendor": "1d6b", "idProduct": "0003"})
	writeDevice(t, root, "2-1.4", map[string]string{"idVendor": "2ca3", "idProduct": "1020", "serial": "3BQ"})

	e := New(root, nil)

	devices, err := e.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "2-1.4", devices[0].Name)

	desc, err := e.ReadDevice("2-1.4")
	require.NoError(t, err)
	assert.Equal(t, devices[0].Descriptor, desc)

	_, err = e.ReadDevice("2-9")
	require.Error(t, err)
}

func TestIsDeviceName(t *testing.T) {
	assert.True(t, IsDeviceName("1-1"))
	assert.True(t, IsDeviceName("3-2.1.4"))
	assert.False(t, IsDeviceName("usb1"))
	assert.False(t, IsDeviceName("1-1:1.0"))
	assert.False(t, IsDeviceName(""))
}
