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

package hotplug

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/rclink/pkg/enumerator/sysfs"
	"github.com/carverauto/rclink/pkg/models"
)

func uevent(fields ...string) []byte {
	return []byte(strings.Join(fields, "\x00") + "\x00")
}

func addEvent(name string) []byte {
	devpath := "/devices/pci0000:00/0000:00:14.0/usb1/" + name

	return uevent("add@"+devpath, "ACTION=add", "DEVPATH="+devpath,
		"SUBSYSTEM=usb", "DEVTYPE=usb_device", "PRODUCT=2ca3/1020/100", "BUSNUM=001", "DEVNUM=007", "SEQNUM=4211")
}

func removeEvent(name string) []byte {
	devpath := "/devices/pci0000:00/0000:00:14.0/usb1/" + name

	return uevent("remove@"+devpath, "ACTION=remove", "DEVPATH="+devpath,
		"SUBSYSTEM=usb", "DEVTYPE=usb_device", "SEQNUM=4212")
}

func writeDevice(t *testing.T, root, name, vid, pid, serial string) {
	t.Helper()

	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	attrs := map[string]string{"idVendor": vid, "idProduct": pid, "manufacturer": "DJI", "serial": serial}
	for k, v := range attrs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, k), []byte(v+"\n"), 0o600))
	}
}

type recordingSink struct {
	mu       sync.Mutex
	attached []models.Identity
	detached []models.Identity
}

func (s *recordingSink) NotifyAttach(desc models.DeviceDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attached = append(s.attached, desc.Identity)

	return nil
}

func (s *recordingSink) NotifyDetach(id models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detached = append(s.detached, id)

	return nil
}

func (s *recordingSink) snapshot() (attached, detached []models.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.Identity(nil), s.attached...), append([]models.Identity(nil), s.detached...)
}

type fakeConn struct {
	msgs   chan []byte
	errs   chan error
	mu     sync.Mutex
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan []byte, 8), errs: make(chan error, 1)}
}

func (c *fakeConn) Receive(buf []byte) (int, error) {
	select {
	case msg := <-c.msgs:
		return copy(buf, msg), nil
	case err := <-c.errs:
		return 0, err
	case <-time.After(5 * time.Millisecond):
		return 0, nil
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func TestParseEvent(t *testing.T) {
	ev := ParseEvent(addEvent("1-1.4"))

	assert.Equal(t, ActionAdd, ev.Action)
	assert.Equal(t, "/devices/pci0000:00/0000:00:14.0/usb1/1-1.4", ev.DevPath)
	assert.Equal(t, "1-1.4", ev.Name())
	assert.True(t, ev.USBDevice())

	ev = ParseEvent(uevent("remove@/devices/pci0000:00/0000:00:14.0/usb1/1-2/1-2:1.0",
		"SUBSYSTEM=usb", "DEVTYPE=usb_interface"))
	assert.Equal(t, ActionRemove, ev.Action, "header supplies the action")
	assert.Equal(t, "1-2:1.0", ev.Name())
	assert.False(t, ev.USBDevice())

	ev = ParseEvent(nil)
	assert.Empty(t, ev.Name())
	assert.False(t, ev.USBDevice())
}

func TestMonitor_Handle(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeDevice(t, root, "1-1", "2ca3", "1020", "3BQ")

	reader := sysfs.New(root, nil)
	sink := &recordingSink{}
	rescans := 0

	m := New(newFakeConn(), reader, sink, WithRescan(func(context.Context) error {
		rescans++
		return nil
	}))

	want, err := reader.ReadDevice("1-1")
	require.NoError(t, err)

	m.Handle(ctx, ParseEvent(addEvent("1-1")))
	m.Handle(ctx, ParseEvent(uevent("add@/devices/usb1/1-1/1-1:1.0", "SUBSYSTEM=usb", "DEVTYPE=usb_interface")))
	m.Handle(ctx, ParseEvent(removeEvent("1-1")))

	attached, detached := sink.snapshot()
	assert.Equal(t, []models.Identity{want.Identity}, attached)
	assert.Equal(t, []models.Identity{want.Identity}, detached)
	assert.Equal(t, 0, rescans)

	m.Handle(ctx, ParseEvent(removeEvent("1-1")))
	m.Handle(ctx, ParseEvent(addEvent("1-9")))
	assert.Equal(t, 2, rescans, "unresolvable events fall back to a rescan")

	_, detached = sink.snapshot()
	assert.Len(t, detached, 1)
}

func TestMonitor_ReplacedDeviceIsDetachedFirst(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeDevice(t, root, "1-1", "2ca3", "1020", "3BQ")

	reader := sysfs.New(root, nil)
	sink := &recordingSink{}
	m := New(newFakeConn(), reader, sink)

	m.Handle(ctx, ParseEvent(addEvent("1-1")))

	writeDevice(t, root, "1-1", "2ca3", "1020", "7CX")
	m.Handle(ctx, ParseEvent(addEvent("1-1")))

	attached, detached := sink.snapshot()
	require.Len(t, attached, 2)
	assert.Equal(t, []models.Identity{attached[0]}, detached)
	assert.NotEqual(t, attached[0], attached[1])
}

func TestMonitor_Run(t *testing.T) {
	root := t.TempDir()
	writeDevice(t, root, "1-1", "2ca3", "1020", "3BQ")

	reader := sysfs.New(root, nil)
	present, err := reader.ReadDevice("1-1")
	require.NoError(t, err)

	sink := &recordingSink{}
	conn := newFakeConn()
	m := New(conn, reader, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- m.Run(ctx) }()

	// present at start: a removal is resolved without an add event
	conn.msgs <- removeEvent("1-1")

	require.Eventually(t, func() bool {
		_, detached := sink.snapshot()
		return len(detached) == 1
	}, time.Second, 5*time.Millisecond)

	_, detached := sink.snapshot()
	assert.Equal(t, present.Identity, detached[0])

	writeDevice(t, root, "1-3", "2ca3", "1020", "9QZ")
	conn.msgs <- addEvent("1-3")

	require.Eventually(t, func() bool {
		attached, _ := sink.snapshot()
		return len(attached) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}

	assert.True(t, conn.isClosed())
}

func TestMonitor_RunOverflowRescansAndSocketErrorStops(t *testing.T) {
	conn := newFakeConn()
	rescanned := make(chan struct{}, 1)

	m := New(conn, sysfs.New(t.TempDir(), nil), &recordingSink{}, WithRescan(func(context.Context) error {
		rescanned <- struct{}{}
		return nil
	}))

	done := make(chan error, 1)

	go func() { done <- m.Run(context.Background()) }()

	conn.errs <- ErrOverflow

	select {
	case <-rescanned:
	case <-time.After(time.Second):
		t.Fatal("overflow did not trigger a rescan")
	}

	errSocket := errors.New("socket gone")
	conn.errs <- errSocket

	select {
	case err := <-done:
		require.ErrorIs(t, err, errSocket)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on socket error")
	}

	assert.True(t, conn.isClosed())
}
