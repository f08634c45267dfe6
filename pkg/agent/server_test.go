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

package agent

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

	"github.com/carverauto/rclink/pkg/diagnostics"
	"github.com/carverauto/rclink/pkg/enumerator"
	"github.com/carverauto/rclink/pkg/logger"
	"github.com/carverauto/rclink/pkg/models"
	"github.com/carverauto/rclink/pkg/permission"
)

var rm330 = models.DeviceDescriptor{
	Identity:     models.AccessoryIdentity("RM330SN", "DJI", "RM330"),
	Manufacturer: "DJI",
	Model:        "RM330",
	Description:  "DJI RC-N1",
	Serial:       "RM330SN",
	Kind:         models.KindAccessory,
}

var keyboard = models.DeviceDescriptor{
	Identity:     models.DeviceIdentity(0x046d, 0xc31c, ""),
	Manufacturer: "Logitech",
	ProductName:  "USB Keyboard",
	VendorID:     0x046d,
	ProductID:    0xc31c,
	Kind:         models.KindGenericDevice,
}

type fakePublisher struct {
	mu       sync.Mutex
	statuses []models.ConnectionStatus
}

func (p *fakePublisher) PublishConnectionEvent(_ context.Context, status models.ConnectionStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.statuses = append(p.statuses, status)

	return nil
}

func (p *fakePublisher) reasons() []models.StatusReason {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.StatusReason, 0, len(p.statuses))
	for _, s := range p.statuses {
		out = append(out, s.Reason)
	}

	return out
}

type fakeCollector struct {
	calls int
	err   error
}

func (f *fakeCollector) Collect(context.Context) (*diagnostics.Report, error) {
	f.calls++

	if f.err != nil {
		return nil, f.err
	}

	return &diagnostics.Report{Hostname: "bench"}, nil
}

func testConfig(policy PermissionPolicy) *Config {
	cfg := DefaultConfig()
	cfg.PollInterval = models.Duration(time.Hour)
	cfg.PermissionPolicy = policy
	cfg.Diagnostics = false
	cfg.Hotplug = false

	return cfg
}

func runServer(t *testing.T, s *Server) <-chan error {
	t.Helper()

	errCh := make(chan error, 1)

	go func() {
		errCh <- s.Start(context.Background())
	}()

	t.Cleanup(func() {
		_ = s.Stop(context.Background())
	})

	return errCh
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Config)
		wantErr    error
		wantAnyErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "empty policy defaults to auto", mutate: func(c *Config) { c.PermissionPolicy = "" }},
		{name: "invalid policy", mutate: func(c *Config) { c.PermissionPolicy = "ask" }, wantErr: errInvalidPolicy},
		{name: "no sources", mutate: func(c *Config) { c.Sources = nil }, wantErr: errNoSources},
		{name: "unknown source", mutate: func(c *Config) { c.Sources = []string{"bluetooth"} }, wantErr: errUnknownSource},
		{name: "source names are case insensitive", mutate: func(c *Config) { c.Sources = []string{" Static "} }},
		{name: "nats without url", mutate: func(c *Config) { c.NATS = &NATSConfig{} }, wantErr: errNATSURLRequired},
		{name: "negative timeout", mutate: func(c *Config) { c.EnumerateTimeout = models.Duration(-time.Second) }, wantAnyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			switch {
			case tt.wantAnyErr:
				require.Error(t, err)
			case tt.wantErr == nil:
				require.NoError(t, err)
				assert.Equal(t, PolicyAuto, cfg.PermissionPolicy)
			default:
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestConfigValidate_FillsDefaults(t *testing.T) {
	cfg := &Config{Sources: []string{SourceStatic}}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, defaultAgentID, cfg.AgentID)
	assert.Positive(t, cfg.PollInterval)
	assert.Equal(t, PolicyAuto, cfg.PermissionPolicy)
}

func TestSourceRegistry(t *testing.T) {
	names := SourceNames()
	assert.Contains(t, names, SourceSysfs)
	assert.Contains(t, names, SourceStatic)

	cfg := testConfig(PolicyAuto)
	cfg.Sources = []string{SourceStatic}
	cfg.StaticDevices = []models.DeviceDescriptor{rm330}

	multi, err := buildSources(cfg, logger.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{SourceStatic}, multi.Sources())

	descs, err := multi.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.DeviceDescriptor{rm330}, descs)

	cfg.Sources = []string{"bluetooth"}
	_, err = buildSources(cfg, logger.NewTestLogger())
	require.ErrorIs(t, err, errUnknownSource)
}

func TestServer_AutoPolicyConnects(t *testing.T) {
	pub := &fakePublisher{}
	diag := &fakeCollector{}

	s, err := NewServer(context.Background(), testConfig(PolicyAuto),
		WithEnumerator(enumerator.NewStatic(keyboard, rm330)),
		WithPublisher(pub),
		WithDiagnostics(diag),
	)
	require.NoError(t, err)

	errCh := runServer(t, s)

	require.Eventually(t, func() bool {
		return s.State() == models.SessionActive
	}, 2*time.Second, 10*time.Millisecond)

	sess, ok := s.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, rm330.Identity, sess.Identity)
	assert.Equal(t, models.ModelRM330, sess.Model)

	devices := s.AvailableDevices()
	require.Len(t, devices, 2)

	for _, d := range devices {
		if d.Descriptor.Identity == rm330.Identity {
			assert.True(t, d.Active)
			assert.True(t, d.Classification.Recognized)
		} else {
			assert.False(t, d.Active)
			assert.False(t, d.Classification.Recognized)
			assert.Equal(t, "USB Keyboard (Logitech) [046d:c31c]", d.Description)
		}
	}

	require.NoError(t, s.Stop(context.Background()))

	select {
	case err := <-errCh:
		if err != nil {
			require.ErrorIs(t, err, context.Canceled)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}

	assert.Equal(t, []models.StatusReason{models.ReasonConnected, models.ReasonShutdown}, pub.reasons())
	assert.Equal(t, 1, diag.calls)
	require.NoError(t, s.Stop(context.Background()))
}

func TestServer_DenyPolicy(t *testing.T) {
	pub := &fakePublisher{}

	s, err := NewServer(context.Background(), testConfig(PolicyDeny),
		WithEnumerator(enumerator.NewStatic(rm330)),
		WithPublisher(pub),
	)
	require.NoError(t, err)

	runServer(t, s)

	require.Eventually(t, func() bool {
		return len(pub.reasons()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []models.StatusReason{models.ReasonDenied}, pub.reasons())
	assert.Equal(t, models.SessionIdle, s.State())

	require.NoError(t, s.ForceCheck(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []models.StatusReason{models.ReasonDenied}, pub.reasons())
}

func TestServer_PromptPolicy(t *testing.T) {
	_, err := NewServer(context.Background(), testConfig(PolicyPrompt),
		WithEnumerator(enumerator.NewStatic()))
	require.ErrorIs(t, err, errPromptUnsupported)

	requested := make(chan models.Identity, 4)
	requester := permission.RequesterFunc(func(_ context.Context, id models.Identity) error {
		requested <- id
		return nil
	})

	s, err := NewServer(context.Background(), testConfig(PolicyPrompt),
		WithEnumerator(enumerator.NewStatic(rm330)),
		WithRequester(requester),
	)
	require.NoError(t, err)

	runServer(t, s)

	select {
	case id := <-requested:
		assert.Equal(t, rm330.Identity, id)
	case <-time.After(2 * time.Second):
		t.Fatal("permission was not requested")
	}

	require.Eventually(t, func() bool {
		return s.State() == models.SessionPending
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.AnswerPermission(rm330.Identity, true))

	require.Eventually(t, func() bool {
		return s.State() == models.SessionActive
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.DisconnectAll())

	require.Eventually(t, func() bool {
		return s.State() == models.SessionIdle
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_ForceCheckPicksUpNewDevice(t *testing.T) {
	static := enumerator.NewStatic()

	s, err := NewServer(context.Background(), testConfig(PolicyAuto), WithEnumerator(static))
	require.NoError(t, err)

	runServer(t, s)

	require.Eventually(t, func() bool {
		return s.State() == models.SessionIdle && len(s.AvailableDevices()) == 0
	}, time.Second, 10*time.Millisecond)

	static.Set(rm330)
	require.NoError(t, s.ForceCheck(context.Background()))

	require.Eventually(t, func() bool {
		return s.State() == models.SessionActive
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_DiagnosticsFailureIsNotFatal(t *testing.T) {
	diag := &fakeCollector{err: errors.New("no host info")}

	s, err := NewServer(context.Background(), testConfig(PolicyAuto),
		WithEnumerator(enumerator.NewStatic(rm330)),
		WithDiagnostics(diag),
	)
	require.NoError(t, err)

	runServer(t, s)

	require.Eventually(t, func() bool {
		return s.State() == models.SessionActive
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_ApplyConfigUpdate(t *testing.T) {
	s, err := NewServer(context.Background(), testConfig(PolicyAuto), WithEnumerator(enumerator.NewStatic()))
	require.NoError(t, err)

	s.applyConfigUpdate([]byte(`not json`))
	assert.Equal(t, models.Duration(time.Hour), s.interval)

	s.applyConfigUpdate([]byte(`{"poll_interval":"500ms"}`))
	assert.Equal(t, models.Duration(500*time.Millisecond), s.interval)

	s.applyConfigUpdate([]byte(`{"permission_policy":"deny"}`))
	assert.Equal(t, models.Duration(500*time.Millisecond), s.interval)
}

func TestNewServer_InvalidConfig(t *testing.T) {
	cfg := testConfig("sometimes")

	_, err := NewServer(context.Background(), cfg)
	require.ErrorIs(t, err, errInvalidPolicy)
}

type ueventConn struct {
	msgs chan []byte
}

func (c *ueventConn) Receive(buf []byte) (int, error) {
	select {
	case msg := <-c.msgs:
		return copy(buf, msg), nil
	case <-time.After(5 * time.Millisecond):
		return 0, nil
	}
}

func (c *ueventConn) Close() error { return nil }

func usbUevent(action, name string) []byte {
	devpath := "/devices/pci0000:00/0000:00:14.0/usb1/" + name
	fields := []string{action + "@" + devpath, "ACTION=" + action, "DEVPATH=" + devpath, "SUBSYSTEM=usb", "DEVTYPE=usb_device"}

	return []byte(strings.Join(fields, "\x00") + "\x00")
}

func writeSysfsDevice(t *testing.T, root, name, serial string) {
	t.Helper()

	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	for k, v := range map[string]string{"idVendor": "2ca3", "idProduct": "1020", "manufacturer": "DJI", "serial": serial} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, k), []byte(v+"\n"), 0o600))
	}
}

func TestServer_HotplugAttachAndDetach(t *testing.T) {
	root := t.TempDir()
	writeSysfsDevice(t, root, "1-1", "3BQ")

	cfg := testConfig(PolicyAuto)
	cfg.Hotplug = true
	cfg.SysfsRoot = root

	conn := &ueventConn{msgs: make(chan []byte, 4)}
	pub := &fakePublisher{}

	s, err := NewServer(context.Background(), cfg, WithHotplugConn(conn), WithPublisher(pub))
	require.NoError(t, err)

	runServer(t, s)

	require.Eventually(t, func() bool {
		return s.State() == models.SessionActive
	}, 2*time.Second, 10*time.Millisecond)

	conn.msgs <- usbUevent("remove", "1-1")

	require.Eventually(t, func() bool {
		return s.State() == models.SessionIdle
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "1-1")))

	writeSysfsDevice(t, root, "1-2", "7CX")
	conn.msgs <- usbUevent("add", "1-2")

	require.Eventually(t, func() bool {
		sess, ok := s.CurrentSession()
		return ok && sess.Identity == models.DeviceIdentity(0x2ca3, 0x1020, "7CX")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []models.StatusReason{
		models.ReasonConnected, models.ReasonDetached, models.ReasonConnected, models.ReasonShutdown,
	}, pub.reasons())
}

func TestConfig_HotplugNeedsSysfs(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.hotplugEnabled())

	cfg.Sources = []string{SourceStatic}
	assert.False(t, cfg.hotplugEnabled())

	cfg.Sources = []string{SourceStatic, " SYSFS "}
	assert.True(t, cfg.hotplugEnabled())

	cfg.Hotplug = false
	assert.False(t, cfg.hotplugEnabled())
}
