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

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/rclink/pkg/logger"
	"github.com/carverauto/rclink/pkg/models"
)

var errTestInvalid = errors.New("interval must be positive")

type testNATS struct {
	URL    string `json:"url"`
	Stream string `json:"stream"`
}

type testConfig struct {
	Interval models.Duration `json:"poll_interval"`
	Timeout  time.Duration   `json:"timeout"`
	Policy   string          `json:"permission_policy"`
	Sources  []string        `json:"sources"`
	Debug    bool            `json:"debug"`
	Retries  int             `json:"retries"`
	VendorID uint16          `json:"vendor_id"`
	NATS     *testNATS       `json:"nats,omitempty"`
	Secret   string          `json:"-"`
}

func (c *testConfig) Validate() error {
	if c.Interval <= 0 {
		return errTestInvalid
	}

	return nil
}

type fakeKVStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	updates chan []byte
}

func newFakeKVStore() *fakeKVStore {
	return &fakeKVStore{data: map[string][]byte{}, updates: make(chan []byte, 4)}
}

func (f *fakeKVStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, false, f.getErr
	}

	v, ok := f.data[key]

	return v, ok, nil
}

func (f *fakeKVStore) Put(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.data[key] = value

	return nil
}

func (f *fakeKVStore) Create(ctx context.Context, key string, value []byte) error {
	if _, ok, _ := f.Get(ctx, key); ok {
		return ErrKeyExists
	}

	return f.Put(ctx, key, value)
}

func (f *fakeKVStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.data, key)

	return nil
}

func (f *fakeKVStore) Watch(_ context.Context, _ string) (<-chan []byte, error) {
	return f.updates, nil
}

func (*fakeKVStore) Close() error { return nil }

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "agent.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadAndValidate_File(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	path := writeConfig(t, `{"poll_interval":"5s","permission_policy":"deny","sources":["sysfs"]}`)

	var cfg testConfig

	require.NoError(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), path, &cfg))
	assert.Equal(t, models.Duration(5*time.Second), cfg.Interval)
	assert.Equal(t, "deny", cfg.Policy)
	assert.Equal(t, []string{"sysfs"}, cfg.Sources)
}

func TestLoadAndValidate_ValidationError(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "file")

	path := writeConfig(t, `{"permission_policy":"auto"}`)

	var cfg testConfig

	err := NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg)
	require.ErrorIs(t, err, errTestInvalid)
}

func TestLoadAndValidate_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	var cfg testConfig

	err := NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), "/nonexistent/agent.json", &cfg)
	require.Error(t, err)
}

func TestLoadAndValidate_InvalidSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "consul")

	var cfg testConfig

	err := NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), "agent.json", &cfg)
	require.ErrorIs(t, err, errInvalidConfigSource)
}

func TestLoadAndValidate_KV(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "kv")

	cfgLoader := NewConfig(logger.NewTestLogger())

	var cfg testConfig

	err := cfgLoader.LoadAndValidate(context.Background(), "/etc/rclink/agent.json", &cfg)
	require.ErrorIs(t, err, errKVStoreNotSet)

	store := newFakeKVStore()
	require.NoError(t, store.Put(context.Background(), "config/agent.json", []byte(`{"poll_interval":"3s"}`)))
	cfgLoader.SetKVStore(store)

	require.NoError(t, cfgLoader.LoadAndValidate(context.Background(), "/etc/rclink/agent.json", &cfg))
	assert.Equal(t, models.Duration(3*time.Second), cfg.Interval)
}

func TestLoadAndValidate_KVFallsBackToFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "kv")

	path := writeConfig(t, `{"poll_interval":"7s"}`)

	store := newFakeKVStore()
	store.getErr = errors.New("bucket unavailable")

	cfgLoader := NewConfig(logger.NewTestLogger())
	cfgLoader.SetKVStore(store)

	var cfg testConfig

	require.NoError(t, cfgLoader.LoadAndValidate(context.Background(), path, &cfg))
	assert.Equal(t, models.Duration(7*time.Second), cfg.Interval)

	err := cfgLoader.LoadAndValidate(context.Background(), "/nonexistent/agent.json", &cfg)
	require.ErrorIs(t, err, errLoadConfigFailed)
}

func TestEnvConfigLoader(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("RCLINK_CONFIG_JSON", `{"poll_interval":"1s","permission_policy":"auto"}`)
	t.Setenv("RCLINK_POLL_INTERVAL", "250ms")
	t.Setenv("RCLINK_TIMEOUT", "2s")
	t.Setenv("RCLINK_SOURCES", "sysfs, static ,")
	t.Setenv("RCLINK_DEBUG", "true")
	t.Setenv("RCLINK_RETRIES", "3")
	t.Setenv("RCLINK_VENDOR_ID", "0x2ca3")
	t.Setenv("RCLINK_NATS_URL", "nats://localhost:4222")
	t.Setenv("RCLINK_SECRET", "ignored")

	var cfg testConfig

	require.NoError(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), "", &cfg))

	assert.Equal(t, models.Duration(250*time.Millisecond), cfg.Interval)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, "auto", cfg.Policy)
	assert.Equal(t, []string{"sysfs", "static"}, cfg.Sources)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, uint16(0x2ca3), cfg.VendorID)
	require.NotNil(t, cfg.NATS)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Empty(t, cfg.Secret)
}

func TestEnvConfigLoader_Errors(t *testing.T) {
	loader := NewEnvConfigLoader(logger.NewTestLogger(), "TESTRC_")

	var cfg testConfig

	require.ErrorIs(t, loader.Load(context.Background(), "", cfg), errNotPointer)

	t.Setenv("TESTRC_RETRIES", "many")
	require.Error(t, loader.Load(context.Background(), "", &cfg))
}

func TestKVKey(t *testing.T) {
	assert.Equal(t, "config/agent.json", KVKey("/etc/rclink/agent.json"))
	assert.Equal(t, "config/agent.json", KVKey("agent.json"))
}

func TestStartKVWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newFakeKVStore()
	got := make(chan []byte, 2)

	StartKVWatch(ctx, store, "config/agent.json", logger.NewTestLogger(), func(b []byte) { got <- b })

	store.updates <- nil
	store.updates <- []byte(`{"poll_interval":"9s"}`)

	select {
	case b := <-got:
		assert.JSONEq(t, `{"poll_interval":"9s"}`, string(b))
	case <-time.After(time.Second):
		t.Fatal("watch callback not called")
	}

	assert.Empty(t, got)
}
