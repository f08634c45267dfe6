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
	"errors"
	"fmt"
	"strings"

	"github.com/carverauto/rclink/pkg/classifier"
	"github.com/carverauto/rclink/pkg/logger"
	"github.com/carverauto/rclink/pkg/models"
	"github.com/carverauto/rclink/pkg/natsutil"
	"github.com/carverauto/rclink/pkg/poller"
)

var (
	errInvalidPolicy     = errors.New("invalid permission policy")
	errNoSources         = errors.New("at least one snapshot source is required")
	errUnknownSource     = errors.New("unknown snapshot source")
	errNATSURLRequired   = errors.New("nats.url is required when nats is configured")
	errPromptUnsupported = errors.New("prompt policy requires an interactive requester")
)

// PermissionPolicy decides how permission requests are answered.
type PermissionPolicy string

const (
	// PolicyAuto grants every request.
	PolicyAuto PermissionPolicy = "auto"
	// PolicyDeny denies every request.
	PolicyDeny PermissionPolicy = "deny"
	// PolicyPrompt asks an operator through the terminal UI.
	PolicyPrompt PermissionPolicy = "prompt"
)

const (
	defaultAgentID      = "rclink-agent"
	defaultConfigBucket = "rclink-config"
)

// NATSConfig enables publishing connection statuses to JetStream.
type NATSConfig struct {
	URL     string `json:"url"`
	Domain  string `json:"domain,omitempty"`
	Stream  string `json:"stream,omitempty"`
	Subject string `json:"subject,omitempty"`
	// Buffer is the number of statuses held while the broker is slow.
	Buffer int                `json:"buffer,omitempty"`
	TLS    *natsutil.TLSFiles `json:"tls,omitempty"`
	// ConfigBucket is the KV bucket watched for configuration updates.
	ConfigBucket string `json:"config_bucket,omitempty"`
	// WatchConfig applies poll_interval changes from the KV bucket at runtime.
	WatchConfig bool `json:"watch_config,omitempty"`
}

// Config is the agent configuration file. Hotplug listens for kernel USB
// uevents next to polling and only runs with the sysfs source, which
// resolves the device names carried by uevents.
type Config struct {
	AgentID          string                    `json:"agent_id"`
	PollInterval     models.Duration           `json:"poll_interval"`
	EnumerateTimeout models.Duration           `json:"enumerate_timeout"`
	Sources          []string                  `json:"sources"`
	SysfsRoot        string                    `json:"sysfs_root,omitempty"`
	StaticDevices    []models.DeviceDescriptor `json:"static_devices,omitempty"`
	Hotplug          bool                      `json:"hotplug"`
	Classifier       *classifier.Rules         `json:"classifier,omitempty"`
	PermissionPolicy PermissionPolicy          `json:"permission_policy"`
	Diagnostics      bool                      `json:"diagnostics"`
	NATS             *NATSConfig               `json:"nats,omitempty"`
	Logging          *logger.Config            `json:"logging,omitempty"`
	Metrics          *logger.OTelConfig        `json:"metrics,omitempty"`
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		AgentID:          defaultAgentID,
		PollInterval:     models.Duration(poller.DefaultInterval),
		Sources:          []string{SourceSysfs},
		Hotplug:          true,
		PermissionPolicy: PolicyAuto,
		Diagnostics:      true,
	}
}

// Validate checks the configuration and fills unset optional values.
func (c *Config) Validate() error {
	if c.AgentID == "" {
		c.AgentID = defaultAgentID
	}

	if c.PollInterval == 0 {
		c.PollInterval = models.Duration(poller.DefaultInterval)
	}

	if err := c.pollerConfig().Validate(); err != nil {
		return err
	}

	if c.PermissionPolicy == "" {
		c.PermissionPolicy = PolicyAuto
	}

	switch c.PermissionPolicy {
	case PolicyAuto, PolicyDeny, PolicyPrompt:
	default:
		return fmt.Errorf("%w: %q", errInvalidPolicy, c.PermissionPolicy)
	}

	if len(c.Sources) == 0 {
		return errNoSources
	}

	for _, name := range c.Sources {
		if _, ok := lookupSource(strings.ToLower(strings.TrimSpace(name))); !ok {
			return fmt.Errorf("%w: %q (available: %s)", errUnknownSource, name, strings.Join(SourceNames(), ", "))
		}
	}

	if c.NATS != nil && c.NATS.URL == "" {
		return errNATSURLRequired
	}

	return nil
}

func (c *Config) hotplugEnabled() bool {
	if !c.Hotplug {
		return false
	}

	for _, name := range c.Sources {
		if strings.EqualFold(strings.TrimSpace(name), SourceSysfs) {
			return true
		}
	}

	return false
}

func (c *Config) pollerConfig() *poller.Config {
	return &poller.Config{Interval: c.PollInterval, Timeout: c.EnumerateTimeout}
}

func (c *Config) classifierRules() classifier.Rules {
	if c.Classifier == nil {
		return classifier.DefaultRules()
	}

	return *c.Classifier
}
