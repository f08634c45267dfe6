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

// Package agent runs the rclink device agent: it polls USB snapshot sources,
// drives the session manager and publishes connection statuses.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/carverauto/rclink/pkg/classifier"
	"github.com/carverauto/rclink/pkg/config"
	"github.com/carverauto/rclink/pkg/config/kvnats"
	"github.com/carverauto/rclink/pkg/diagnostics"
	"github.com/carverauto/rclink/pkg/enumerator"
	"github.com/carverauto/rclink/pkg/enumerator/hotplug"
	"github.com/carverauto/rclink/pkg/enumerator/sysfs"
	"github.com/carverauto/rclink/pkg/logger"
	"github.com/carverauto/rclink/pkg/models"
	"github.com/carverauto/rclink/pkg/natsutil"
	"github.com/carverauto/rclink/pkg/permission"
	"github.com/carverauto/rclink/pkg/poller"
	"github.com/carverauto/rclink/pkg/session"
	"github.com/carverauto/rclink/pkg/version"
)

const serviceName = "rclink"

// DeviceInfo is one entry of the device listing.
type DeviceInfo struct {
	Descriptor     models.DeviceDescriptor `json:"descriptor"`
	Description    string                  `json:"description"`
	Classification models.Classification   `json:"classification"`
	Active         bool                    `json:"active"`
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		s.logger = log
	}
}

// WithRequester sets the permission requester used by the prompt policy.
func WithRequester(r permission.Requester) Option {
	return func(s *Server) {
		s.requester = r
	}
}

// WithEnumerator replaces the configured snapshot sources.
func WithEnumerator(e enumerator.Enumerator) Option {
	return func(s *Server) {
		s.source = e
	}
}

// WithPublisher publishes statuses through p instead of connecting to NATS.
func WithPublisher(p natsutil.ConnectionPublisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// WithDiagnostics sets the host diagnostics collector.
func WithDiagnostics(c diagnostics.Collector) Option {
	return func(s *Server) {
		s.diagnostics = c
	}
}

// WithClock sets the polling clock.
func WithClock(c poller.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithKVStore watches key in store for configuration updates.
func WithKVStore(store config.KVStore, key string) Option {
	return func(s *Server) {
		s.kvStore = store
		s.kvKey = key
	}
}

// WithHotplugConn reads uevents from conn instead of opening a netlink socket.
func WithHotplugConn(conn hotplug.Conn) Option {
	return func(s *Server) {
		s.hotplugConn = conn
	}
}

// Server composes the agent components.
type Server struct {
	config      *Config
	logger      logger.Logger
	classifier  *classifier.Classifier
	requester   permission.Requester
	manager     *session.Manager
	source      enumerator.Enumerator
	scheduler   *poller.Scheduler
	clock       poller.Clock
	publisher   natsutil.ConnectionPublisher
	forwarder   *natsutil.StatusForwarder
	diagnostics diagnostics.Collector
	nc          *nats.Conn
	kvStore     config.KVStore
	kvKey       string
	ownsKV      bool
	hotplugConn hotplug.Conn
	monitor     *hotplug.Monitor

	mu            sync.Mutex
	cancel        context.CancelFunc
	meterProvider *sdkmetric.MeterProvider
	interval      models.Duration
	hotplugDone   chan struct{}
	stopOnce      sync.Once
	stopErr       error
}

// NewServer validates cfg and builds every component. NATS is dialed here
// when configured so connection problems surface before Start.
func NewServer(ctx context.Context, cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}

	s := &Server{config: cfg, interval: cfg.PollInterval}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.NewTestLogger()
	}

	s.classifier = classifier.New(cfg.classifierRules())

	var policy *policyRequester

	switch cfg.PermissionPolicy {
	case PolicyPrompt:
		if s.requester == nil {
			return nil, errPromptUnsupported
		}
	case PolicyAuto, PolicyDeny:
		policy = newPolicyRequester(cfg.PermissionPolicy, logger.Component(s.logger, "policy"))
		s.requester = policy
	}

	s.manager = session.NewManager(s.requester,
		session.WithClassifier(s.classifier),
		session.WithLogger(logger.Component(s.logger, "session")),
	)

	if policy != nil {
		policy.bind(s.manager)
	}

	if s.source == nil {
		multi, err := buildSources(cfg, s.logger)
		if err != nil {
			return nil, err
		}

		s.source = multi
	}

	scheduler, err := poller.New(cfg.pollerConfig(), s.source, s.manager, s.clock, logger.Component(s.logger, "poller"))
	if err != nil {
		return nil, fmt.Errorf("failed to create poller: %w", err)
	}

	s.scheduler = scheduler

	if err := s.setupNATS(ctx); err != nil {
		return nil, err
	}

	if s.publisher != nil {
		buffer := 0
		if cfg.NATS != nil {
			buffer = cfg.NATS.Buffer
		}

		s.forwarder = natsutil.NewStatusForwarder(s.publisher, buffer, logger.Component(s.logger, "forwarder"))
	}

	if s.diagnostics == nil && cfg.Diagnostics {
		s.diagnostics = diagnostics.NewHostCollector()
	}

	if cfg.hotplugEnabled() {
		s.setupHotplug()
	}

	return s, nil
}

// setupHotplug opens the uevent socket. Without it the agent keeps working
// from polling alone.
func (s *Server) setupHotplug() {
	log := logger.Component(s.logger, "hotplug")

	if s.hotplugConn == nil {
		conn, err := hotplug.Open()
		if err != nil {
			log.Warn().Err(err).Msg("USB hotplug unavailable, relying on polling")
			return
		}

		s.hotplugConn = conn
	}

	s.monitor = hotplug.New(s.hotplugConn, sysfs.New(s.config.SysfsRoot, log), s.manager,
		hotplug.WithLogger(log),
		hotplug.WithRescan(s.scheduler.PollNow),
	)
}

func (s *Server) runHotplug(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	if err := s.monitor.Run(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("USB hotplug stopped, relying on polling")
	}
}

// setupNATS connects the event publisher and, when requested, the config
// bucket watcher.
func (s *Server) setupNATS(ctx context.Context) error {
	natsCfg := s.config.NATS
	if natsCfg == nil || s.publisher != nil {
		return nil
	}

	opts, err := natsutil.ConnectOptions(s.config.AgentID, natsCfg.TLS, logger.Component(s.logger, "nats"))
	if err != nil {
		return err
	}

	publisher, nc, err := natsutil.ConnectWithEventPublisher(
		ctx, natsCfg.URL, natsCfg.Domain, natsCfg.Stream, s.config.AgentID, logger.Component(s.logger, "events"), opts...)
	if err != nil {
		return err
	}

	if natsCfg.Subject != "" {
		publisher = publisher.WithSubject(natsCfg.Subject)
	}

	s.publisher = publisher
	s.nc = nc

	if natsCfg.WatchConfig && s.kvStore == nil {
		bucket := natsCfg.ConfigBucket
		if bucket == "" {
			bucket = defaultConfigBucket
		}

		store, err := kvnats.New(nc, bucket)
		if err != nil {
			s.logger.Warn().Err(err).Str("bucket", bucket).Msg("Config bucket unavailable, hot reload disabled")

			return nil
		}

		s.kvStore = store
		s.ownsKV = true

		if s.kvKey == "" {
			s.kvKey = config.KVKey("agent.json")
		}
	}

	return nil
}

// Start runs the agent until Stop is called or ctx is cancelled. It
// implements lifecycle.Service.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	defer cancel()

	s.logger.Info().
		Str("agent_id", s.config.AgentID).
		Str("version", version.Version()).
		Str("policy", string(s.config.PermissionPolicy)).
		Strs("sources", s.config.Sources).
		Msg("Starting rclink agent")

	s.initMetrics(ctx)
	s.logDiagnostics(ctx)

	// The manager and forwarder outlive ctx so Stop can shut them down in order.
	if s.forwarder != nil {
		s.forwarder.Start(ctx)
		s.manager.Subscribe(s.forwarder)
	}

	if err := s.manager.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start session manager: %w", err)
	}

	if s.monitor != nil {
		done := make(chan struct{})

		s.mu.Lock()
		s.hotplugDone = done
		s.mu.Unlock()

		go s.runHotplug(ctx, done)
	}

	if s.kvStore != nil && s.kvKey != "" {
		config.StartKVWatch(ctx, s.kvStore, s.kvKey, logger.Component(s.logger, "config"), s.applyConfigUpdate)
	}

	return s.scheduler.Start(ctx)
}

// Stop stops polling and hotplug first, then the session manager and
// finally the status forwarder. It is idempotent.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()

		var errs []error

		if err := s.scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("poller: %w", err))
		}

		if err := s.stopHotplug(ctx); err != nil {
			errs = append(errs, fmt.Errorf("hotplug: %w", err))
		}

		if err := s.manager.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session manager: %w", err))
		}

		if s.forwarder != nil {
			if err := s.forwarder.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("forwarder: %w", err))
			}
		}

		if s.ownsKV && s.kvStore != nil {
			if err := s.kvStore.Close(); err != nil {
				errs = append(errs, fmt.Errorf("config store: %w", err))
			}
		}

		if s.nc != nil {
			s.nc.Close()
		}

		s.mu.Lock()
		mp := s.meterProvider
		s.mu.Unlock()

		if mp != nil {
			if err := mp.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("metrics: %w", err))
			}
		}

		s.stopErr = errors.Join(errs...)

		s.logger.Info().Msg("rclink agent stopped")
	})

	return s.stopErr
}

// stopHotplug waits for the monitor started by Start and closes the socket
// when Start never ran.
func (s *Server) stopHotplug(ctx context.Context) error {
	if s.hotplugConn == nil {
		return nil
	}

	s.mu.Lock()
	done := s.hotplugDone
	s.mu.Unlock()

	if done == nil {
		return s.hotplugConn.Close()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) initMetrics(ctx context.Context) {
	if s.config.Metrics == nil || !s.config.Metrics.Enabled {
		return
	}

	mp, err := logger.InitializeMetrics(ctx, logger.MetricsConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.Version(),
		OTel:           s.config.Metrics,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Metrics export disabled")
		return
	}

	s.mu.Lock()
	s.meterProvider = mp
	s.mu.Unlock()
}

func (s *Server) logDiagnostics(ctx context.Context) {
	if s.diagnostics == nil {
		return
	}

	report, err := s.diagnostics.Collect(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Host diagnostics unavailable")
		return
	}

	diagLogger := s.logger.WithFields(report.Fields())
	diagLogger.Info().Msg("Host diagnostics")
}

// applyConfigUpdate applies the runtime-tunable parts of a configuration
// document received from the KV bucket.
func (s *Server) applyConfigUpdate(data []byte) {
	var next Config

	if err := json.Unmarshal(data, &next); err != nil {
		s.logger.Warn().Err(err).Msg("Ignoring malformed config update")
		return
	}

	if next.PollInterval <= 0 || next.PollInterval == s.interval {
		return
	}

	if err := s.scheduler.SetInterval(time.Duration(next.PollInterval)); err != nil {
		s.logger.Warn().Err(err).Msg("Ignoring poll interval update")
		return
	}

	s.logger.Info().
		Stringer("from", s.interval).
		Stringer("to", next.PollInterval).
		Msg("Poll interval updated from KV")

	s.interval = next.PollInterval
}

// ForceCheck enumerates immediately instead of waiting for the next tick.
func (s *Server) ForceCheck(ctx context.Context) error {
	return s.scheduler.PollNow(ctx)
}

// AvailableDevices lists the devices currently attached, ordered by identity.
func (s *Server) AvailableDevices() []DeviceInfo {
	descs := s.manager.Devices()
	current, active := s.manager.CurrentSession()

	infos := make([]DeviceInfo, 0, len(descs))

	for _, desc := range descs {
		infos = append(infos, DeviceInfo{
			Descriptor:     desc,
			Description:    classifier.Describe(desc),
			Classification: s.classifier.Classify(desc),
			Active:         active && desc.Identity == current.Identity,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Descriptor.Identity < infos[j].Descriptor.Identity
	})

	return infos
}

// Subscribe registers l for connection status changes.
func (s *Server) Subscribe(l session.Listener) *session.Subscription {
	return s.manager.Subscribe(l)
}

// State returns the session state.
func (s *Server) State() models.SessionState {
	return s.manager.State()
}

// CurrentSession returns the active session, if any.
func (s *Server) CurrentSession() (models.Session, bool) {
	return s.manager.CurrentSession()
}

// AnswerPermission delivers an operator's answer to a pending request.
func (s *Server) AnswerPermission(id models.Identity, granted bool) error {
	return s.manager.NotifyPermissionResult(id, granted)
}

// RetryPermission clears a denial, or resends a prompt that failed to send.
func (s *Server) RetryPermission(id models.Identity) error {
	return s.manager.RetryPermission(id)
}

// DisconnectAll reports that the host lost every USB device at once.
func (s *Server) DisconnectAll() error {
	return s.manager.NotifyAllDetached()
}
