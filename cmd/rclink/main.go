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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/carverauto/rclink/pkg/agent"
	"github.com/carverauto/rclink/pkg/cli"
	"github.com/carverauto/rclink/pkg/config"
	"github.com/carverauto/rclink/pkg/config/kvnats"
	"github.com/carverauto/rclink/pkg/lifecycle"
	"github.com/carverauto/rclink/pkg/logger"
	"github.com/carverauto/rclink/pkg/version"
)

const stopTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/rclink/agent.json", "Path to agent config file")
	tui := flag.Bool("tui", false, "Run the interactive terminal watcher")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return nil
	}

	ctx := context.Background()

	cfgLoader := config.NewConfig(nil)

	kvStore, err := setupKVStore()
	if err != nil {
		return err
	}

	if kvStore != nil {
		defer func() { _ = kvStore.Close() }()

		cfgLoader.SetKVStore(kvStore)
	}

	cfg := agent.DefaultConfig()
	if err := cfgLoader.LoadAndValidate(ctx, *configPath, cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	if err := logConfig.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	// The watcher owns the terminal.
	if *tui {
		logConfig = logConfig.ForTerminalUI()
	}

	agentLogger, err := lifecycle.CreateComponentLogger(ctx, "rclink", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(); err != nil {
			log.Printf("Failed to shutdown logger: %v", err)
		}
	}()

	opts := []agent.Option{agent.WithLogger(agentLogger)}

	if kvStore != nil {
		opts = append(opts, agent.WithKVStore(kvStore, config.KVKey(*configPath)))
	}

	var prompt *cli.PromptRequester

	if cfg.PermissionPolicy == agent.PolicyPrompt {
		if !*tui {
			return errors.New("permission_policy \"prompt\" requires -tui")
		}

		prompt = cli.NewPromptRequester()
		opts = append(opts, agent.WithRequester(prompt))
	}

	server, err := agent.NewServer(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	if *tui {
		return runTUI(ctx, server, prompt)
	}

	return lifecycle.Run(ctx, &lifecycle.RunOptions{
		ServiceName: "rclink",
		Service:     server,
		Logger:      agentLogger,
		StopTimeout: stopTimeout,
	})
}

func runTUI(ctx context.Context, server *agent.Server, prompt *cli.PromptRequester) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)

	go func() {
		errCh <- server.Start(ctx)
	}()

	tuiErr := cli.Run(ctx, server, server, prompt)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()

	if err := server.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop agent: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return tuiErr
}

// setupKVStore opens the configuration bucket when CONFIG_SOURCE=kv.
func setupKVStore() (config.KVStore, error) {
	if os.Getenv("CONFIG_SOURCE") != "kv" {
		return nil, nil
	}

	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, nats.Name("rclink-config"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS for config: %w", err)
	}

	store, err := kvnats.New(nc, os.Getenv("RCLINK_CONFIG_BUCKET"))
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("failed to open config bucket: %w", err)
	}

	return store, nil
}
