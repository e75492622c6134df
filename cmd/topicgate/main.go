// Copyright 2024 The topicgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// package main is the entrypoint for the topicgate application.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turtacn/topicgate/pkg/auth"
	"github.com/turtacn/topicgate/pkg/config"
	"github.com/turtacn/topicgate/pkg/gateway"
	"github.com/turtacn/topicgate/pkg/logging"
	"github.com/turtacn/topicgate/pkg/metrics"
	"github.com/turtacn/topicgate/pkg/rules"
	"github.com/turtacn/topicgate/pkg/subscription"
	"github.com/turtacn/topicgate/pkg/transport"
)

func main() {
	configPath := flag.String("config", os.Getenv("TOPICGATE_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logging.Infof("Starting topicgate...")

	// --- Authorization core ---
	authenticator := auth.NewWebhookAuthenticator(cfg.Auth.WebhookURL, cfg.Auth.Timeout)
	rulesProvider := rules.NewHTTPProvider(cfg.Rules.WebhookURL, cfg.Rules.Timeout)
	ruleCache := rules.NewCache(rulesProvider, cfg.Rules.CacheTTL)
	registry := subscription.NewStore()
	gw := gateway.New(authenticator, ruleCache, registry)

	// --- Websocket server ---
	server := transport.NewServer(gw)
	if err := server.Start(cfg.Server.ListenAddr); err != nil {
		log.Fatalf("Websocket server failed to start: %v", err)
	}

	// --- Metrics server ---
	go metrics.Serve(cfg.Server.MetricsAddr)

	// --- Wait for shutdown signal ---
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	<-shutdownChan

	logging.Infof("Shutdown signal received. Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Stop(shutdownCtx)
}
