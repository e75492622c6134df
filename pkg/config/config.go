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

// Package config provides configuration management for topicgate: listen
// addresses, the auth and rules webhook endpoints, cache and timeout
// tuning, and the log level. Values come from a YAML file with environment
// variable overrides for the knobs deployments commonly set.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// ServerConfig holds the network surface of the gateway.
type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr" json:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// AuthConfig holds the authentication webhook settings.
type AuthConfig struct {
	WebhookURL string        `yaml:"webhook_url" json:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// RulesConfig holds the rules webhook and cache settings.
type RulesConfig struct {
	WebhookURL string        `yaml:"webhook_url" json:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	CacheTTL   time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// Config holds the complete configuration.
type Config struct {
	Server   ServerConfig `yaml:"server" json:"server"`
	Auth     AuthConfig   `yaml:"auth" json:"auth"`
	Rules    RulesConfig  `yaml:"rules" json:"rules"`
	LogLevel string       `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:  ":3000",
			MetricsAddr: ":8082",
		},
		Auth: AuthConfig{
			WebhookURL: "http://127.0.0.1:8080/api/v1/socket/auth",
			Timeout:    5 * time.Second,
		},
		Rules: RulesConfig{
			WebhookURL: "http://127.0.0.1:8080/api/v1/socket/rules",
			Timeout:    5 * time.Second,
			CacheTTL:   5 * time.Minute,
		},
		LogLevel: "debug",
	}
}

// LoadConfig loads configuration from a file, falling back to defaults
// when no path is given, then applies environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		log.Println("[INFO] No config file specified, using default configuration")
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
		log.Printf("[INFO] Loaded configuration from %s", configPath)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers the environment knobs over the loaded values. PORT keeps
// its bare-number form for compatibility with existing deployments.
func (c *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if strings.Contains(port, ":") {
			c.Server.ListenAddr = port
		} else {
			c.Server.ListenAddr = ":" + port
		}
	}
	if url := os.Getenv("AUTH_WEBHOOK_URL"); url != "" {
		c.Auth.WebhookURL = url
	}
	if url := os.Getenv("AUTH_RULES_WEBHOOK_URL"); url != "" {
		c.Rules.WebhookURL = url
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}

// Validate checks the configuration for values the gateway cannot run
// with.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty")
	}
	if c.Auth.WebhookURL == "" {
		return fmt.Errorf("auth.webhook_url must not be empty")
	}
	if c.Rules.WebhookURL == "" {
		return fmt.Errorf("rules.webhook_url must not be empty")
	}
	if c.Rules.CacheTTL < 0 {
		return fmt.Errorf("rules.cache_ttl must not be negative")
	}
	return nil
}
