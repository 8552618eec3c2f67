// Copyright 2016-2026 Gal Pressman
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// TelegramConfig holds the front-network transport settings.
type TelegramConfig struct {
	Token string `yaml:"token"`
	// PollTimeout is the getUpdates long-poll timeout in seconds.
	PollTimeout int `yaml:"poll_timeout"`
}

// Config holds the bridge configuration.
type Config struct {
	// Homeserver is the base URL of the Matrix homeserver.
	Homeserver string         `yaml:"homeserver"`
	Telegram   TelegramConfig `yaml:"telegram"`

	// MediaDir is the scratch directory for relayed media. Defaults to
	// <tmp>/matrigram. Files are not cleaned up by the bridge.
	MediaDir string `yaml:"media_dir"`
	// TypingIntervalSeconds is the repeat interval of the typing relay.
	TypingIntervalSeconds int `yaml:"typing_interval_seconds"`
	// BackfillLimit is the number of past messages replayed by /backfill.
	BackfillLimit int `yaml:"backfill_limit"`

	Logging zeroconfig.Config `yaml:"logging"`
}

// LoadConfig reads and post-processes a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PostProcess validates required fields and fills defaults.
func (c *Config) PostProcess() error {
	if c.Homeserver == "" {
		return fmt.Errorf("homeserver is required")
	}
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.Telegram.PollTimeout <= 0 {
		c.Telegram.PollTimeout = 30
	}
	if c.MediaDir == "" {
		c.MediaDir = filepath.Join(os.TempDir(), "matrigram")
	}
	if c.TypingIntervalSeconds <= 0 {
		c.TypingIntervalSeconds = 2
	}
	if c.BackfillLimit <= 0 {
		c.BackfillLimit = 10
	}
	return nil
}
