// Copyright 2016-2026 Gal Pressman
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command matrigram runs a Telegram-Matrix relay bot. Telegram users
// log in to a Matrix homeserver with /login and chat with their focused
// Matrix room directly from the Telegram conversation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.mau.fi/util/exzerolog"

	"github.com/galpressman/matrigram/pkg/bridge"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := bridge.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := cfg.Logging.Compile()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure logging: %v\n", err)
		os.Exit(1)
	}
	exzerolog.SetupDefaults(log)

	if err := os.MkdirAll(cfg.MediaDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.MediaDir).Msg("Failed to create media directory")
	}

	api := bridge.NewBotAPI(cfg.Telegram.Token, cfg.Telegram.PollTimeout, *log)
	br := bridge.New(cfg, api, func() (bridge.MatrixSession, error) {
		return bridge.NewMautrixSession(cfg.Homeserver, *log)
	}, *log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("built_at", BuildTime).
		Msg("matrigram running")

	if err := api.Poll(ctx, br); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Update poll loop failed")
	}
	br.Wait()
	log.Info().Msg("matrigram stopped")
}
