// Copyright 2016-2026 Gal Pressman
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"net/url"
	"path"
	"path/filepath"
)

// mediaHandler forwards one inbound Telegram attachment to the focused
// room of an already-guarded client.
type mediaHandler func(ctx context.Context, msg *Message, client *Client)

// requireMediaSession applies the session and focus guards and runs the
// handler on its own task, mirroring the command dispatch model.
func (b *Bridge) requireMediaSession(next mediaHandler) contentHandler {
	return func(ctx context.Context, msg *Message) {
		b.tasks.Add(1)
		go func() {
			defer b.tasks.Done()
			chatID := msg.Chat.ID
			client := b.clientFor(chatID)
			if client == nil {
				b.sendText(ctx, chatID, msgNotLoggedIn, nil)
				return
			}
			if len(client.RoomsAliases(ctx)) == 0 {
				b.sendText(ctx, chatID, msgNotInRoom, nil)
				return
			}
			if !client.HasFocusRoom() {
				b.sendText(ctx, chatID, msgNoFocus, nil)
				return
			}
			next(ctx, msg, client)
		}()
	}
}

func (b *Bridge) fwdPhoto(ctx context.Context, msg *Message, client *Client) {
	// Telegram lists photo sizes smallest first; forward the largest.
	fileID := msg.Photo[len(msg.Photo)-1].FileID
	local, err := b.fetchTelegramFile(ctx, fileID)
	if err != nil {
		b.log.Warn().Err(err).Str("file_id", fileID).Msg("Failed to fetch photo")
		return
	}
	if err := client.SendPhoto(ctx, local); err != nil {
		b.log.Warn().Err(err).Str("path", local).Msg("Failed to relay photo to room")
	}
}

func (b *Bridge) fwdVoice(ctx context.Context, msg *Message, client *Client) {
	local, err := b.fetchTelegramFile(ctx, msg.Voice.FileID)
	if err != nil {
		b.log.Warn().Err(err).Msg("Failed to fetch voice message")
		return
	}
	if err := client.SendVoice(ctx, local); err != nil {
		b.log.Warn().Err(err).Str("path", local).Msg("Failed to relay voice to room")
	}
}

func (b *Bridge) fwdVideo(ctx context.Context, msg *Message, client *Client) {
	local, err := b.fetchTelegramFile(ctx, msg.Video.FileID)
	if err != nil {
		b.log.Warn().Err(err).Msg("Failed to fetch video")
		return
	}
	if err := client.SendVideo(ctx, local); err != nil {
		b.log.Warn().Err(err).Str("path", local).Msg("Failed to relay video to room")
	}
}

// fwdDocument relays documents as video: gifs are mp4 documents in
// Telegram.
func (b *Bridge) fwdDocument(ctx context.Context, msg *Message, client *Client) {
	local, err := b.fetchTelegramFile(ctx, msg.Document.FileID)
	if err != nil {
		b.log.Warn().Err(err).Msg("Failed to fetch document")
		return
	}
	if err := client.SendVideo(ctx, local); err != nil {
		b.log.Warn().Err(err).Str("path", local).Msg("Failed to relay document to room")
	}
}

// fetchTelegramFile downloads a Telegram file into the scratch media
// directory and returns the local path.
func (b *Bridge) fetchTelegramFile(ctx context.Context, fileID string) (string, error) {
	fileURL, err := b.tg.GetFileURL(ctx, fileID)
	if err != nil {
		return "", err
	}
	name := fileID
	if u, err := url.Parse(fileURL); err == nil && u.Path != "" {
		name = path.Base(u.Path)
	}
	local := filepath.Join(b.cfg.MediaDir, name)
	if err := DownloadFile(fileURL, local); err != nil {
		return "", err
	}
	return local, nil
}
