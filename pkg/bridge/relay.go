// Copyright 2016-2026 Gal Pressman
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"fmt"
)

// The relay functions below are invoked by Client event callbacks on the
// Matrix transport's sync goroutine. They resolve the owning chat via
// the reverse client index; a lookup miss degrades to a no-op (the
// invariant violation is logged by chatIDFor).

func (b *Bridge) relayMessage(sender, text string, c *Client) {
	chatID, ok := b.chatIDFor(c)
	if !ok {
		return
	}
	ctx := context.Background()
	b.sendAction(ctx, chatID, ChatActionTyping)
	b.sendText(ctx, chatID, fmt.Sprintf("%s: %s", sender, text), nil)
}

func (b *Bridge) relayTopic(sender, topic string, c *Client) {
	chatID, ok := b.chatIDFor(c)
	if !ok {
		return
	}
	ctx := context.Background()
	b.sendAction(ctx, chatID, ChatActionTyping)
	b.sendText(ctx, chatID, fmt.Sprintf("%s changed topic to: %q", sender, topic), nil)
}

func (b *Bridge) relayKick(room string, c *Client) {
	chatID, ok := b.chatIDFor(c)
	if !ok {
		return
	}
	b.sendText(context.Background(), chatID, "You got kicked from "+room, nil)
}

// relayInvite prompts the user with an accept/decline keyboard. The
// callback data carries the room ID so JOIN works before the invited
// user can resolve the room's aliases.
func (b *Bridge) relayInvite(name, roomID string, c *Client) {
	chatID, ok := b.chatIDFor(c)
	if !ok {
		return
	}
	keyboard := &InlineKeyboardMarkup{
		InlineKeyboard: [][]InlineKeyboardButton{{
			{Text: "Yes", CallbackData: "JOIN " + roomID},
			{Text: "No", CallbackData: "NOP"},
		}},
	}
	b.sendText(context.Background(), chatID,
		fmt.Sprintf("You have been invited to room %s, accept?", name), keyboard)
}

func (b *Bridge) relayPhoto(path string, c *Client) {
	chatID, ok := b.chatIDFor(c)
	if !ok {
		return
	}
	ctx := context.Background()
	b.sendAction(ctx, chatID, ChatActionUploadPhoto)
	if err := b.tg.SendPhoto(ctx, chatID, path); err != nil {
		b.log.Warn().Err(err).Str("path", path).Msg("Failed to relay photo")
	}
}

func (b *Bridge) relayVoice(path string, c *Client) {
	chatID, ok := b.chatIDFor(c)
	if !ok {
		return
	}
	ctx := context.Background()
	b.sendAction(ctx, chatID, ChatActionUploadAudio)
	if err := b.tg.SendVoice(ctx, chatID, path); err != nil {
		b.log.Warn().Err(err).Str("path", path).Msg("Failed to relay voice")
	}
}

func (b *Bridge) relayVideo(path string, c *Client) {
	chatID, ok := b.chatIDFor(c)
	if !ok {
		return
	}
	ctx := context.Background()
	b.sendAction(ctx, chatID, ChatActionUploadVideo)
	if err := b.tg.SendVideo(ctx, chatID, path); err != nil {
		b.log.Warn().Err(err).Str("path", path).Msg("Failed to relay video")
	}
}

// sendAction emits a transient chat action, logging failures at debug
// only since actions are cosmetic.
func (b *Bridge) sendAction(ctx context.Context, chatID int64, action ChatAction) {
	if err := b.tg.SendChatAction(ctx, chatID, action); err != nil {
		b.log.Debug().Err(err).Int64("chat_id", chatID).Msg("Failed to send chat action")
	}
}
