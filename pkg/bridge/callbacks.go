// Copyright 2016-2026 Gal Pressman
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import "context"

// callbackChatID resolves the acting chat from the callback envelope.
// Callback deliveries nest the chat under Message rather than carrying
// top-level chat fields.
func callbackChatID(cb *CallbackQuery) int64 {
	if cb.Message != nil {
		return cb.Message.Chat.ID
	}
	return cb.From.ID
}

// requireCallbackSession is the callback counterpart of requireSession.
// The rejection is still acknowledged so the button stops spinning.
func (b *Bridge) requireCallbackSession(next callbackHandler) callbackHandler {
	return func(ctx context.Context, cb *CallbackQuery, args map[string]string) string {
		chatID := callbackChatID(cb)
		if b.clientFor(chatID) == nil {
			b.sendText(ctx, chatID, msgNotLoggedIn, nil)
			return "Not logged in"
		}
		return next(ctx, cb, args)
	}
}

func (b *Bridge) cbLeave(ctx context.Context, cb *CallbackQuery, args map[string]string) string {
	chatID := callbackChatID(cb)
	client := b.clientFor(chatID)
	room := args["room"]

	prevFocus := client.FocusRoomAlias(ctx)
	if err := client.LeaveRoom(ctx, room); err != nil {
		b.log.Warn().Err(err).Str("room", room).Msg("Leave failed")
		return "Can't leave room"
	}
	b.sendText(ctx, chatID, "Left "+room, nil)

	currFocus := client.FocusRoomAlias(ctx)
	if currFocus != prevFocus && currFocus != "" {
		b.sendText(ctx, chatID, "You are now participating in: "+currFocus, nil)
	}
	return "Done!"
}

func (b *Bridge) cbFocus(ctx context.Context, cb *CallbackQuery, args map[string]string) string {
	chatID := callbackChatID(cb)
	client := b.clientFor(chatID)
	room := args["room"]

	b.sendAction(ctx, chatID, ChatActionTyping)
	if err := client.SetFocusRoom(ctx, room); err != nil {
		b.log.Warn().Err(err).Str("room", room).Msg("Focus switch failed")
		return "Can't focus room"
	}
	b.sendText(ctx, chatID, "You are now participating in "+room, nil)
	return "Done!"
}

func (b *Bridge) cbJoin(ctx context.Context, cb *CallbackQuery, args map[string]string) string {
	chatID := callbackChatID(cb)
	client := b.clientFor(chatID)
	room := args["room"]

	b.sendAction(ctx, chatID, ChatActionTyping)
	if err := client.JoinRoom(ctx, room); err != nil {
		b.log.Warn().Err(err).Str("room", room).Msg("Join from invite failed")
		return "Can't join room"
	}
	return "Joined " + room
}

func (b *Bridge) cbNop(ctx context.Context, cb *CallbackQuery, _ map[string]string) string {
	b.sendAction(ctx, callbackChatID(cb), ChatActionTyping)
	return "OK Boss!"
}
