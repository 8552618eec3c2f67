// Copyright 2016-2026 Gal Pressman
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// membersLimit caps the /members listing to keep replies short.
const membersLimit = 10

// requireSession short-circuits with a fixed reply when the user has no
// active Matrix client. The wrapped handler is not invoked and no state
// changes.
func (b *Bridge) requireSession(next commandHandler) commandHandler {
	return func(ctx context.Context, msg *Message, args map[string]string) {
		if b.clientFor(msg.Chat.ID) == nil {
			b.sendText(ctx, msg.Chat.ID, msgNotLoggedIn, nil)
			return
		}
		next(ctx, msg, args)
	}
}

// requireFocus short-circuits when the user is in no room or has no
// focused room. Composes inside requireSession.
func (b *Bridge) requireFocus(next commandHandler) commandHandler {
	return func(ctx context.Context, msg *Message, args map[string]string) {
		client := b.clientFor(msg.Chat.ID)
		if client == nil {
			b.sendText(ctx, msg.Chat.ID, msgNotLoggedIn, nil)
			return
		}
		if len(client.RoomsAliases(ctx)) == 0 {
			b.sendText(ctx, msg.Chat.ID, msgNotInRoom, nil)
			return
		}
		if !client.HasFocusRoom() {
			b.sendText(ctx, msg.Chat.ID, msgNoFocus, nil)
			return
		}
		next(ctx, msg, args)
	}
}

// loginReply maps a login failure to its user-visible message.
func loginReply(err error) string {
	var authErr *AuthError
	var netErr *NetworkError
	switch {
	case errors.As(err, &authErr):
		return authErr.Error()
	case errors.As(err, &netErr):
		return netErr.Error()
	default:
		return err.Error()
	}
}

func (b *Bridge) cmdLogin(ctx context.Context, msg *Message, args map[string]string) {
	username, password := args["username"], args["password"]
	chatID := msg.Chat.ID

	b.log.Info().Int64("chat_id", chatID).Str("username", username).Msg("Login requested")
	b.sendAction(ctx, chatID, ChatActionTyping)

	mxSession, err := b.newSession()
	if err != nil {
		b.log.Error().Err(err).Msg("Failed to create Matrix session")
		b.sendText(ctx, chatID, (&NetworkError{Err: err}).Error(), nil)
		return
	}

	client := NewClient(b, mxSession, b.cfg.Homeserver, username, b.log)
	// Bind before login so listener callbacks attached during login can
	// resolve their chat. Unbound again on failure.
	b.bindSession(chatID, client)
	if err := client.Login(ctx, username, password); err != nil {
		b.unbindClient(chatID)
		b.log.Warn().Err(err).Str("username", username).Msg("Login failed")
		b.sendText(ctx, chatID, loginReply(err), nil)
		return
	}

	b.sendText(ctx, chatID, "Logged in as "+username, nil)

	rooms := client.RoomNames(ctx)
	if len(rooms) > 0 {
		b.sendText(ctx, chatID, "You are currently in rooms:\n"+strings.Join(rooms, "\n"), nil)
		b.sendText(ctx, chatID, "You are now participating in: "+client.FocusRoomAlias(ctx), nil)
	}
}

func (b *Bridge) cmdLogout(ctx context.Context, msg *Message, _ map[string]string) {
	chatID := msg.Chat.ID
	client := b.clientFor(chatID)

	b.log.Info().Int64("chat_id", chatID).Msg("Logout")

	b.stopTypingRelay(client)
	if err := client.Logout(ctx); err != nil {
		b.log.Warn().Err(err).Msg("Logout call failed")
	}
	b.unbindClient(chatID)
}

func (b *Bridge) cmdJoin(ctx context.Context, msg *Message, args map[string]string) {
	chatID := msg.Chat.ID
	client := b.clientFor(chatID)
	roomName := args["room_name"]

	if err := client.JoinRoom(ctx, roomName); err != nil {
		b.log.Warn().Err(err).Str("room", roomName).Msg("Join failed")
		b.sendText(ctx, chatID, "Can't join room", nil)
		return
	}
	b.sendText(ctx, chatID, "Joined "+roomName, nil)
}

func (b *Bridge) cmdLeave(ctx context.Context, msg *Message, _ map[string]string) {
	chatID := msg.Chat.ID
	client := b.clientFor(chatID)

	rooms := client.RoomNames(ctx)
	if len(rooms) == 0 {
		b.sendText(ctx, chatID, "Nothing to leave...", nil)
		return
	}
	b.sendText(ctx, chatID, "Choose a room to leave:", roomsKeyboard("LEAVE", rooms))
}

func (b *Bridge) cmdDiscover(ctx context.Context, msg *Message, _ map[string]string) {
	chatID := msg.Chat.ID
	client := b.clientFor(chatID)

	rooms, err := client.Discover(ctx)
	if err != nil {
		b.log.Warn().Err(err).Msg("Room discovery failed")
		b.sendText(ctx, chatID, "Could not discover rooms", nil)
		return
	}
	b.sendText(ctx, chatID, JoinList(rooms), nil)
}

func (b *Bridge) cmdFocus(ctx context.Context, msg *Message, _ map[string]string) {
	chatID := msg.Chat.ID
	client := b.clientFor(chatID)

	rooms := client.RoomNames(ctx)
	if len(rooms) == 0 {
		b.sendText(ctx, chatID, "You need to be at least in one room to use this command.", nil)
		return
	}
	b.sendText(ctx, chatID, "Choose a room to focus:", roomsKeyboard("FOCUS", rooms))
}

func (b *Bridge) cmdStatus(ctx context.Context, msg *Message, _ map[string]string) {
	chatID := msg.Chat.ID
	client := b.clientFor(chatID)

	b.sendAction(ctx, chatID, ChatActionTyping)
	status := fmt.Sprintf("Status:\nFocused room: %s\nJoined rooms: %s",
		client.FocusRoomAlias(ctx), JoinList(client.RoomNames(ctx)))
	b.sendText(ctx, chatID, status, nil)
}

func (b *Bridge) cmdMembers(ctx context.Context, msg *Message, _ map[string]string) {
	chatID := msg.Chat.ID
	client := b.clientFor(chatID)

	members, err := client.Members(ctx)
	if err != nil {
		b.log.Warn().Err(err).Msg("Member listing failed")
		return
	}
	if len(members) > membersLimit {
		members = members[:membersLimit]
	}
	b.sendText(ctx, chatID, JoinList(members), nil)
}

func (b *Bridge) cmdCreateRoom(ctx context.Context, msg *Message, args map[string]string) {
	chatID := msg.Chat.ID
	client := b.clientFor(chatID)
	alias := args["room_name"]
	invitees := strings.Fields(args["invitees"])

	roomID, fullAlias, err := client.CreateRoom(ctx, alias, invitees)
	if err != nil {
		b.log.Warn().Err(err).Str("alias", alias).Msg("Room creation failed")
		b.sendText(ctx, chatID, "Could not create room", nil)
		return
	}
	b.sendText(ctx, chatID, fmt.Sprintf("Created room %s with room id %s", fullAlias, roomID), nil)
	b.sendText(ctx, chatID, "Invitees for the rooms are "+JoinList(invitees), nil)
}

func (b *Bridge) cmdSetName(ctx context.Context, msg *Message, args map[string]string) {
	chatID := msg.Chat.ID
	client := b.clientFor(chatID)
	name := args["name"]

	if err := client.SetName(ctx, name); err != nil {
		b.log.Warn().Err(err).Str("name", name).Msg("Display name change failed")
		b.sendText(ctx, chatID, "Could not set display name", nil)
		return
	}
	b.sendText(ctx, chatID, "Display name set to "+name, nil)
}

func (b *Bridge) cmdBackfill(ctx context.Context, msg *Message, _ map[string]string) {
	client := b.clientFor(msg.Chat.ID)
	if err := client.Backfill(ctx, b.cfg.BackfillLimit); err != nil {
		b.log.Warn().Err(err).Msg("Backfill failed")
	}
}

func (b *Bridge) cmdForwardText(ctx context.Context, msg *Message, args map[string]string) {
	client := b.clientFor(msg.Chat.ID)
	if err := client.SendText(ctx, args["text"]); err != nil {
		b.log.Warn().Err(err).Msg("Failed to forward message to room")
	}
}
