// Copyright 2016-2026 Gal Pressman
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"errors"
	"fmt"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ErrMissingRoom is returned by room lookups when an ID or alias does not
// resolve to a joined room.
var ErrMissingRoom = errors.New("room not found")

// AuthError indicates a login rejection (bad credentials). The session
// was not created.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "Failed to login" }
func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError indicates the homeserver was unreachable.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "Server is offline" }
func (e *NetworkError) Unwrap() error { return e.Err }

// RoomOperationError wraps a failed join/leave/create room call.
type RoomOperationError struct {
	Op   string
	Room string
	Err  error
}

func (e *RoomOperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Room, e.Err)
}

func (e *RoomOperationError) Unwrap() error { return e.Err }

// ListenerID is the handle returned by listener registration and passed
// back on removal. Handles avoid identity-based searches of listener
// lists when detaching.
type ListenerID uint64

// RoomEventFunc receives timeline and state events for a watched room.
type RoomEventFunc func(roomID id.RoomID, evt *event.Event)

// TypingEventFunc receives the current set of active typists for a
// watched room. An empty slice means typing stopped.
type TypingEventFunc func(roomID id.RoomID, userIDs []id.UserID)

// InviteFunc receives invites for the logged-in user. name may be empty
// if no room name is known yet.
type InviteFunc func(roomID id.RoomID, name string)

// KickFunc receives forced removals of the logged-in user from a room.
type KickFunc func(roomID id.RoomID)

// MatrixSession is the back-network transport boundary: one authenticated
// homeserver session. The production implementation is MautrixSession.
//
// Room and typing listeners are scoped per room and identified by the
// returned handle. The transport delivers events on its own sync
// goroutine; callers must serialize their own state.
type MatrixSession interface {
	Login(ctx context.Context, username, password string) error
	Logout(ctx context.Context) error

	JoinRoom(ctx context.Context, roomIDOrAlias string) (id.RoomID, error)
	LeaveRoom(ctx context.Context, roomID id.RoomID) error
	CreateRoom(ctx context.Context, alias string, public bool, invitees []id.UserID) (id.RoomID, id.RoomAlias, error)
	JoinedRooms(ctx context.Context) ([]id.RoomID, error)
	RoomAliases(ctx context.Context, roomID id.RoomID) ([]id.RoomAlias, error)
	ResolveAlias(ctx context.Context, alias id.RoomAlias) (id.RoomID, error)
	RoomMembers(ctx context.Context, roomID id.RoomID) ([]string, error)
	PublicRooms(ctx context.Context, limit int) ([]string, error)
	SetDisplayName(ctx context.Context, name string) error

	SendText(ctx context.Context, roomID id.RoomID, text string) error
	SendMedia(ctx context.Context, roomID id.RoomID, msgType event.MessageType, filename string, data []byte, mimeType string) error
	DownloadMedia(ctx context.Context, uri id.ContentURI) ([]byte, error)
	// Backfill returns up to limit past timeline events of the room in
	// chronological order.
	Backfill(ctx context.Context, roomID id.RoomID, limit int) ([]*event.Event, error)

	AddRoomListener(roomID id.RoomID, fn RoomEventFunc) ListenerID
	RemoveRoomListener(roomID id.RoomID, lid ListenerID)
	AddTypingListener(roomID id.RoomID, fn TypingEventFunc) ListenerID
	RemoveTypingListener(roomID id.RoomID, lid ListenerID)
	OnInvite(fn InviteFunc)
	OnKick(fn KickFunc)
}

// SessionFactory creates a fresh MatrixSession for a login attempt.
type SessionFactory func() (MatrixSession, error)
