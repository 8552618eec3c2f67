// Copyright 2016-2026 Gal Pressman
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// MautrixSession implements MatrixSession over a mautrix.Client. Sync
// events are fanned out to per-room listener sets registered through the
// handle-based listener API; the sync loop runs on its own goroutine and
// is stopped on Logout.
type MautrixSession struct {
	cli *mautrix.Client
	log zerolog.Logger

	mu       sync.Mutex
	nextID   ListenerID
	roomLs   map[id.RoomID]map[ListenerID]RoomEventFunc
	typingLs map[id.RoomID]map[ListenerID]TypingEventFunc
	inviteFn InviteFunc
	kickFn   KickFunc
	// roomNames caches m.room.name state seen in sync so invites can be
	// presented with a human-readable name.
	roomNames map[id.RoomID]string

	stopSync context.CancelFunc
}

var _ MatrixSession = (*MautrixSession)(nil)

// NewMautrixSession creates an unauthenticated session for the given
// homeserver.
func NewMautrixSession(homeserverURL string, log zerolog.Logger) (*MautrixSession, error) {
	cli, err := mautrix.NewClient(homeserverURL, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	s := &MautrixSession{
		cli:       cli,
		log:       log.With().Str("component", "mx_session").Logger(),
		roomLs:    make(map[id.RoomID]map[ListenerID]RoomEventFunc),
		typingLs:  make(map[id.RoomID]map[ListenerID]TypingEventFunc),
		roomNames: make(map[id.RoomID]string),
	}

	syncer := cli.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, s.onRoomEvent)
	syncer.OnEventType(event.StateTopic, s.onRoomEvent)
	syncer.OnEventType(event.EphemeralEventTyping, s.onTyping)
	syncer.OnEventType(event.StateMember, s.onMember)
	syncer.OnEventType(event.StateRoomName, s.onRoomName)

	return s, nil
}

// Login authenticates with a username and password and starts the sync
// loop. Errors are classified into *AuthError (rejected credentials)
// and *NetworkError (homeserver unreachable).
func (s *MautrixSession) Login(ctx context.Context, username, password string) error {
	_, err := s.cli.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: username,
		},
		Password:         password,
		StoreCredentials: true,
	})
	if err != nil {
		var httpErr mautrix.HTTPError
		if errors.As(err, &httpErr) && httpErr.RespError != nil {
			return &AuthError{Err: err}
		}
		return &NetworkError{Err: err}
	}

	syncCtx, cancel := context.WithCancel(context.Background())
	s.stopSync = cancel
	go func() {
		if err := s.cli.SyncWithContext(syncCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error().Err(err).Msg("Sync loop terminated")
		}
	}()

	s.log.Info().Str("user_id", s.cli.UserID.String()).Msg("Logged in")
	return nil
}

// Logout stops the sync loop and invalidates the access token.
func (s *MautrixSession) Logout(ctx context.Context) error {
	if s.stopSync != nil {
		s.stopSync()
	}
	if _, err := s.cli.Logout(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	return nil
}

func (s *MautrixSession) JoinRoom(ctx context.Context, roomIDOrAlias string) (id.RoomID, error) {
	resp, err := s.cli.JoinRoom(ctx, roomIDOrAlias, nil)
	if err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

func (s *MautrixSession) LeaveRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := s.cli.LeaveRoom(ctx, roomID)
	return err
}

func (s *MautrixSession) CreateRoom(ctx context.Context, alias string, public bool, invitees []id.UserID) (id.RoomID, id.RoomAlias, error) {
	req := &mautrix.ReqCreateRoom{
		RoomAliasName: alias,
		Invite:        invitees,
	}
	if public {
		req.Visibility = "public"
		req.Preset = "public_chat"
	}
	resp, err := s.cli.CreateRoom(ctx, req)
	if err != nil {
		return "", "", err
	}
	fullAlias := id.RoomAlias("")
	if aliases, err := s.RoomAliases(ctx, resp.RoomID); err == nil && len(aliases) > 0 {
		fullAlias = aliases[0]
	}
	return resp.RoomID, fullAlias, nil
}

func (s *MautrixSession) JoinedRooms(ctx context.Context) ([]id.RoomID, error) {
	resp, err := s.cli.JoinedRooms(ctx)
	if err != nil {
		return nil, err
	}
	return resp.JoinedRooms, nil
}

func (s *MautrixSession) RoomAliases(ctx context.Context, roomID id.RoomID) ([]id.RoomAlias, error) {
	resp, err := s.cli.GetAliases(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return resp.Aliases, nil
}

func (s *MautrixSession) ResolveAlias(ctx context.Context, alias id.RoomAlias) (id.RoomID, error) {
	resp, err := s.cli.ResolveAlias(ctx, alias)
	if err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

func (s *MautrixSession) RoomMembers(ctx context.Context, roomID id.RoomID) ([]string, error) {
	resp, err := s.cli.JoinedMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	members := make([]string, 0, len(resp.Joined))
	for userID, member := range resp.Joined {
		if member.DisplayName != "" {
			members = append(members, member.DisplayName)
		} else {
			members = append(members, userID.String())
		}
	}
	return members, nil
}

func (s *MautrixSession) PublicRooms(ctx context.Context, limit int) ([]string, error) {
	resp, err := s.cli.PublicRooms(ctx, &mautrix.ReqPublicRooms{Limit: limit})
	if err != nil {
		return nil, err
	}
	rooms := make([]string, 0, len(resp.Chunk))
	for _, room := range resp.Chunk {
		if room.CanonicalAlias != "" {
			rooms = append(rooms, room.CanonicalAlias.String())
		} else {
			rooms = append(rooms, room.RoomID.String())
		}
	}
	return rooms, nil
}

func (s *MautrixSession) SetDisplayName(ctx context.Context, name string) error {
	return s.cli.SetDisplayName(ctx, name)
}

func (s *MautrixSession) SendText(ctx context.Context, roomID id.RoomID, text string) error {
	_, err := s.cli.SendText(ctx, roomID, text)
	return err
}

func (s *MautrixSession) SendMedia(ctx context.Context, roomID id.RoomID, msgType event.MessageType, filename string, data []byte, mimeType string) error {
	upload, err := s.cli.UploadBytes(ctx, data, mimeType)
	if err != nil {
		return fmt.Errorf("media upload failed: %w", err)
	}
	_, err = s.cli.SendMessageEvent(ctx, roomID, event.EventMessage, &event.MessageEventContent{
		MsgType: msgType,
		Body:    filename,
		URL:     upload.ContentURI.CUString(),
		Info: &event.FileInfo{
			MimeType: mimeType,
			Size:     len(data),
		},
	})
	return err
}

func (s *MautrixSession) DownloadMedia(ctx context.Context, uri id.ContentURI) ([]byte, error) {
	return s.cli.DownloadBytes(ctx, uri)
}

func (s *MautrixSession) Backfill(ctx context.Context, roomID id.RoomID, limit int) ([]*event.Event, error) {
	resp, err := s.cli.Messages(ctx, roomID, "", "", mautrix.DirectionBackward, nil, limit)
	if err != nil {
		return nil, err
	}
	// The paginated chunk is newest-first; reverse to chronological.
	events := make([]*event.Event, 0, len(resp.Chunk))
	for i := len(resp.Chunk) - 1; i >= 0; i-- {
		evt := resp.Chunk[i]
		if err := evt.Content.ParseRaw(evt.Type); err != nil {
			continue
		}
		events = append(events, evt)
	}
	return events, nil
}

func (s *MautrixSession) AddRoomListener(roomID id.RoomID, fn RoomEventFunc) ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	lid := s.nextID
	if s.roomLs[roomID] == nil {
		s.roomLs[roomID] = make(map[ListenerID]RoomEventFunc)
	}
	s.roomLs[roomID][lid] = fn
	return lid
}

func (s *MautrixSession) RemoveRoomListener(roomID id.RoomID, lid ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roomLs[roomID], lid)
}

func (s *MautrixSession) AddTypingListener(roomID id.RoomID, fn TypingEventFunc) ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	lid := s.nextID
	if s.typingLs[roomID] == nil {
		s.typingLs[roomID] = make(map[ListenerID]TypingEventFunc)
	}
	s.typingLs[roomID][lid] = fn
	return lid
}

func (s *MautrixSession) RemoveTypingListener(roomID id.RoomID, lid ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.typingLs[roomID], lid)
}

func (s *MautrixSession) OnInvite(fn InviteFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inviteFn = fn
}

func (s *MautrixSession) OnKick(fn KickFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kickFn = fn
}

// onRoomEvent fans a timeline or topic event out to the room's
// listeners. Listener callbacks run outside the registry lock.
func (s *MautrixSession) onRoomEvent(ctx context.Context, evt *event.Event) {
	s.mu.Lock()
	fns := make([]RoomEventFunc, 0, len(s.roomLs[evt.RoomID]))
	for _, fn := range s.roomLs[evt.RoomID] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(evt.RoomID, evt)
	}
}

func (s *MautrixSession) onTyping(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsTyping()
	if content == nil {
		return
	}
	s.mu.Lock()
	fns := make([]TypingEventFunc, 0, len(s.typingLs[evt.RoomID]))
	for _, fn := range s.typingLs[evt.RoomID] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(evt.RoomID, content.UserIDs)
	}
}

// onMember translates membership state about the logged-in user into
// invite and kick hooks. A leave authored by someone else is a kick.
func (s *MautrixSession) onMember(ctx context.Context, evt *event.Event) {
	me := s.cli.UserID
	if me == "" || evt.GetStateKey() != me.String() {
		return
	}
	content := evt.Content.AsMember()
	if content == nil {
		return
	}

	s.mu.Lock()
	inviteFn := s.inviteFn
	kickFn := s.kickFn
	name := s.roomNames[evt.RoomID]
	s.mu.Unlock()

	switch content.Membership {
	case event.MembershipInvite:
		if inviteFn != nil {
			inviteFn(evt.RoomID, name)
		}
	case event.MembershipLeave, event.MembershipBan:
		if evt.Sender != me && kickFn != nil {
			kickFn(evt.RoomID)
		}
	}
}

func (s *MautrixSession) onRoomName(ctx context.Context, evt *event.Event) {
	content := evt.Content.AsRoomName()
	if content == nil {
		return
	}
	s.mu.Lock()
	s.roomNames[evt.RoomID] = content.Name
	s.mu.Unlock()
}
