// Copyright 2016-2026 Gal Pressman
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Client is the room-side half of one user session: an authenticated
// Matrix session plus the focus-room state machine. Exactly one room is
// "focused" at a time; the message and typing listeners are attached to
// that room only.
//
// focusRoomID and the listener handles are mutated both by command
// dispatch tasks and by event callbacks arriving on the transport's sync
// goroutine, so all focus transitions go through mu.
type Client struct {
	bridge  *Bridge
	session MatrixSession

	serverURL string
	username  string

	mu             sync.Mutex
	focusRoomID    id.RoomID
	roomListener   ListenerID
	typingListener ListenerID

	log zerolog.Logger
}

// NewClient creates a room-side client for one Telegram user. The
// session is owned by the client and released on Logout.
func NewClient(b *Bridge, session MatrixSession, serverURL, username string, log zerolog.Logger) *Client {
	return &Client{
		bridge:    b,
		session:   session,
		serverURL: serverURL,
		username:  username,
		log:       log.With().Str("component", "mx_client").Str("username", username).Logger(),
	}
}

// Login authenticates against the homeserver, focuses the first joined
// room (lexicographic by room ID) and registers the invite and kick
// hooks. Returns *AuthError or *NetworkError on failure.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if err := c.session.Login(ctx, username, password); err != nil {
		return err
	}

	rooms, err := c.session.JoinedRooms(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to list joined rooms after login")
	} else if len(rooms) > 0 {
		sortRoomIDs(rooms)
		if err := c.SetFocusRoom(ctx, rooms[0].String()); err != nil {
			c.log.Warn().Err(err).Msg("Failed to focus initial room")
		}
	}

	c.session.OnInvite(c.handleInvite)
	c.session.OnKick(c.handleKick)
	return nil
}

// Logout terminates the homeserver session. The focus listeners are
// detached first so no stale callbacks survive the session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.SetFocusRoom(ctx, ""); err != nil {
		c.log.Warn().Err(err).Msg("Failed to unfocus on logout")
	}
	return c.session.Logout(ctx)
}

// JoinRoom joins the given room ID or alias. If the client had no
// focused room, the newly joined room becomes the focus.
func (c *Client) JoinRoom(ctx context.Context, roomIDOrAlias string) error {
	roomID, err := c.session.JoinRoom(ctx, roomIDOrAlias)
	if err != nil {
		return &RoomOperationError{Op: "join", Room: roomIDOrAlias, Err: err}
	}
	if !c.HasFocusRoom() {
		if err := c.SetFocusRoom(ctx, roomID.String()); err != nil {
			c.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("Failed to focus joined room")
		}
	}
	return nil
}

// LeaveRoom leaves the given room ID or alias. If the left room was the
// focus, the focus moves to the lexicographically first remaining joined
// room, or to none if no rooms remain. A failed leave changes no state.
func (c *Client) LeaveRoom(ctx context.Context, roomIDOrAlias string) error {
	roomID, err := c.resolveToID(ctx, roomIDOrAlias)
	if err != nil {
		return err
	}

	c.mu.Lock()
	wasFocused := c.focusRoomID == roomID
	c.mu.Unlock()

	if err := c.session.LeaveRoom(ctx, roomID); err != nil {
		return &RoomOperationError{Op: "leave", Room: roomIDOrAlias, Err: err}
	}

	if wasFocused {
		next := ""
		rooms, err := c.session.JoinedRooms(ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("Failed to list rooms for refocus")
		} else {
			remaining := rooms[:0]
			for _, r := range rooms {
				if r != roomID {
					remaining = append(remaining, r)
				}
			}
			if len(remaining) > 0 {
				sortRoomIDs(remaining)
				next = remaining[0].String()
			}
		}
		if err := c.SetFocusRoom(ctx, next); err != nil {
			c.log.Warn().Err(err).Str("next", next).Msg("Failed to refocus after leave")
		}
	}
	return nil
}

// CreateRoom creates a public room with the given alias localpart and
// optional invitees, and returns the room ID and full alias.
func (c *Client) CreateRoom(ctx context.Context, alias string, invitees []string) (id.RoomID, id.RoomAlias, error) {
	userIDs := make([]id.UserID, 0, len(invitees))
	for _, inv := range invitees {
		userIDs = append(userIDs, id.UserID(inv))
	}
	roomID, fullAlias, err := c.session.CreateRoom(ctx, alias, true, userIDs)
	if err != nil {
		return "", "", &RoomOperationError{Op: "create", Room: alias, Err: err}
	}
	return roomID, fullAlias, nil
}

// SetFocusRoom switches the focus to the given room ID or alias,
// detaching the listeners from the previous focus and attaching them to
// the new one. An empty target is a pure detach. Switching to the
// already focused room is a no-op.
func (c *Client) SetFocusRoom(ctx context.Context, target string) error {
	targetID, err := c.resolveToID(ctx, target)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if targetID == c.focusRoomID {
		return nil
	}

	if c.focusRoomID != "" {
		c.session.RemoveRoomListener(c.focusRoomID, c.roomListener)
		c.session.RemoveTypingListener(c.focusRoomID, c.typingListener)
		c.log.Debug().Str("room_id", c.focusRoomID.String()).Msg("Detached focus room listeners")
		c.focusRoomID = ""
	}

	if targetID != "" {
		c.roomListener = c.session.AddRoomListener(targetID, c.handleRoomEvent)
		c.typingListener = c.session.AddTypingListener(targetID, c.handleTyping)
		c.focusRoomID = targetID
	}

	c.log.Debug().Str("focus_room", c.focusRoomID.String()).Msg("Focus room changed")
	return nil
}

// FocusRoomID returns the focused room ID, or "" if unfocused.
func (c *Client) FocusRoomID() id.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focusRoomID
}

// HasFocusRoom reports whether a room is focused.
func (c *Client) HasFocusRoom() bool {
	return c.FocusRoomID() != ""
}

// FocusRoomAlias returns the primary alias of the focused room, the room
// ID if it has no alias, or "" if unfocused.
func (c *Client) FocusRoomAlias(ctx context.Context) string {
	roomID := c.FocusRoomID()
	if roomID == "" {
		return ""
	}
	return c.roomDisplay(ctx, roomID)
}

// RoomsAliases returns the joined rooms keyed by room ID, each with its
// alias list or the room ID itself when no alias exists. The list is
// re-queried from the homeserver on every call to avoid staleness.
func (c *Client) RoomsAliases(ctx context.Context) map[id.RoomID][]string {
	rooms, err := c.session.JoinedRooms(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to list joined rooms")
		return nil
	}
	out := make(map[id.RoomID][]string, len(rooms))
	for _, roomID := range rooms {
		aliases, err := c.session.RoomAliases(ctx, roomID)
		if err != nil || len(aliases) == 0 {
			out[roomID] = []string{roomID.String()}
			continue
		}
		strs := make([]string, len(aliases))
		for i, a := range aliases {
			strs[i] = a.String()
		}
		out[roomID] = strs
	}
	return out
}

// RoomNames returns the primary alias (or ID) of every joined room,
// sorted for deterministic keyboards and listings.
func (c *Client) RoomNames(ctx context.Context) []string {
	rooms := c.RoomsAliases(ctx)
	names := make([]string, 0, len(rooms))
	for _, aliases := range rooms {
		names = append(names, aliases[0])
	}
	sort.Strings(names)
	return names
}

// Members returns the display names of the focused room's members.
func (c *Client) Members(ctx context.Context) ([]string, error) {
	roomID := c.FocusRoomID()
	if roomID == "" {
		return nil, ErrMissingRoom
	}
	return c.session.RoomMembers(ctx, roomID)
}

// Discover lists public rooms on the homeserver.
func (c *Client) Discover(ctx context.Context) ([]string, error) {
	return c.session.PublicRooms(ctx, 20)
}

// SetName changes the display name of the Matrix account.
func (c *Client) SetName(ctx context.Context, name string) error {
	return c.session.SetDisplayName(ctx, name)
}

// SendText sends a plain text message to the focused room.
func (c *Client) SendText(ctx context.Context, text string) error {
	roomID := c.FocusRoomID()
	if roomID == "" {
		return ErrMissingRoom
	}
	return c.session.SendText(ctx, roomID, text)
}

// SendPhoto uploads the file at path and sends it to the focused room as
// an image message.
func (c *Client) SendPhoto(ctx context.Context, path string) error {
	return c.sendMediaFile(ctx, event.MsgImage, path)
}

// SendVoice uploads the file at path and sends it as an audio message.
func (c *Client) SendVoice(ctx context.Context, path string) error {
	return c.sendMediaFile(ctx, event.MsgAudio, path)
}

// SendVideo uploads the file at path and sends it as a video message.
func (c *Client) SendVideo(ctx context.Context, path string) error {
	return c.sendMediaFile(ctx, event.MsgVideo, path)
}

func (c *Client) sendMediaFile(ctx context.Context, msgType event.MessageType, path string) error {
	roomID := c.FocusRoomID()
	if roomID == "" {
		return ErrMissingRoom
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read media file: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return c.session.SendMedia(ctx, roomID, msgType, filepath.Base(path), data, mimeType)
}

// Backfill replays up to limit past messages of the focused room through
// the normal event classification path, oldest first.
func (c *Client) Backfill(ctx context.Context, limit int) error {
	roomID := c.FocusRoomID()
	if roomID == "" {
		return ErrMissingRoom
	}
	events, err := c.session.Backfill(ctx, roomID, limit)
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}
	for _, evt := range events {
		c.handleRoomEvent(roomID, evt)
	}
	return nil
}

// handleRoomEvent classifies one timeline event of the focused room and
// relays it to the Telegram side. Events authored by this client's own
// user are discarded (loopback prevention).
func (c *Client) handleRoomEvent(roomID id.RoomID, evt *event.Event) {
	sender := senderLocal(evt.Sender)
	if strings.HasPrefix(evt.Sender.String(), "@"+c.username) {
		return
	}

	switch evt.Type {
	case event.EventMessage:
		content := evt.Content.AsMessage()
		if content == nil {
			return
		}
		switch content.MsgType {
		case event.MsgText:
			c.bridge.relayMessage(sender, content.Body, c)
		case event.MsgImage:
			if path := c.downloadFromEvent(content); path != "" {
				c.bridge.relayPhoto(path, c)
			}
		case event.MsgAudio:
			if path := c.downloadFromEvent(content); path != "" {
				c.bridge.relayVoice(path, c)
			}
		case event.MsgVideo:
			if path := c.downloadFromEvent(content); path != "" {
				c.bridge.relayVideo(path, c)
			}
		default:
			c.log.Debug().Str("msgtype", string(content.MsgType)).Msg("Ignoring unsupported message type")
		}
	case event.StateTopic:
		content := evt.Content.AsTopic()
		if content == nil {
			return
		}
		c.bridge.relayTopic(sender, content.Topic, c)
	}
}

// handleTyping starts or stops the Telegram typing relay based on the
// current set of active typists.
func (c *Client) handleTyping(roomID id.RoomID, userIDs []id.UserID) {
	if len(userIDs) > 0 {
		c.bridge.startTypingRelay(c)
	} else {
		c.bridge.stopTypingRelay(c)
	}
}

// handleKick force-unfocuses the room the user was removed from and
// notifies the Telegram side.
func (c *Client) handleKick(roomID id.RoomID) {
	c.log.Info().Str("room_id", roomID.String()).Msg("Kicked from room")
	display := c.roomDisplay(context.Background(), roomID)
	if c.FocusRoomID() == roomID {
		if err := c.SetFocusRoom(context.Background(), ""); err != nil {
			c.log.Warn().Err(err).Msg("Failed to unfocus after kick")
		}
	}
	c.bridge.relayKick(display, c)
}

// handleInvite prompts the Telegram user to accept or decline the invite.
func (c *Client) handleInvite(roomID id.RoomID, name string) {
	c.log.Info().Str("room_id", roomID.String()).Str("name", name).Msg("Received invite")
	if name == "" {
		name = roomID.String()
	}
	c.bridge.relayInvite(name, roomID.String(), c)
}

// downloadFromEvent downloads the media attachment of a message event to
// the scratch media directory and returns the local path, or "" on
// failure. Files are named <media_id>.<mime subtype>.
func (c *Client) downloadFromEvent(content *event.MessageEventContent) string {
	uri, err := content.URL.Parse()
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to parse media URI")
		return ""
	}
	data, err := c.session.DownloadMedia(context.Background(), uri)
	if err != nil {
		c.log.Error().Err(err).Str("uri", uri.String()).Msg("Failed to download media")
		return ""
	}

	ext := "bin"
	if content.Info != nil && content.Info.MimeType != "" {
		if parts := strings.SplitN(content.Info.MimeType, "/", 2); len(parts) == 2 {
			ext = parts[1]
		}
	}
	path := filepath.Join(c.bridge.cfg.MediaDir, fmt.Sprintf("%s.%s", uri.FileID, ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		c.log.Error().Err(err).Str("path", path).Msg("Failed to write media file")
		return ""
	}
	return path
}

// resolveToID canonicalizes a room reference: aliases are resolved via
// the homeserver, IDs pass through, "" stays "".
func (c *Client) resolveToID(ctx context.Context, roomIDOrAlias string) (id.RoomID, error) {
	if roomIDOrAlias == "" {
		return "", nil
	}
	if !strings.HasPrefix(roomIDOrAlias, "#") {
		return id.RoomID(roomIDOrAlias), nil
	}
	roomID, err := c.session.ResolveAlias(ctx, id.RoomAlias(roomIDOrAlias))
	if err != nil {
		c.log.Error().Err(err).Str("alias", roomIDOrAlias).Msg("Failed to resolve alias")
		return "", ErrMissingRoom
	}
	return roomID, nil
}

// roomDisplay returns the primary alias of a room, or the ID itself.
func (c *Client) roomDisplay(ctx context.Context, roomID id.RoomID) string {
	aliases, err := c.session.RoomAliases(ctx, roomID)
	if err != nil || len(aliases) == 0 {
		return roomID.String()
	}
	return aliases[0].String()
}

// senderLocal trims the server part of a Matrix user ID, mirroring the
// "@user" form shown in relayed messages.
func senderLocal(userID id.UserID) string {
	s := userID.String()
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}

func sortRoomIDs(rooms []id.RoomID) {
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
}
