// Copyright 2016-2026 Gal Pressman
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Fixed replies for the cross-cutting guards and login outcomes.
const (
	msgNotLoggedIn = "You are not logged in. Login to start with /login username password"
	msgNotInRoom   = "You are not in any room. Type /join #room to join one."
	msgNoFocus     = "You don't have a room in focus. Type /focus to choose one."
)

// keyboardRowWidth caps the number of buttons per inline keyboard row.
const keyboardRowWidth = 3

type commandHandler func(ctx context.Context, msg *Message, args map[string]string)

// callbackHandler handles one inline-keyboard action and returns the
// acknowledgment text. The dispatcher answers the callback query exactly
// once with that text, including on guard rejections.
type callbackHandler func(ctx context.Context, cb *CallbackQuery, args map[string]string) string

type contentHandler func(ctx context.Context, msg *Message)

type route struct {
	pattern *regexp.Regexp
	handler commandHandler
	// await makes the dispatcher wait for the handler before returning.
	// Only the login route sets it: login mutates the session registry
	// and must complete before the next message for the user is routed.
	await bool
}

type callbackRoute struct {
	pattern *regexp.Regexp
	handler callbackHandler
}

// session is one registry entry: the per-user binding between a Telegram
// chat and a Matrix client. typingActive and typingDone are read and
// written only under Bridge.mu.
type session struct {
	client       *Client
	typingActive bool
	typingDone   chan struct{}
}

// Bridge is the session/routing engine. It owns the per-user session
// registry, the command, callback and content-type route tables, and the
// dispatch loop glue between the two transports.
type Bridge struct {
	cfg        *Config
	tg         TelegramAPI
	newSession SessionFactory
	log        zerolog.Logger

	// Route tables are built once in New and immutable afterwards.
	// Command and callback matching is first-match-wins, so the
	// catch-all free-text route must stay last.
	routes         []route
	callbackRoutes []callbackRoute
	contentRoutes  map[ContentKind]contentHandler

	typingInterval time.Duration

	mu sync.Mutex
	// users is the primary registry keyed by Telegram chat ID. chatIDs
	// is the reverse client index, maintained in lockstep on session
	// create and destroy, so event callbacks can find their chat
	// without scanning the registry.
	users   map[int64]*session
	chatIDs map[*Client]int64

	tasks sync.WaitGroup
}

// New creates a Bridge wired to the given transports. newSession is
// invoked once per login attempt.
func New(cfg *Config, tg TelegramAPI, newSession SessionFactory, log zerolog.Logger) *Bridge {
	b := &Bridge{
		cfg:            cfg,
		tg:             tg,
		newSession:     newSession,
		log:            log.With().Str("component", "bridge").Logger(),
		typingInterval: time.Duration(cfg.TypingIntervalSeconds) * time.Second,
		users:          make(map[int64]*session),
		chatIDs:        make(map[*Client]int64),
	}

	b.routes = []route{
		{pattern: regexp.MustCompile(`^/login (?P<username>\S+) (?P<password>\S+)$`), handler: b.cmdLogin, await: true},
		{pattern: regexp.MustCompile(`^/logout$`), handler: b.requireSession(b.cmdLogout)},
		{pattern: regexp.MustCompile(`^/join\s(?P<room_name>[^$]+)$`), handler: b.requireSession(b.cmdJoin)},
		{pattern: regexp.MustCompile(`^/leave$`), handler: b.requireSession(b.cmdLeave)},
		{pattern: regexp.MustCompile(`^/discover$`), handler: b.requireSession(b.cmdDiscover)},
		{pattern: regexp.MustCompile(`^/focus$`), handler: b.requireSession(b.cmdFocus)},
		{pattern: regexp.MustCompile(`^/status$`), handler: b.requireSession(b.cmdStatus)},
		{pattern: regexp.MustCompile(`^/members$`), handler: b.requireSession(b.requireFocus(b.cmdMembers))},
		{pattern: regexp.MustCompile(`^/create_room (?P<room_name>[\S]+)(?P<invitees>\s.*\S)*$`), handler: b.requireSession(b.cmdCreateRoom)},
		{pattern: regexp.MustCompile(`^/setname (?P<name>.+)$`), handler: b.requireSession(b.cmdSetName)},
		{pattern: regexp.MustCompile(`^/backfill$`), handler: b.requireSession(b.requireFocus(b.cmdBackfill))},
		{pattern: regexp.MustCompile(`^(?P<text>[^/].*)$`), handler: b.requireSession(b.requireFocus(b.cmdForwardText))},
	}

	b.callbackRoutes = []callbackRoute{
		{pattern: regexp.MustCompile(`^LEAVE (?P<room>\S+)$`), handler: b.requireCallbackSession(b.cbLeave)},
		{pattern: regexp.MustCompile(`^FOCUS (?P<room>\S+)$`), handler: b.requireCallbackSession(b.cbFocus)},
		{pattern: regexp.MustCompile(`^JOIN (?P<room>\S+)$`), handler: b.requireCallbackSession(b.cbJoin)},
		{pattern: regexp.MustCompile(`^NOP$`), handler: b.requireCallbackSession(b.cbNop)},
	}

	b.contentRoutes = map[ContentKind]contentHandler{
		ContentText:     b.onText,
		ContentPhoto:    b.requireMediaSession(b.fwdPhoto),
		ContentVoice:    b.requireMediaSession(b.fwdVoice),
		ContentVideo:    b.requireMediaSession(b.fwdVideo),
		ContentDocument: b.requireMediaSession(b.fwdDocument),
	}

	return b
}

// HandleMessage is the inbound entry point for Telegram messages.
// Messages are routed by content kind; handlers run on their own task.
func (b *Bridge) HandleMessage(ctx context.Context, msg *Message) {
	kind := msg.ContentKind()
	b.log.Debug().Int64("chat_id", msg.Chat.ID).Int("content_kind", int(kind)).Msg("Inbound message")

	handler, ok := b.contentRoutes[kind]
	if !ok {
		b.log.Debug().Int("content_kind", int(kind)).Msg("No handler for content kind")
		return
	}
	handler(ctx, msg)
}

// onText routes a text message through the command table. The first
// matching route wins and runs on a new task; for the login route the
// dispatcher waits for completion before returning, so a user cannot
// interleave commands with an in-flight login.
func (b *Bridge) onText(ctx context.Context, msg *Message) {
	for _, rt := range b.routes {
		m := rt.pattern.FindStringSubmatch(msg.Text)
		if m == nil {
			continue
		}
		args := namedGroups(rt.pattern, m)
		done := make(chan struct{})
		b.tasks.Add(1)
		go func() {
			defer b.tasks.Done()
			defer close(done)
			rt.handler(ctx, msg, args)
		}()
		if rt.await {
			<-done
		}
		return
	}
}

// HandleCallback is the inbound entry point for inline-keyboard actions.
// The matched handler runs on its own task and its acknowledgment is
// delivered exactly once per callback query.
func (b *Bridge) HandleCallback(ctx context.Context, cb *CallbackQuery) {
	for _, rt := range b.callbackRoutes {
		m := rt.pattern.FindStringSubmatch(cb.Data)
		if m == nil {
			continue
		}
		args := namedGroups(rt.pattern, m)
		b.tasks.Add(1)
		go func() {
			defer b.tasks.Done()
			ack := rt.handler(ctx, cb, args)
			if err := b.tg.AnswerCallbackQuery(ctx, cb.ID, ack); err != nil {
				b.log.Warn().Err(err).Str("callback_id", cb.ID).Msg("Failed to answer callback query")
			}
		}()
		return
	}
}

// Wait blocks until all in-flight dispatch tasks have finished.
func (b *Bridge) Wait() {
	b.tasks.Wait()
}

// clientFor returns the Matrix client bound to a chat, or nil if the
// user has no active session.
func (b *Bridge) clientFor(chatID int64) *Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess := b.users[chatID]
	if sess == nil {
		return nil
	}
	return sess.client
}

// chatIDFor reverse-looks-up the chat owning a client. A miss is an
// internal invariant violation: the caller degrades to a no-op.
func (b *Bridge) chatIDFor(c *Client) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	chatID, ok := b.chatIDs[c]
	if !ok {
		b.log.Error().Msg("Client without session")
	}
	return chatID, ok
}

// bindSession installs a fresh session for a chat, replacing any
// previous binding in both the primary map and the reverse index.
func (b *Bridge) bindSession(chatID int64, c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old := b.users[chatID]; old != nil && old.client != nil {
		delete(b.chatIDs, old.client)
	}
	b.users[chatID] = &session{client: c}
	b.chatIDs[c] = chatID
}

// unbindClient clears the client of a chat's session. The registry
// entry is kept so later commands take the "not logged in" path.
func (b *Bridge) unbindClient(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess := b.users[chatID]
	if sess == nil {
		return
	}
	if sess.client != nil {
		delete(b.chatIDs, sess.client)
		sess.client = nil
	}
}

// sendText sends a plain or keyboard-decorated message to a chat,
// logging delivery failures.
func (b *Bridge) sendText(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) {
	if err := b.tg.SendMessage(ctx, chatID, text, markup); err != nil {
		b.log.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}

// roomsKeyboard builds an inline keyboard with one button per room,
// chunked into rows so long room lists stay within Telegram's limits.
func roomsKeyboard(action string, rooms []string) *InlineKeyboardMarkup {
	buttons := make([]InlineKeyboardButton, len(rooms))
	for i, room := range rooms {
		buttons[i] = InlineKeyboardButton{Text: room, CallbackData: action + " " + room}
	}
	return &InlineKeyboardMarkup{InlineKeyboard: Chunks(buttons, keyboardRowWidth)}
}

// namedGroups maps the pattern's named capture groups to the submatch
// values of a successful FindStringSubmatch.
func namedGroups(pattern *regexp.Regexp, match []string) map[string]string {
	args := make(map[string]string)
	for i, name := range pattern.SubexpNames() {
		if name != "" && i < len(match) {
			args[name] = match[i]
		}
	}
	return args
}
