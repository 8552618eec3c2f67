// Copyright 2016-2026 Gal Pressman
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

type sentText struct {
	ChatID int64
	Text   string
	Markup *InlineKeyboardMarkup
}

type sentFile struct {
	ChatID int64
	Path   string
}

type sentAck struct {
	CallbackID string
	Text       string
}

// fakeTelegram records every outbound Telegram call for assertions.
type fakeTelegram struct {
	mu       sync.Mutex
	texts    []sentText
	actions  []ChatAction
	photos   []sentFile
	voices   []sentFile
	videos   []sentFile
	acks     []sentAck
	fileURLs map[string]string

	sendErr error
}

func newFakeTelegram() *fakeTelegram {
	return &fakeTelegram{fileURLs: make(map[string]string)}
}

func (f *fakeTelegram) SendMessage(_ context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.texts = append(f.texts, sentText{ChatID: chatID, Text: text, Markup: markup})
	return nil
}

func (f *fakeTelegram) SendChatAction(_ context.Context, _ int64, action ChatAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeTelegram) SendPhoto(_ context.Context, chatID int64, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, sentFile{ChatID: chatID, Path: path})
	return nil
}

func (f *fakeTelegram) SendVoice(_ context.Context, chatID int64, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voices = append(f.voices, sentFile{ChatID: chatID, Path: path})
	return nil
}

func (f *fakeTelegram) SendVideo(_ context.Context, chatID int64, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videos = append(f.videos, sentFile{ChatID: chatID, Path: path})
	return nil
}

func (f *fakeTelegram) GetFileURL(_ context.Context, fileID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url, ok := f.fileURLs[fileID]
	if !ok {
		return "", fmt.Errorf("unknown file %s", fileID)
	}
	return url, nil
}

func (f *fakeTelegram) AnswerCallbackQuery(_ context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, sentAck{CallbackID: callbackID, Text: text})
	return nil
}

func (f *fakeTelegram) Texts() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentText, len(f.texts))
	copy(cp, f.texts)
	return cp
}

func (f *fakeTelegram) TextBodies() []string {
	texts := f.Texts()
	out := make([]string, len(texts))
	for i, st := range texts {
		out[i] = st.Text
	}
	return out
}

func (f *fakeTelegram) Acks() []sentAck {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentAck, len(f.acks))
	copy(cp, f.acks)
	return cp
}

func (f *fakeTelegram) Photos() []sentFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentFile, len(f.photos))
	copy(cp, f.photos)
	return cp
}

func (f *fakeTelegram) ActionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.actions)
}

func (f *fakeTelegram) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = nil
	f.actions = nil
	f.photos = nil
	f.voices = nil
	f.videos = nil
	f.acks = nil
}

// SaidText reports whether any recorded message equals text.
func (f *fakeTelegram) SaidText(text string) bool {
	for _, st := range f.Texts() {
		if st.Text == text {
			return true
		}
	}
	return false
}

// fakeMatrix is an in-memory MatrixSession with canned rooms and
// injectable failures. Event emission helpers drive the listener
// callbacks the way the sync goroutine would.
type fakeMatrix struct {
	mu sync.Mutex

	loginErr    error
	loggedIn    bool
	loggedOut   bool
	loginBlock  chan struct{}
	loginCalled chan struct{}

	joined   map[id.RoomID]bool
	aliases  map[id.RoomID][]id.RoomAlias
	aliasIDs map[id.RoomAlias]id.RoomID
	members  map[id.RoomID][]string
	public   []string
	history  map[id.RoomID][]*event.Event

	joinErr   error
	leaveErr  error
	createErr error

	displayName string
	sentTexts   []roomText
	sentMedia   []roomMedia
	mediaData   []byte
	downloads   int

	nextID   ListenerID
	roomLs   map[id.RoomID]map[ListenerID]RoomEventFunc
	typingLs map[id.RoomID]map[ListenerID]TypingEventFunc
	inviteFn InviteFunc
	kickFn   KickFunc

	addRoomCalls    int
	removeRoomCalls int
}

type roomText struct {
	RoomID id.RoomID
	Text   string
}

type roomMedia struct {
	RoomID   id.RoomID
	MsgType  event.MessageType
	Filename string
	MimeType string
}

func newFakeMatrix(rooms ...id.RoomID) *fakeMatrix {
	f := &fakeMatrix{
		joined:    make(map[id.RoomID]bool),
		aliases:   make(map[id.RoomID][]id.RoomAlias),
		aliasIDs:  make(map[id.RoomAlias]id.RoomID),
		members:   make(map[id.RoomID][]string),
		history:   make(map[id.RoomID][]*event.Event),
		mediaData: []byte("media-bytes"),
		roomLs:    make(map[id.RoomID]map[ListenerID]RoomEventFunc),
		typingLs:  make(map[id.RoomID]map[ListenerID]TypingEventFunc),
	}
	for _, r := range rooms {
		f.joined[r] = true
	}
	return f
}

func (f *fakeMatrix) addAlias(roomID id.RoomID, alias id.RoomAlias) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliases[roomID] = append(f.aliases[roomID], alias)
	f.aliasIDs[alias] = roomID
}

func (f *fakeMatrix) Login(_ context.Context, _, _ string) error {
	f.mu.Lock()
	called := f.loginCalled
	block := f.loginBlock
	f.mu.Unlock()
	if called != nil {
		close(called)
	}
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return f.loginErr
	}
	f.loggedIn = true
	return nil
}

func (f *fakeMatrix) Logout(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	return nil
}

func (f *fakeMatrix) JoinRoom(_ context.Context, roomIDOrAlias string) (id.RoomID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return "", f.joinErr
	}
	roomID := id.RoomID(roomIDOrAlias)
	if len(roomIDOrAlias) > 0 && roomIDOrAlias[0] == '#' {
		resolved, ok := f.aliasIDs[id.RoomAlias(roomIDOrAlias)]
		if !ok {
			return "", fmt.Errorf("unknown alias %s", roomIDOrAlias)
		}
		roomID = resolved
	}
	f.joined[roomID] = true
	return roomID, nil
}

func (f *fakeMatrix) LeaveRoom(_ context.Context, roomID id.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaveErr != nil {
		return f.leaveErr
	}
	delete(f.joined, roomID)
	return nil
}

func (f *fakeMatrix) CreateRoom(_ context.Context, alias string, _ bool, _ []id.UserID) (id.RoomID, id.RoomAlias, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", "", f.createErr
	}
	roomID := id.RoomID("!" + alias + ":example.org")
	fullAlias := id.RoomAlias("#" + alias + ":example.org")
	f.joined[roomID] = true
	f.aliases[roomID] = []id.RoomAlias{fullAlias}
	f.aliasIDs[fullAlias] = roomID
	return roomID, fullAlias, nil
}

func (f *fakeMatrix) JoinedRooms(_ context.Context) ([]id.RoomID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rooms := make([]id.RoomID, 0, len(f.joined))
	for r := range f.joined {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms, nil
}

func (f *fakeMatrix) RoomAliases(_ context.Context, roomID id.RoomID) ([]id.RoomAlias, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aliases[roomID], nil
}

func (f *fakeMatrix) ResolveAlias(_ context.Context, alias id.RoomAlias) (id.RoomID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	roomID, ok := f.aliasIDs[alias]
	if !ok {
		return "", fmt.Errorf("unknown alias %s", alias)
	}
	return roomID, nil
}

func (f *fakeMatrix) RoomMembers(_ context.Context, roomID id.RoomID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[roomID], nil
}

func (f *fakeMatrix) PublicRooms(_ context.Context, _ int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.public, nil
}

func (f *fakeMatrix) SetDisplayName(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.displayName = name
	return nil
}

func (f *fakeMatrix) SendText(_ context.Context, roomID id.RoomID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentTexts = append(f.sentTexts, roomText{RoomID: roomID, Text: text})
	return nil
}

func (f *fakeMatrix) SendMedia(_ context.Context, roomID id.RoomID, msgType event.MessageType, filename string, _ []byte, mimeType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentMedia = append(f.sentMedia, roomMedia{RoomID: roomID, MsgType: msgType, Filename: filename, MimeType: mimeType})
	return nil
}

func (f *fakeMatrix) DownloadMedia(_ context.Context, _ id.ContentURI) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	return f.mediaData, nil
}

func (f *fakeMatrix) Backfill(_ context.Context, roomID id.RoomID, limit int) ([]*event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := f.history[roomID]
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (f *fakeMatrix) AddRoomListener(roomID id.RoomID, fn RoomEventFunc) ListenerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.addRoomCalls++
	if f.roomLs[roomID] == nil {
		f.roomLs[roomID] = make(map[ListenerID]RoomEventFunc)
	}
	f.roomLs[roomID][f.nextID] = fn
	return f.nextID
}

func (f *fakeMatrix) RemoveRoomListener(roomID id.RoomID, lid ListenerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeRoomCalls++
	delete(f.roomLs[roomID], lid)
}

func (f *fakeMatrix) AddTypingListener(roomID id.RoomID, fn TypingEventFunc) ListenerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if f.typingLs[roomID] == nil {
		f.typingLs[roomID] = make(map[ListenerID]TypingEventFunc)
	}
	f.typingLs[roomID][f.nextID] = fn
	return f.nextID
}

func (f *fakeMatrix) RemoveTypingListener(roomID id.RoomID, lid ListenerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.typingLs[roomID], lid)
}

func (f *fakeMatrix) OnInvite(fn InviteFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inviteFn = fn
}

func (f *fakeMatrix) OnKick(fn KickFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kickFn = fn
}

// emitRoomEvent delivers an event to the room's listeners the way the
// sync goroutine would.
func (f *fakeMatrix) emitRoomEvent(evt *event.Event) {
	f.mu.Lock()
	fns := make([]RoomEventFunc, 0, len(f.roomLs[evt.RoomID]))
	for _, fn := range f.roomLs[evt.RoomID] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(evt.RoomID, evt)
	}
}

func (f *fakeMatrix) emitTyping(roomID id.RoomID, userIDs []id.UserID) {
	f.mu.Lock()
	fns := make([]TypingEventFunc, 0, len(f.typingLs[roomID]))
	for _, fn := range f.typingLs[roomID] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(roomID, userIDs)
	}
}

func (f *fakeMatrix) emitInvite(roomID id.RoomID, name string) {
	f.mu.Lock()
	fn := f.inviteFn
	f.mu.Unlock()
	if fn != nil {
		fn(roomID, name)
	}
}

func (f *fakeMatrix) emitKick(roomID id.RoomID) {
	f.mu.Lock()
	fn := f.kickFn
	f.mu.Unlock()
	if fn != nil {
		fn(roomID)
	}
}

func (f *fakeMatrix) roomListenerCount(roomID id.RoomID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.roomLs[roomID])
}

func (f *fakeMatrix) typingListenerCount(roomID id.RoomID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.typingLs[roomID])
}

func (f *fakeMatrix) RoomTexts() []roomText {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]roomText, len(f.sentTexts))
	copy(cp, f.sentTexts)
	return cp
}

func (f *fakeMatrix) Media() []roomMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]roomMedia, len(f.sentMedia))
	copy(cp, f.sentMedia)
	return cp
}

func (f *fakeMatrix) Downloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads
}

// newTestBridge wires a Bridge to fresh fakes with a short typing
// interval suitable for tests.
func newTestBridge(t *testing.T, mx *fakeMatrix) (*Bridge, *fakeTelegram) {
	t.Helper()
	cfg := &Config{
		Homeserver:            "https://example.org",
		Telegram:              TelegramConfig{Token: "test-token", PollTimeout: 1},
		MediaDir:              t.TempDir(),
		TypingIntervalSeconds: 1,
		BackfillLimit:         10,
	}
	tg := newFakeTelegram()
	b := New(cfg, tg, func() (MatrixSession, error) { return mx, nil }, zerolog.Nop())
	b.typingInterval = 5 * time.Millisecond
	return b, tg
}

func tgText(chatID int64, text string) *Message {
	return &Message{From: User{ID: chatID, Username: "tguser"}, Chat: Chat{ID: chatID}, Text: text}
}

func tgCallback(chatID int64, data string) *CallbackQuery {
	return &CallbackQuery{
		ID:      "cb-1",
		From:    User{ID: chatID},
		Message: &Message{Chat: Chat{ID: chatID}},
		Data:    data,
	}
}

// loginTestUser performs a /login dialog and returns the bound client.
func loginTestUser(t *testing.T, b *Bridge, chatID int64, username string) *Client {
	t.Helper()
	b.HandleMessage(context.Background(), tgText(chatID, "/login "+username+" secret"))
	b.Wait()
	client := b.clientFor(chatID)
	if client == nil {
		t.Fatalf("no client bound for chat %d after login", chatID)
	}
	return client
}

func mxTextEvent(roomID id.RoomID, sender id.UserID, body string) *event.Event {
	return &event.Event{
		Type:   event.EventMessage,
		RoomID: roomID,
		Sender: sender,
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func mxImageEvent(roomID id.RoomID, sender id.UserID, uri, mimeType string) *event.Event {
	return &event.Event{
		Type:   event.EventMessage,
		RoomID: roomID,
		Sender: sender,
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgImage,
			Body:    "image",
			URL:     id.ContentURIString(uri),
			Info:    &event.FileInfo{MimeType: mimeType},
		}},
	}
}

func mxTopicEvent(roomID id.RoomID, sender id.UserID, topic string) *event.Event {
	return &event.Event{
		Type:    event.StateTopic,
		RoomID:  roomID,
		Sender:  sender,
		Content: event.Content{Parsed: &event.TopicEventContent{Topic: topic}},
	}
}
