// Copyright 2016-2026 Gal Pressman
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import "context"

// User identifies a Telegram account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// Chat identifies a Telegram conversation. For this bridge a user maps
// 1:1 to one private chat, so the chat ID doubles as the session key.
type Chat struct {
	ID int64 `json:"id"`
}

// PhotoSize is one resolution of an inbound photo. Telegram delivers
// photos as a list of sizes, smallest first.
type PhotoSize struct {
	FileID string `json:"file_id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// FileRef describes an inbound voice, video or document attachment.
type FileRef struct {
	FileID   string `json:"file_id"`
	MimeType string `json:"mime_type,omitempty"`
}

// Message is the inbound message envelope delivered by the Telegram
// transport.
type Message struct {
	MessageID int64       `json:"message_id"`
	From      User        `json:"from"`
	Chat      Chat        `json:"chat"`
	Text      string      `json:"text,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty"`
	Voice     *FileRef    `json:"voice,omitempty"`
	Video     *FileRef    `json:"video,omitempty"`
	Document  *FileRef    `json:"document,omitempty"`
}

// CallbackQuery is the envelope for inline-keyboard button presses. The
// acting chat is nested under Message, not in top-level fields.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message"`
	Data    string   `json:"data"`
}

// Update is one entry from the Telegram getUpdates long poll.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// InlineKeyboardButton is one button of an inline keyboard.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// InlineKeyboardMarkup is the interactive markup attached to a message.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// ChatAction is a transient chat status indicator.
type ChatAction string

const (
	ChatActionTyping      ChatAction = "typing"
	ChatActionUploadPhoto ChatAction = "upload_photo"
	ChatActionUploadAudio ChatAction = "upload_audio"
	ChatActionUploadVideo ChatAction = "upload_video"
)

// ContentKind classifies an inbound message payload for routing.
type ContentKind int

const (
	ContentUnknown ContentKind = iota
	ContentText
	ContentPhoto
	ContentVoice
	ContentVideo
	ContentDocument
)

// ContentKind returns the payload classification of the message.
func (m *Message) ContentKind() ContentKind {
	switch {
	case m.Text != "":
		return ContentText
	case len(m.Photo) > 0:
		return ContentPhoto
	case m.Voice != nil:
		return ContentVoice
	case m.Video != nil:
		return ContentVideo
	case m.Document != nil:
		return ContentDocument
	default:
		return ContentUnknown
	}
}

// TelegramAPI is the front-network transport boundary. The production
// implementation is BotAPI; tests inject a recording fake.
type TelegramAPI interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) error
	SendChatAction(ctx context.Context, chatID int64, action ChatAction) error
	SendPhoto(ctx context.Context, chatID int64, path string) error
	SendVoice(ctx context.Context, chatID int64, path string) error
	SendVideo(ctx context.Context, chatID int64, path string) error
	// GetFileURL resolves a file ID to a fully qualified download URL.
	GetFileURL(ctx context.Context, fileID string) (string, error)
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}
