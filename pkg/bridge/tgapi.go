// Copyright 2016-2026 Gal Pressman
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const defaultTelegramAPIBase = "https://api.telegram.org"

// BotAPI is the HTTP implementation of TelegramAPI over the Telegram
// Bot API.
type BotAPI struct {
	token       string
	base        string
	httpClient  *http.Client
	pollTimeout int
	log         zerolog.Logger
}

var _ TelegramAPI = (*BotAPI)(nil)

// NewBotAPI creates a Bot API client. pollTimeout is the getUpdates
// long-poll timeout in seconds.
func NewBotAPI(token string, pollTimeout int, log zerolog.Logger) *BotAPI {
	return &BotAPI{
		token: token,
		base:  defaultTelegramAPIBase,
		httpClient: &http.Client{
			// Must exceed the long-poll timeout.
			Timeout: time.Duration(pollTimeout+10) * time.Second,
		},
		pollTimeout: pollTimeout,
		log:         log.With().Str("component", "tg_api").Logger(),
	}
}

// apiResponse is the envelope of every Bot API response.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

func (t *BotAPI) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.base, t.token, method)
}

// call POSTs a JSON payload to a Bot API method and decodes the result
// into out (which may be nil).
func (t *BotAPI) call(ctx context.Context, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("%s rejected: %s", method, envelope.Description)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

func (t *BotAPI) SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}
	return t.call(ctx, "sendMessage", payload, nil)
}

func (t *BotAPI) SendChatAction(ctx context.Context, chatID int64, action ChatAction) error {
	return t.call(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  string(action),
	}, nil)
}

func (t *BotAPI) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	return t.call(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
	}, nil)
}

func (t *BotAPI) SendPhoto(ctx context.Context, chatID int64, path string) error {
	return t.sendFile(ctx, "sendPhoto", "photo", chatID, path)
}

func (t *BotAPI) SendVoice(ctx context.Context, chatID int64, path string) error {
	return t.sendFile(ctx, "sendAudio", "audio", chatID, path)
}

func (t *BotAPI) SendVideo(ctx context.Context, chatID int64, path string) error {
	return t.sendFile(ctx, "sendVideo", "video", chatID, path)
}

// sendFile uploads a local file as a multipart form to the given media
// send method.
func (t *BotAPI) sendFile(ctx context.Context, method, field string, chatID int64, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open media file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read media file: %w", err)
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL(method), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("%s rejected: %s", method, envelope.Description)
	}
	return nil
}

func (t *BotAPI) GetFileURL(ctx context.Context, fileID string) (string, error) {
	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := t.call(ctx, "getFile", map[string]any{"file_id": fileID}, &file); err != nil {
		return "", err
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("getFile returned no file_path for %s", fileID)
	}
	return fmt.Sprintf("%s/file/bot%s/%s", t.base, t.token, file.FilePath), nil
}

// Poll runs the getUpdates long-poll loop, delivering each update to
// the bridge until ctx is cancelled.
func (t *BotAPI) Poll(ctx context.Context, b *Bridge) error {
	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var updates []Update
		err := t.call(ctx, "getUpdates", map[string]any{
			"offset":  offset,
			"timeout": t.pollTimeout,
		}, &updates)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.log.Warn().Err(err).Msg("getUpdates failed, retrying")
			time.Sleep(3 * time.Second)
			continue
		}

		for i := range updates {
			upd := &updates[i]
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			switch {
			case upd.Message != nil:
				b.HandleMessage(ctx, upd.Message)
			case upd.CallbackQuery != nil:
				b.HandleCallback(ctx, upd.CallbackQuery)
			}
		}
	}
}
