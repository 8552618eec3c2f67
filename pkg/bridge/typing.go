// Copyright 2016-2026 Gal Pressman
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"time"
)

// startTypingRelay starts the per-user typing worker if it is not
// already running. The active flag and worker handle are written
// atomically under the registry lock; starting a running worker is a
// no-op.
func (b *Bridge) startTypingRelay(c *Client) {
	chatID, ok := b.chatIDFor(c)
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	sess := b.users[chatID]
	if sess == nil || sess.typingDone != nil {
		return
	}
	done := make(chan struct{})
	sess.typingActive = true
	sess.typingDone = done
	go b.relayTyping(chatID, done)
}

// stopTypingRelay clears the active flag and joins the worker before
// releasing its handle. Stopping a non-running worker is a no-op. The
// join happens outside the lock and may take up to one sleep interval.
func (b *Bridge) stopTypingRelay(c *Client) {
	chatID, ok := b.chatIDFor(c)
	if !ok {
		return
	}

	b.mu.Lock()
	sess := b.users[chatID]
	if sess == nil || sess.typingDone == nil {
		b.mu.Unlock()
		return
	}
	done := sess.typingDone
	sess.typingActive = false
	b.mu.Unlock()

	<-done

	b.mu.Lock()
	sess.typingDone = nil
	b.mu.Unlock()
}

// relayTyping repeats the typing chat action until the active flag is
// cleared. The flag check holds the registry lock; the signal and sleep
// run outside it.
func (b *Bridge) relayTyping(chatID int64, done chan struct{}) {
	defer close(done)
	for {
		b.mu.Lock()
		sess := b.users[chatID]
		active := sess != nil && sess.typingActive
		b.mu.Unlock()
		if !active {
			return
		}
		b.sendAction(context.Background(), chatID, ChatActionTyping)
		time.Sleep(b.typingInterval)
	}
}
