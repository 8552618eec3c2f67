// Copyright 2016-2026 Gal Pressman
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package bridge relays messages between Telegram users and Matrix
// rooms. Each Telegram user who logs in gets a bound session: a Matrix
// client whose single "focus" room is relayed bidirectionally with the
// user's Telegram chat, including media, topic changes, typing
// indicators, invites and kicks.
//
// # Core Types
//
// [Bridge] owns the per-user session registry, the command, callback
// and content-type route tables, and the relay glue from Matrix events
// back to Telegram sends.
//
// [Client] is the room-side half of a session: it drives the focus-room
// state machine (attaching the room and typing listeners to exactly the
// focused room) and classifies inbound Matrix events for relay.
//
// [TelegramAPI] and [MatrixSession] are the two transport boundaries;
// [BotAPI] and [MautrixSession] are their production implementations.
//
// # Loopback Prevention
//
// Matrix events whose sender matches the session's own username prefix
// are discarded before relay. Without this guard, every forwarded
// Telegram message would echo straight back from the room's timeline.
package bridge
