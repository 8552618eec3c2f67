// Copyright 2016-2026 Gal Pressman
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

func newTestSession(t *testing.T) *MautrixSession {
	t.Helper()
	s, err := NewMautrixSession("https://example.org", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewMautrixSession: %v", err)
	}
	return s
}

func stateKey(k string) *string { return &k }

func TestMautrixSession_RoomListenerFanOut(t *testing.T) {
	t.Parallel()
	s := newTestSession(t)

	var got []string
	lid := s.AddRoomListener(roomA, func(_ id.RoomID, evt *event.Event) {
		got = append(got, evt.Content.AsMessage().Body)
	})
	s.AddRoomListener(roomB, func(_ id.RoomID, evt *event.Event) {
		t.Errorf("listener for %s received event for %s", roomB, evt.RoomID)
	})

	s.onRoomEvent(context.Background(), mxTextEvent(roomA, "@bob:example.org", "one"))
	if len(got) != 1 || got[0] != "one" {
		t.Fatalf("delivered events: got %v, want [one]", got)
	}

	s.RemoveRoomListener(roomA, lid)
	s.onRoomEvent(context.Background(), mxTextEvent(roomA, "@bob:example.org", "two"))
	if len(got) != 1 {
		t.Errorf("event delivered after removal: got %v", got)
	}
}

func TestMautrixSession_TypingFanOut(t *testing.T) {
	t.Parallel()
	s := newTestSession(t)

	var got [][]id.UserID
	s.AddTypingListener(roomA, func(_ id.RoomID, userIDs []id.UserID) {
		got = append(got, userIDs)
	})

	evt := &event.Event{
		Type:    event.EphemeralEventTyping,
		RoomID:  roomA,
		Content: event.Content{Parsed: &event.TypingEventContent{UserIDs: []id.UserID{"@bob:example.org"}}},
	}
	s.onTyping(context.Background(), evt)

	if len(got) != 1 || len(got[0]) != 1 || got[0][0] != "@bob:example.org" {
		t.Errorf("typing deliveries: got %v", got)
	}
}

func TestMautrixSession_MemberEventClassification(t *testing.T) {
	t.Parallel()
	s := newTestSession(t)
	s.cli.UserID = "@alice:example.org"

	var invites, kicks []id.RoomID
	s.OnInvite(func(roomID id.RoomID, _ string) { invites = append(invites, roomID) })
	s.OnKick(func(roomID id.RoomID) { kicks = append(kicks, roomID) })

	memberEvt := func(roomID id.RoomID, sender id.UserID, key string, membership event.Membership) *event.Event {
		return &event.Event{
			Type:     event.StateMember,
			RoomID:   roomID,
			Sender:   sender,
			StateKey: stateKey(key),
			Content:  event.Content{Parsed: &event.MemberEventContent{Membership: membership}},
		}
	}

	// Invite addressed to this user fires the invite hook.
	s.onMember(context.Background(), memberEvt(roomA, "@bob:example.org", "@alice:example.org", event.MembershipInvite))
	// A leave authored by someone else is a kick.
	s.onMember(context.Background(), memberEvt(roomB, "@bob:example.org", "@alice:example.org", event.MembershipLeave))
	// Our own leave is not.
	s.onMember(context.Background(), memberEvt(roomC, "@alice:example.org", "@alice:example.org", event.MembershipLeave))
	// Membership about other users is ignored entirely.
	s.onMember(context.Background(), memberEvt(roomC, "@bob:example.org", "@carol:example.org", event.MembershipInvite))

	if len(invites) != 1 || invites[0] != roomA {
		t.Errorf("invites: got %v, want [%s]", invites, roomA)
	}
	if len(kicks) != 1 || kicks[0] != roomB {
		t.Errorf("kicks: got %v, want [%s]", kicks, roomB)
	}
}

func TestMautrixSession_InviteCarriesCachedRoomName(t *testing.T) {
	t.Parallel()
	s := newTestSession(t)
	s.cli.UserID = "@alice:example.org"

	var gotName string
	s.OnInvite(func(_ id.RoomID, name string) { gotName = name })

	s.onRoomName(context.Background(), &event.Event{
		Type:    event.StateRoomName,
		RoomID:  roomA,
		Content: event.Content{Parsed: &event.RoomNameEventContent{Name: "The Kitchen"}},
	})
	s.onMember(context.Background(), &event.Event{
		Type:     event.StateMember,
		RoomID:   roomA,
		Sender:   "@bob:example.org",
		StateKey: stateKey("@alice:example.org"),
		Content:  event.Content{Parsed: &event.MemberEventContent{Membership: event.MembershipInvite}},
	})

	if gotName != "The Kitchen" {
		t.Errorf("invite name: got %q, want %q", gotName, "The Kitchen")
	}
}
