package chat

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
)

func TestRoomIDParts(t *testing.T) {
	roomID := VoiceRoom("c-1")
	if roomID.Kind() != RoomVoice || roomID.Entity() != "c-1" {
		t.Fatalf("unexpected parts for %q: kind=%q entity=%q", roomID, roomID.Kind(), roomID.Entity())
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	registry, index := NewRegistry(), NewIndex()
	conn, _ := testConn(t, registry, "ayse")

	if !index.Join(ChannelRoom("c"), conn) {
		t.Fatal("first join should add the connection")
	}
	if index.Join(ChannelRoom("c"), conn) {
		t.Fatal("second join should be a no-op")
	}
	if got := len(index.Members(ChannelRoom("c"))); got != 1 {
		t.Fatalf("expected 1 member, got %d", got)
	}
}

func TestLeaveRemovesEmptyRoom(t *testing.T) {
	registry, index := NewRegistry(), NewIndex()
	conn, _ := testConn(t, registry, "ayse")

	index.Join(ServerRoom("s"), conn)
	if !index.Leave(ServerRoom("s"), conn.ID) {
		t.Fatal("leave should report the connection was present")
	}
	if index.Leave(ServerRoom("s"), conn.ID) {
		t.Fatal("leaving twice should be a no-op")
	}
	if index.Len() != 0 {
		t.Fatalf("empty room should be deleted, %d rooms left", index.Len())
	}
	if len(index.RoomsOf(conn.ID)) != 0 {
		t.Fatal("connection should occupy no rooms")
	}
}

func TestLeaveAll(t *testing.T) {
	registry, index := NewRegistry(), NewIndex()
	a, _ := testConn(t, registry, "ayse")
	b, _ := testConn(t, registry, "mehmet")

	index.Join(ServerRoom("s"), a)
	index.Join(ChannelRoom("c"), a)
	index.Join(VoiceRoom("v"), a)
	index.Join(VoiceRoom("v"), b)

	left := index.LeaveAll(a.ID)
	want := []RoomID{ChannelRoom("c"), ServerRoom("s"), VoiceRoom("v")}
	if !slices.Equal(left, want) {
		t.Fatalf("expected %v, got %v", want, left)
	}

	if index.Contains(VoiceRoom("v"), a.ID) {
		t.Fatal("a should have left the voice room")
	}
	if members := index.Members(VoiceRoom("v")); len(members) != 1 || members[0].ID != b.ID {
		t.Fatalf("voice room should only hold b, got %d members", len(members))
	}
	if len(index.LeaveAll(a.ID)) != 0 {
		t.Fatal("second LeaveAll should leave nothing")
	}
}

func TestDissolve(t *testing.T) {
	registry, index := NewRegistry(), NewIndex()
	a, _ := testConn(t, registry, "ayse")
	b, _ := testConn(t, registry, "mehmet")

	index.Join(ChannelRoom("c"), a)
	index.Join(ChannelRoom("c"), b)
	index.Join(ServerRoom("s"), b)

	members := index.Dissolve(ChannelRoom("c"))
	if len(members) != 2 || members[0].ID != a.ID || members[1].ID != b.ID {
		t.Fatal("Dissolve should return former members in join order")
	}
	if index.Contains(ChannelRoom("c"), a.ID) || index.Contains(ChannelRoom("c"), b.ID) {
		t.Fatal("dissolved room should have no members")
	}
	if rooms := index.RoomsOf(b.ID); !slices.Equal(rooms, []RoomID{ServerRoom("s")}) {
		t.Fatalf("b should keep its server room, got %v", rooms)
	}
	if index.Dissolve(ChannelRoom("c")) != nil {
		t.Fatal("dissolving a missing room should return nil")
	}
}

func TestSharedRoom(t *testing.T) {
	registry, index := NewRegistry(), NewIndex()
	a, _ := testConn(t, registry, "ayse")
	b, _ := testConn(t, registry, "mehmet")

	index.Join(ChannelRoom("x"), a)
	index.Join(ChannelRoom("x"), b)
	if index.SharedRoom(a.ID, b.ID, RoomVoice) {
		t.Fatal("a text room must not count as a shared voice room")
	}

	index.Join(VoiceRoom("x"), a)
	index.Join(VoiceRoom("x"), b)
	if !index.SharedRoom(a.ID, b.ID, RoomVoice) {
		t.Fatal("a and b share a voice room")
	}
}

func TestBroadcastExclude(t *testing.T) {
	registry, index := NewRegistry(), NewIndex()
	a, sinkA := testConn(t, registry, "ayse")
	b, sinkB := testConn(t, registry, "mehmet")

	index.Join(ChannelRoom("c"), a)
	index.Join(ChannelRoom("c"), b)

	n, err := index.Broadcast(ChannelRoom("c"), EventNewMessage, map[string]string{"content": "selam"}, a.ID)
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected delivery to 1 member, got %d", n)
	}
	if len(sinkA.envelopes(t)) != 0 {
		t.Fatal("excluded member received the broadcast")
	}
	if len(sinkB.ofType(t, EventNewMessage)) != 1 {
		t.Fatal("b should receive the broadcast")
	}

	if n, _ := index.Broadcast(ChannelRoom("missing"), EventNewMessage, nil, ""); n != 0 {
		t.Fatalf("broadcast to a missing room should reach nobody, got %d", n)
	}
}

func TestBroadcastOrderIsConsistentAcrossMembers(t *testing.T) {
	registry, index := NewRegistry(), NewIndex()
	a, sinkA := testConn(t, registry, "ayse")
	b, sinkB := testConn(t, registry, "mehmet")

	index.Join(ChannelRoom("c"), a)
	index.Join(ChannelRoom("c"), b)

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				index.BroadcastFrame(ChannelRoom("c"), []byte(fmt.Sprintf(`{"type":"new-message","payload":"%d-%d"}`, w, i)), "")
			}
		}()
	}
	wg.Wait()

	framesA, framesB := sinkA.envelopes(t), sinkB.envelopes(t)
	if len(framesA) != 200 || len(framesB) != 200 {
		t.Fatalf("expected 200 frames each, got %d and %d", len(framesA), len(framesB))
	}
	for i := range framesA {
		if string(framesA[i].Payload) != string(framesB[i].Payload) {
			t.Fatalf("members observed different order at %d: %s vs %s", i, framesA[i].Payload, framesB[i].Payload)
		}
	}
}

func TestJoinWithSnapshotAnnounce(t *testing.T) {
	registry, index := NewRegistry(), NewIndex()
	a, sinkA := testConn(t, registry, "ayse")
	b, sinkB := testConn(t, registry, "mehmet")

	before, added := index.JoinWithSnapshot(VoiceRoom("v"), a, []byte(`{"type":"user-joined-voice"}`))
	if !added || len(before) != 0 {
		t.Fatalf("first joiner should see an empty room, got %d", len(before))
	}

	before, added = index.JoinWithSnapshot(VoiceRoom("v"), b, []byte(`{"type":"user-joined-voice"}`))
	if !added || len(before) != 1 || before[0].ID != a.ID {
		t.Fatal("second joiner should see exactly the first")
	}
	if len(sinkA.ofType(t, EventUserJoinedVoice)) != 1 {
		t.Fatal("existing member should receive the announce")
	}
	if len(sinkB.envelopes(t)) != 0 {
		t.Fatal("joiner must not receive its own announce")
	}

	_, added = index.JoinWithSnapshot(VoiceRoom("v"), b, []byte(`{"type":"user-joined-voice"}`))
	if added || len(sinkA.ofType(t, EventUserJoinedVoice)) != 1 {
		t.Fatal("repeated join must not announce again")
	}
}

// Membership must stay bidirectional under concurrent joins and leaves.
func TestMembershipStaysBidirectional(t *testing.T) {
	registry, index := NewRegistry(), NewIndex()

	conns := make([]*Connection, 8)
	for i := range conns {
		conns[i], _ = testConn(t, registry, fmt.Sprintf("user%d", i))
	}
	rooms := []RoomID{ServerRoom("s"), ChannelRoom("c1"), ChannelRoom("c2"), VoiceRoom("v")}

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				roomID := rooms[rand.IntN(len(rooms))]
				switch rand.IntN(4) {
				case 0, 1:
					index.Join(roomID, conn)
				case 2:
					index.Leave(roomID, conn.ID)
				default:
					index.LeaveAll(conn.ID)
				}
			}
		}()
	}
	wg.Wait()

	for _, conn := range conns {
		for _, roomID := range index.RoomsOf(conn.ID) {
			found := false
			for _, m := range index.Members(roomID) {
				if m.ID == conn.ID {
					found = true
				}
			}
			if !found {
				t.Fatalf("%s lists %s but is not a member", conn.ID, roomID)
			}
		}
	}
	for _, roomID := range rooms {
		for _, m := range index.Members(roomID) {
			if !slices.Contains(index.RoomsOf(m.ID), roomID) {
				t.Fatalf("%s is a member of %s but does not list it", m.ID, roomID)
			}
		}
	}
}
