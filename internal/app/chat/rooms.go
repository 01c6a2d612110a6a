package chat

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"naberya/internal/pkg/logx"
)

// RoomKind is the purpose of a room.
type RoomKind string

const (
	RoomServer  RoomKind = "server"
	RoomChannel RoomKind = "channel"
	RoomVoice   RoomKind = "voice"
)

// RoomID names a room as "<kind>:<entity id>".
type RoomID string

// ServerRoom is the room of everyone who selected the server.
func ServerRoom(serverID string) RoomID { return RoomID(string(RoomServer) + ":" + serverID) }

// ChannelRoom is the room of a text channel.
func ChannelRoom(channelID string) RoomID { return RoomID(string(RoomChannel) + ":" + channelID) }

// VoiceRoom is the room of a voice channel.
func VoiceRoom(channelID string) RoomID { return RoomID(string(RoomVoice) + ":" + channelID) }

// Kind returns the room's purpose.
func (r RoomID) Kind() RoomKind {
	kind, _, _ := strings.Cut(string(r), ":")
	return RoomKind(kind)
}

// Entity returns the server or channel id the room is named after.
func (r RoomID) Entity() string {
	_, id, _ := strings.Cut(string(r), ":")
	return id
}

type member struct {
	conn *Connection
	seq  uint64
}

// room serializes join, leave and broadcast on itself.
type room struct {
	mu      sync.Mutex
	members map[string]member
	nextSeq uint64
}

// snapshot returns members in join order; must be called with mu held.
func (r *room) snapshot(exclude string) []*Connection {
	members := make([]member, 0, len(r.members))
	for id, m := range r.members {
		if id != exclude {
			members = append(members, m)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })

	conns := make([]*Connection, len(members))
	for i, m := range members {
		conns[i] = m.conn
	}
	return conns
}

// Index is the room membership index. It is the only owner of membership: a
// connection is in a room's member set iff the room is in the connection's room set.
//
// Lock order is Index.mu, then room.mu. Join, Leave and Dissolve hold the index lock
// exclusively; Broadcast and reads share it and serialize on the room lock.
type Index struct {
	mu     sync.RWMutex
	rooms  map[RoomID]*room
	joined map[string]map[RoomID]struct{}
	logger zerolog.Logger
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{
		rooms:  make(map[RoomID]*room),
		joined: make(map[string]map[RoomID]struct{}),
		logger: logx.Component("rooms"),
	}
}

// Join adds conn to the room, creating it on first join. Joining twice is a no-op;
// the result reports whether conn was added.
func (x *Index) Join(roomID RoomID, conn *Connection) bool {
	_, added := x.JoinWithSnapshot(roomID, conn, nil)
	return added
}

// JoinWithSnapshot atomically reads the members present before conn and adds conn.
// When conn is newly added and announce is non-nil, announce is queued for the
// members present before it, under the same room lock.
func (x *Index) JoinWithSnapshot(roomID RoomID, conn *Connection, announce []byte) ([]*Connection, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	r, ok := x.rooms[roomID]
	if !ok {
		r = &room{members: make(map[string]member)}
		x.rooms[roomID] = r
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	before := r.snapshot(conn.ID)
	if _, exists := r.members[conn.ID]; exists {
		return before, false
	}

	r.nextSeq++
	r.members[conn.ID] = member{conn: conn, seq: r.nextSeq}

	if x.joined[conn.ID] == nil {
		x.joined[conn.ID] = make(map[RoomID]struct{})
	}
	x.joined[conn.ID][roomID] = struct{}{}

	if announce != nil {
		for _, peer := range before {
			peer.Send(announce)
		}
	}
	return before, true
}

// Leave removes connID from the room. Leaving a room one is not in is a no-op.
// Empty rooms are deleted.
func (x *Index) Leave(roomID RoomID, connID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	return x.leaveLocked(roomID, connID)
}

// LeaveAll removes connID from every room and returns the rooms it left.
func (x *Index) LeaveAll(connID string) []RoomID {
	x.mu.Lock()
	defer x.mu.Unlock()

	left := make([]RoomID, 0, len(x.joined[connID]))
	for roomID := range x.joined[connID] {
		if x.leaveLocked(roomID, connID) {
			left = append(left, roomID)
		}
	}
	sort.Slice(left, func(i, j int) bool { return left[i] < left[j] })
	return left
}

// leaveLocked must be called with x.mu held exclusively.
func (x *Index) leaveLocked(roomID RoomID, connID string) bool {
	r, ok := x.rooms[roomID]
	if !ok {
		return false
	}

	r.mu.Lock()
	_, present := r.members[connID]
	delete(r.members, connID)
	empty := len(r.members) == 0
	r.mu.Unlock()

	if empty {
		delete(x.rooms, roomID)
	}

	if rooms := x.joined[connID]; rooms != nil {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(x.joined, connID)
		}
	}
	return present
}

// Dissolve removes the room and returns its former members in join order.
func (x *Index) Dissolve(roomID RoomID) []*Connection {
	x.mu.Lock()
	defer x.mu.Unlock()

	r, ok := x.rooms[roomID]
	if !ok {
		return nil
	}
	delete(x.rooms, roomID)

	r.mu.Lock()
	members := r.snapshot("")
	r.members = make(map[string]member)
	r.mu.Unlock()

	for _, conn := range members {
		if rooms := x.joined[conn.ID]; rooms != nil {
			delete(rooms, roomID)
			if len(rooms) == 0 {
				delete(x.joined, conn.ID)
			}
		}
	}
	return members
}

// Members returns a consistent snapshot of the room in join order.
func (x *Index) Members(roomID RoomID) []*Connection {
	x.mu.RLock()
	defer x.mu.RUnlock()

	r, ok := x.rooms[roomID]
	if !ok {
		return []*Connection{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot("")
}

// Contains reports whether connID is in the room.
func (x *Index) Contains(roomID RoomID, connID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()

	_, ok := x.joined[connID][roomID]
	return ok
}

// RoomsOf returns the rooms connID occupies, sorted.
func (x *Index) RoomsOf(connID string) []RoomID {
	x.mu.RLock()
	defer x.mu.RUnlock()

	rooms := make([]RoomID, 0, len(x.joined[connID]))
	for roomID := range x.joined[connID] {
		rooms = append(rooms, roomID)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms
}

// SharedRoom reports whether a and b are both members of some room of the given kind.
func (x *Index) SharedRoom(a, b string, kind RoomKind) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()

	for roomID := range x.joined[a] {
		if roomID.Kind() != kind {
			continue
		}
		if _, ok := x.joined[b][roomID]; ok {
			return true
		}
	}
	return false
}

// Len returns the number of non-empty rooms.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.rooms)
}

// Broadcast encodes the event once and queues it for every member except exclude.
// Deliveries on one room happen in submission order. It returns the number of
// members the frame was queued for.
func (x *Index) Broadcast(roomID RoomID, event EventType, payload any, exclude string) (int, error) {
	frame, err := Encode(event, payload)
	if err != nil {
		return 0, err
	}
	return x.BroadcastFrame(roomID, frame, exclude), nil
}

// BroadcastFrame queues an encoded frame for every member except exclude.
func (x *Index) BroadcastFrame(roomID RoomID, frame []byte, exclude string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	r, ok := x.rooms[roomID]
	if !ok {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for id, m := range r.members {
		if id == exclude {
			continue
		}
		if m.conn.Send(frame) {
			delivered++
		} else {
			x.logger.Warn().
				Str("room_id", string(roomID)).
				Str("connection_id", id).
				Msg("Member send queue rejected broadcast.")
		}
	}
	return delivered
}
