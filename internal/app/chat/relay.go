package chat

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"naberya/internal/pkg/logx"
)

// Relay routes signaling payloads between two named connections and bootstraps voice
// rooms. It never interprets signal payloads and never sends them to a whole room.
type Relay struct {
	registry *Registry
	index    *Index
	logger   zerolog.Logger
}

// NewRelay constructs a Relay over the shared registry and index.
func NewRelay(registry *Registry, index *Index) *Relay {
	return &Relay{
		registry: registry,
		index:    index,
		logger:   logx.Component("relay"),
	}
}

// PeerOf describes conn as a voice peer.
func PeerOf(conn *Connection) VoicePeer {
	id, _ := conn.Identity()
	return VoicePeer{
		ConnectionID: conn.ID,
		UserID:       id.UserID,
		Username:     id.Username,
		Avatar:       id.Avatar,
	}
}

// RelayOffer delivers an offer from one connection to another as user-joined-signal.
// It reports whether the offer was delivered.
func (r *Relay) RelayOffer(from, to string, signal json.RawMessage) bool {
	return r.relay(from, to, EventUserJoinedSignal, OfferPayload{Signal: signal, CallerID: from})
}

// RelayAnswer delivers an answer back to the caller as receiving-returned-signal.
func (r *Relay) RelayAnswer(from, to string, signal json.RawMessage) bool {
	return r.relay(from, to, EventReturnedSignal, AnswerPayload{Signal: signal, AnswererID: from})
}

// relay drops self-relay, unknown targets and targets sharing no voice room with the
// sender. A vanished peer is not an error: its user-left-voice notice follows.
func (r *Relay) relay(from, to string, event EventType, payload any) bool {
	logger := r.logger.With().Str("event", string(event)).Str("from", from).Str("to", to).Logger()

	if from == to {
		logger.Debug().Msg("Dropping self-addressed signal.")
		return false
	}

	target, ok := r.registry.Lookup(to)
	if !ok {
		logger.Debug().Msg("Signal target is gone, dropping.")
		return false
	}

	if !r.index.SharedRoom(from, to, RoomVoice) {
		logger.Debug().Msg("Signal target shares no voice room with sender, dropping.")
		return false
	}

	frame, err := Encode(event, payload)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode signal.")
		return false
	}

	return target.Send(frame)
}

// BootstrapVoiceJoin joins joiner to the voice room of channelID and returns the peers
// that were present before it. The joiner initiates negotiation towards each of them;
// they only receive a passive user-joined-voice notice. A repeated join returns the
// current peers without notifying anyone again.
func (r *Relay) BootstrapVoiceJoin(channelID string, joiner *Connection) []VoicePeer {
	announce, err := Encode(EventUserJoinedVoice, VoicePeerPayload{ChannelID: channelID, Peer: PeerOf(joiner)})
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to encode user-joined-voice.")
		announce = nil
	}

	existing, added := r.index.JoinWithSnapshot(VoiceRoom(channelID), joiner, announce)

	peers := make([]VoicePeer, 0, len(existing))
	for _, conn := range existing {
		peers = append(peers, PeerOf(conn))
	}

	if added {
		r.logger.Debug().
			Str("channel_id", channelID).
			Str("connection_id", joiner.ID).
			Int("peers", len(peers)).
			Msg("Connection joined voice room.")
	}

	return peers
}

// LeaveVoice removes conn from the voice room of channelID and notifies the remaining
// members. It reports whether conn was in the room.
func (r *Relay) LeaveVoice(channelID string, conn *Connection) bool {
	roomID := VoiceRoom(channelID)
	if !r.index.Leave(roomID, conn.ID) {
		return false
	}

	r.NotifyVoiceDeparture(roomID, conn)
	return true
}

// NotifyVoiceDeparture tells every remaining member of a voice room that conn left.
func (r *Relay) NotifyVoiceDeparture(roomID RoomID, conn *Connection) {
	id, _ := conn.Identity()
	notice := VoiceLeftPayload{
		ChannelID:    roomID.Entity(),
		ConnectionID: conn.ID,
		UserID:       id.UserID,
	}

	if _, err := r.index.Broadcast(roomID, EventUserLeftVoice, notice, ""); err != nil {
		r.logger.Error().Err(err).Msg("Failed to broadcast user-left-voice.")
	}
}

// DissolveVoice empties the voice room of a deleted channel. Each former member hears
// that every other former member left.
func (r *Relay) DissolveVoice(channelID string) {
	members := r.index.Dissolve(VoiceRoom(channelID))

	for _, leaving := range members {
		id, _ := leaving.Identity()
		frame, err := Encode(EventUserLeftVoice, VoiceLeftPayload{
			ChannelID:    channelID,
			ConnectionID: leaving.ID,
			UserID:       id.UserID,
		})
		if err != nil {
			r.logger.Error().Err(err).Msg("Failed to encode user-left-voice.")
			continue
		}

		for _, peer := range members {
			if peer.ID != leaving.ID {
				peer.Send(frame)
			}
		}
	}
}
