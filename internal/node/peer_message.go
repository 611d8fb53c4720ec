// Package node - Peer message types exchanged over the kernel's gossip and
// direct-stream transports.
package node

import (
	"context"
	"encoding/json"
)

// CommitTopic is the public GossipSub topic used to broadcast commit and
// creation announcements to the network.
const CommitTopic = "/jigkernel/commit/1.0.0"

// EncryptedTopic is the GossipSub topic used for end-to-end encrypted
// peer-to-peer fallback delivery when a direct stream can't be opened.
const EncryptedTopic = "/jigkernel/commit/encrypted/1.0.0"

// PeerMessage is the envelope exchanged between kernel nodes, whether
// broadcast over PubSub, sent as an encrypted fallback, or pushed through a
// direct stream.
type PeerMessage struct {
	Type string `json:"type"`

	// RefID correlates a request with its response (a replay session, a
	// sync handshake) and scopes retry/ACK bookkeeping in the outbox.
	RefID string `json:"ref_id,omitempty"`

	// Origin identifies the jig (by its origin location, <txid>_o<n>) this
	// message concerns, when applicable.
	Origin string `json:"origin,omitempty"`

	FromPeer    string          `json:"from_peer"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   int64           `json:"timestamp"`
	MessageID   string          `json:"message_id"`
	SequenceNum uint64          `json:"sequence_num"`
	RequiresAck bool            `json:"requires_ack"`

	// Deadline is the unix time after which delivery stops being retried
	// (MessageSender stops StopBeforeExpiry earlier). Zero is not treated
	// specially: it lies in the past, so such a message is marked expired
	// on its first delivery attempt.
	Deadline int64 `json:"deadline,omitempty"`
}

// AckPayload is the payload carried by an ack message.
type AckPayload struct {
	MessageID   string `json:"message_id"`
	SequenceNum uint64 `json:"sequence_num"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// Message type constants.
const (
	MsgCommitAnnounce = "commit_announce" // broadcast: a new commit was confirmed for an origin
	MsgCreationNotify = "creation_notify" // broadcast: a new creation (deploy) was confirmed
	MsgReplayRequest  = "replay_request"  // direct: ask a peer for the replay bundle of a location
	MsgReplayResponse = "replay_response" // direct: reply with a replay bundle
	MsgSyncRequest    = "sync_request"    // direct: ask a peer for the full commit chain since a point
	MsgSyncResponse   = "sync_response"   // direct: reply with the requested commit chain
	MsgAck            = "ack"
)

// PeerMessageHandler processes an inbound peer message.
type PeerMessageHandler func(ctx context.Context, msg *PeerMessage) error

// NewPeerMessage creates a generic peer message with a JSON-encoded payload.
func NewPeerMessage(msgType, refID string, payload interface{}) (*PeerMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &PeerMessage{
		Type:    msgType,
		RefID:   refID,
		Payload: data,
	}, nil
}

// NewCommitAnnounceMessage creates a broadcast announcing a new commit for an origin.
func NewCommitAnnounceMessage(origin string, payload interface{}) (*PeerMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &PeerMessage{
		Type:    MsgCommitAnnounce,
		Origin:  origin,
		Payload: data,
	}, nil
}

// NewReplayRequestMessage creates a direct request for a location's replay bundle.
func NewReplayRequestMessage(refID, origin string, payload interface{}) (*PeerMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &PeerMessage{
		Type:    MsgReplayRequest,
		RefID:   refID,
		Origin:  origin,
		Payload: data,
	}, nil
}
