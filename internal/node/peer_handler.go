// Package node - GossipSub broadcast and encrypted-fallback delivery for peer messages.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/klingon-exchange/jigkernel/pkg/logging"
)

// PeerHandler manages the commit-gossip and encrypted-fallback PubSub topics.
type PeerHandler struct {
	node *Node
	log  *logging.Logger

	topic *pubsub.Topic
	sub   *pubsub.Subscription

	encryptedTopic *pubsub.Topic
	encryptedSub   *pubsub.Subscription
	encryptor      *MessageEncryptor

	handlers map[string]PeerMessageHandler
	mu       sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPeerHandler creates a new peer handler for the given node.
func NewPeerHandler(n *Node) (*PeerHandler, error) {
	ctx, cancel := context.WithCancel(context.Background())

	return &PeerHandler{
		node:     n,
		log:      logging.GetDefault().Component("peer-handler"),
		handlers: make(map[string]PeerMessageHandler),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start joins the commit gossip topics and begins processing messages.
func (h *PeerHandler) Start() error {
	topic, err := h.node.pubsub.Join(CommitTopic)
	if err != nil {
		return fmt.Errorf("failed to join commit topic: %w", err)
	}
	h.topic = topic

	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to commit topic: %w", err)
	}
	h.sub = sub

	encTopic, err := h.node.pubsub.Join(EncryptedTopic)
	if err != nil {
		return fmt.Errorf("failed to join encrypted topic: %w", err)
	}
	h.encryptedTopic = encTopic

	encSub, err := encTopic.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to encrypted topic: %w", err)
	}
	h.encryptedSub = encSub

	encryptor, err := NewMessageEncryptor(h.node.Host().Peerstore().PrivKey(h.node.ID()), h.node.ID())
	if err != nil {
		h.log.Warn("Failed to create message encryptor, encrypted fallback disabled", "error", err)
	} else {
		h.encryptor = encryptor
	}

	go h.processMessages()
	go h.processEncryptedMessages()

	h.log.Info("Peer handler started", "topic", CommitTopic)
	return nil
}

// GetEncryptedTopic returns the encrypted fallback topic.
func (h *PeerHandler) GetEncryptedTopic() *pubsub.Topic {
	return h.encryptedTopic
}

// Stop shuts down the peer handler.
func (h *PeerHandler) Stop() error {
	h.cancel()

	if h.sub != nil {
		h.sub.Cancel()
	}
	if h.topic != nil {
		h.topic.Close()
	}
	if h.encryptedSub != nil {
		h.encryptedSub.Cancel()
	}
	if h.encryptedTopic != nil {
		h.encryptedTopic.Close()
	}

	h.log.Info("Peer handler stopped")
	return nil
}

// OnMessage registers a handler for a specific message type.
func (h *PeerHandler) OnMessage(msgType string, handler PeerMessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[msgType] = handler
}

// SendMessage publishes a message to the public commit topic.
func (h *PeerHandler) SendMessage(ctx context.Context, msg *PeerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return h.topic.Publish(ctx, data)
}

// processMessages reads from the public commit topic and dispatches to handlers.
func (h *PeerHandler) processMessages() {
	selfID := h.node.ID()

	for {
		raw, err := h.sub.Next(h.ctx)
		if err != nil {
			if h.ctx.Err() != nil {
				return
			}
			h.log.Warn("Failed to read from commit topic", "error", err)
			continue
		}

		if raw.ReceivedFrom == selfID {
			continue
		}

		var msg PeerMessage
		if err := json.Unmarshal(raw.Data, &msg); err != nil {
			h.log.Warn("Failed to unmarshal commit message", "error", err)
			continue
		}

		h.mu.RLock()
		handler, ok := h.handlers[msg.Type]
		h.mu.RUnlock()

		if !ok {
			continue
		}

		go func(m PeerMessage) {
			if err := handler(h.ctx, &m); err != nil {
				h.log.Debug("Commit message handler failed", "type", m.Type, "error", err)
			}
		}(msg)
	}
}

// processEncryptedMessages reads from the encrypted fallback topic, decrypts
// messages intended for us, and dispatches them to handlers.
func (h *PeerHandler) processEncryptedMessages() {
	selfID := h.node.ID()

	for {
		raw, err := h.encryptedSub.Next(h.ctx)
		if err != nil {
			if h.ctx.Err() != nil {
				return
			}
			h.log.Warn("Failed to read from encrypted topic", "error", err)
			continue
		}

		if raw.ReceivedFrom == selfID || h.encryptor == nil {
			continue
		}

		var envelope EncryptedEnvelope
		if err := json.Unmarshal(raw.Data, &envelope); err != nil {
			h.log.Warn("Failed to unmarshal encrypted envelope", "error", err)
			continue
		}

		if !h.encryptor.IsForUs(&envelope) {
			continue
		}

		msg, err := h.encryptor.Decrypt(&envelope)
		if err != nil {
			h.log.Warn("Failed to decrypt message", "error", err)
			continue
		}

		h.mu.RLock()
		handler, ok := h.handlers[msg.Type]
		h.mu.RUnlock()

		if !ok {
			continue
		}

		success := true
		errMsg := ""
		if procErr := handler(h.ctx, msg); procErr != nil {
			success = false
			errMsg = procErr.Error()
		}

		if msg.RequiresAck {
			if senderPeerID, decodeErr := peer.Decode(envelope.SenderPeerID); decodeErr == nil {
				h.sendEncryptedAck(senderPeerID, msg.MessageID, msg.SequenceNum, success, errMsg)
			}
		}
	}
}

// sendEncryptedAck sends an encrypted ack back to the sender over the fallback topic.
func (h *PeerHandler) sendEncryptedAck(recipient peer.ID, messageID string, seq uint64, success bool, errMsg string) {
	ackPayload := AckPayload{
		MessageID:   messageID,
		SequenceNum: seq,
		Success:     success,
		Error:       errMsg,
	}
	data, err := json.Marshal(ackPayload)
	if err != nil {
		h.log.Warn("Failed to marshal ack payload", "error", err)
		return
	}

	ack := &PeerMessage{
		Type:     MsgAck,
		FromPeer: h.node.ID().String(),
		Payload:  data,
	}

	envelope, err := h.encryptor.Encrypt(recipient, ack)
	if err != nil {
		h.log.Warn("Failed to encrypt ack", "error", err)
		return
	}

	envelopeBytes, err := json.Marshal(envelope)
	if err != nil {
		h.log.Warn("Failed to marshal ack envelope", "error", err)
		return
	}

	if err := h.encryptedTopic.Publish(h.ctx, envelopeBytes); err != nil {
		h.log.Warn("Failed to publish ack", "error", err)
	}
}

// shortPeerID returns a truncated peer ID for logging.
func shortPeerID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
