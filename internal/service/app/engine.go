package app

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"secure_chat/internal/cryptographic/envelope"
	"secure_chat/internal/cryptographic/keys"
	"secure_chat/internal/model"
	"secure_chat/internal/timeline"
	"secure_chat/internal/utils/log"
)

// SendMessage encrypts to the peer's current key and transmits. The peer
// key is refreshed from the directory rather than trusted from cache, since
// keys can change between sends. With no resolvable key the send is refused
// with ErrKeyUnavailable.
func (c *App) SendMessage(plaintext string) error {
	peerKey, err := c.resolvePeerKey(true)
	if err != nil {
		return err
	}

	shared, err := c.sharedWith(peerKey)
	if err != nil {
		return fmt.Errorf("derive shared secret: %w", err)
	}
	env, err := envelope.Seal(plaintext, shared)
	if err != nil {
		return err
	}

	msg := &model.Message{
		SenderID:          c.myIdentity(),
		ReceiverID:        c.currentPeer(),
		EncryptedContent:  env.Encode(),
		SenderPublicKey:   c.keys.PublicKey,
		ReceiverPublicKey: peerKey,
	}

	c.timeline.Merge([]timeline.Entry{{
		Mine:      true,
		From:      "Me",
		Text:      plaintext,
		Decrypted: true,
		At:        time.Now(),
		Status:    timeline.StatusPending,
	}})
	c.redraw()

	if err := c.writeFrame(&model.Frame{Type: model.FrameMessage, Message: msg}); err != nil {
		c.timeline.FailPending()
		c.redraw()
		return fmt.Errorf("transport: %w", err)
	}
	return nil
}

// resolvePeerKey returns the peer's public key, base64. With refresh set it
// asks the directory first and only falls back to the cache when the
// directory is unreachable.
func (c *App) resolvePeerKey(refresh bool) (string, error) {
	peer := c.currentPeer()

	c.cacheMu.Lock()
	cached := c.keyCache[peer]
	c.cacheMu.Unlock()

	if !refresh && cached != "" {
		return cached, nil
	}

	key, err := c.fetchPublicKey(peer)
	if err != nil {
		log.Debug("key lookup failed, using cache", zap.String("peer", peer), zap.Error(err))
		key = cached
	}
	if key == "" {
		return "", ErrKeyUnavailable
	}

	c.cacheMu.Lock()
	c.keyCache[peer] = key
	c.cacheMu.Unlock()
	return key, nil
}

func (c *App) listen() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug("relay connection closed", zap.Error(err))
			c.conn.Close()
			return
		}

		frame, err := model.ParseFrame(data)
		if err != nil {
			log.Error("unmarshal frame failed", zap.Error(err))
			continue
		}

		switch frame.Type {
		case model.FrameMessage:
			c.handleIncoming(frame.Message)
		case model.FrameAck:
			c.handleAck(frame.Ack)
		case model.FrameDelivered:
			if frame.Ack != nil {
				c.timeline.MarkDelivered(frame.Ack.MessageID)
				c.redraw()
			}
		case model.FramePresence:
			c.handlePresence(frame.Presence)
		}
	}
}

func (c *App) handleAck(ack *model.Ack) {
	if ack == nil {
		return
	}
	if ack.Error != "" {
		log.Error("relay rejected message", zap.String("reason", ack.Error))
		c.timeline.FailPending()
		c.redraw()
		return
	}
	c.timeline.ResolvePending(ack.MessageID, deliveryToTimeline(ack.Status))
	c.redraw()
}

func (c *App) handleIncoming(msg *model.Message) {
	if msg == nil {
		return
	}
	mine := slices.Contains(c.myIdentities(), msg.SenderID)
	other := msg.SenderID
	if mine {
		other = msg.ReceiverID
	}
	if other != c.currentPeer() {
		// a different conversation; ignored until the user opens it
		return
	}
	if mine {
		// echo of my own outbound, already on the timeline optimistically
		return
	}

	c.timeline.Merge([]timeline.Entry{c.toEntry(msg)})
	c.redraw()
}

func (c *App) handlePresence(p *model.Presence) {
	if p == nil || p.PublicKey == "" {
		return
	}
	c.cacheMu.Lock()
	for _, id := range p.Identities() {
		c.keyCache[id] = p.PublicKey
	}
	c.cacheMu.Unlock()
}

// toEntry decrypts a transport message into a timeline entry, trying
// candidate peer keys in priority order: the snapshot frozen on the message
// itself, the locally cached key, the currently announced key. An
// undecryptable message still appears, as a placeholder marked failed.
func (c *App) toEntry(msg *model.Message) timeline.Entry {
	mine := slices.Contains(c.myIdentities(), msg.SenderID)

	peer := c.currentPeer()
	snapshot := msg.SenderPublicKey
	if mine {
		snapshot = msg.ReceiverPublicKey
	}
	c.cacheMu.Lock()
	cached := c.keyCache[peer]
	c.cacheMu.Unlock()
	candidates := []string{snapshot, cached}
	if key, err := c.resolvePeerKey(false); err == nil {
		candidates = append(candidates, key)
	}

	from := peer
	if mine {
		from = "Me"
	}
	entry := timeline.Entry{
		ID:   msg.ID,
		From: from,
		Mine: mine,
		At:   msg.CreatedAt,
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}

	if text, ok := c.tryDecryptAny(msg.EncryptedContent, candidates); ok {
		entry.Text = text
		entry.Decrypted = true
		entry.Status = deliveryToTimeline(msg.Status)
	} else {
		entry.Text = timeline.Placeholder
		entry.Status = timeline.StatusFailed
	}
	return entry
}

// tryDecryptAny attempts each candidate key in order and stops at the first
// success. Decryption failure per candidate is expected, not exceptional.
func (c *App) tryDecryptAny(encryptedContent string, candidates []string) (string, bool) {
	env, err := envelope.Parse(encryptedContent)
	if err != nil {
		return "", false
	}
	var tried []string
	for _, candidate := range candidates {
		if candidate == "" || slices.Contains(tried, candidate) {
			continue
		}
		tried = append(tried, candidate)

		shared, err := c.sharedWith(candidate)
		if err != nil {
			continue
		}
		if text, err := envelope.Open(env, shared); err == nil {
			return text, true
		}
	}
	return "", false
}

// sharedWith derives the pairwise symmetric key for a peer's base64 public
// key using the already-decoded local secret.
func (c *App) sharedWith(peerPubB64 string) (*[keys.KeySize]byte, error) {
	peerPub, err := keys.Decode(peerPubB64)
	if err != nil {
		return nil, err
	}
	return envelope.DeriveSharedSecret(peerPub, c.secretKey), nil
}

func (c *App) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshHistory()
		}
	}
}

// refreshHistory merges one polled page into the timeline. A response that
// arrives after the user switched conversations is discarded.
func (c *App) refreshHistory() {
	c.activeMu.Lock()
	threadKey := c.activeThread
	peer := c.peerID
	me := c.myIdentity()
	c.activeMu.Unlock()

	page, err := c.fetchThread(me, peer)
	if err != nil {
		// keep whatever is on screen; polling tries again shortly
		log.Debug("history poll failed", zap.Error(err))
		return
	}

	c.activeMu.Lock()
	stale := c.activeThread != threadKey
	c.activeMu.Unlock()
	if stale {
		return
	}

	entries := make([]timeline.Entry, 0, len(page))
	for _, msg := range page {
		entries = append(entries, c.toEntry(msg))
	}
	c.timeline.Merge(entries)
	c.redraw()
}

func deliveryToTimeline(s model.DeliveryStatus) timeline.Status {
	switch s {
	case model.StatusDelivered:
		return timeline.StatusDelivered
	case model.StatusQueued:
		return timeline.StatusQueued
	default:
		return timeline.StatusSent
	}
}
