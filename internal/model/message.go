package model

import "time"

type DeliveryStatus string

const (
	// StatusSent means the relay accepted the message but could neither
	// deliver it live nor queue it durably.
	StatusSent DeliveryStatus = "sent"
	// StatusQueued means the message sits in the recipient's offline queue.
	StatusQueued DeliveryStatus = "queued"
	// StatusDelivered means the message was pushed to a live connection.
	StatusDelivered DeliveryStatus = "delivered"
)

type (
	// Message is the transport unit relayed between clients. The content is
	// an opaque serialized envelope; the relay never sees plaintext.
	//
	// SenderPublicKey and ReceiverPublicKey snapshot the keys in effect at
	// send time. History stays decryptable through later key changes only
	// because these travel and persist with the ciphertext.
	Message struct {
		ID                string         `json:"id,omitempty" bson:"id,omitempty"`
		SenderID          string         `json:"senderId" bson:"sender_id" validate:"required"`
		ReceiverID        string         `json:"receiverId" bson:"receiver_id" validate:"required"`
		EncryptedContent  string         `json:"encryptedContent" bson:"encrypted_content" validate:"required"`
		SenderPublicKey   string         `json:"senderPublicKey,omitempty" bson:"sender_public_key,omitempty"`
		ReceiverPublicKey string         `json:"receiverPublicKey,omitempty" bson:"receiver_public_key,omitempty"`
		CreatedAt         time.Time      `json:"createdAt,omitempty" bson:"created_at,omitempty"`
		Status            DeliveryStatus `json:"status,omitempty" bson:"status,omitempty"`
	}

	// Presence announces an identity coming online (or going offline, in
	// relay broadcasts). UserID and Email are aliases for the same party;
	// either may be empty but not both. Online carries no omitempty so an
	// offline broadcast is explicit on the wire, not an absent field.
	Presence struct {
		UserID    string `json:"userId,omitempty"`
		Email     string `json:"email,omitempty"`
		PublicKey string `json:"publicKey,omitempty"`
		Online    bool   `json:"online"`
	}

	Ack struct {
		MessageID string         `json:"messageId"`
		Status    DeliveryStatus `json:"status,omitempty"`
		Error     string         `json:"error,omitempty"`
	}
)

// Identities returns the non-empty alias forms of the announced identity.
func (p *Presence) Identities() []string {
	var ids []string
	if p.UserID != "" {
		ids = append(ids, p.UserID)
	}
	if p.Email != "" && p.Email != p.UserID {
		ids = append(ids, p.Email)
	}
	return ids
}
