package models

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrPermission = errors.New("permission denied")
	ErrConflict   = errors.New("conflict")
)

type UserStatus string

const (
	UserStatusCreated UserStatus = "created"
	UserStatusActive  UserStatus = "active"
	UserStatusDeleted UserStatus = "deleted"
)

// User represents a user in the system.
type User struct {
	ID          string     `json:"id"`
	UserName    string     `json:"userName"`
	DisplayName string     `json:"displayName"`
	AvatarURL   string     `json:"avatarUrl"`
	Presence    Presence   `json:"presence"`
	Status      UserStatus `json:"status"`
}

// Presence represents the reported online status of a user. A record with
// Online=true is still treated as offline once LastSeen falls outside the
// configured staleness window.
type Presence struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"lastSeen"` // Unix timestamp (seconds)
}

type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

// Conversation is a durable 1:1 or group conversation.
type Conversation struct {
	ID             string           `json:"id"`
	Kind           ConversationKind `json:"kind"`
	Name           string           `json:"name,omitempty"` // group only
	ParticipantIDs []string         `json:"participantIds"`
	CreatedBy      string           `json:"createdBy"`
	CreatedAt      int64            `json:"createdAt"`
	LastActivityAt int64            `json:"lastActivityAt"`
}

// HasParticipant reports whether userID is a member of the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ConversationSummary is a Conversation enriched for list views: the peer of
// a direct conversation, their computed online status, the caller's unread
// count and a preview of the most recent message.
type ConversationSummary struct {
	Conversation
	Peer        *User  `json:"peer,omitempty"`
	PeerOnline  bool   `json:"peerOnline"`
	UnreadCount int    `json:"unreadCount"`
	LastPreview string `json:"lastPreview,omitempty"`
}

type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	FileID   string `json:"fileId"`
	Size     int64  `json:"size,omitempty"`
}

// Message is an entry in a conversation's append-only log. Immutable after
// insert except for the IsRead flag; the sender may recall it, which removes
// the row permanently.
type Message struct {
	ID             string      `json:"id"`
	Seq            int64       `json:"seq"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Content        string      `json:"content,omitempty"`
	Rendered       string      `json:"rendered,omitempty"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	IsRead         bool        `json:"isRead"`
	CreatedAt      int64       `json:"createdAt"` // Unix timestamp (seconds)
}

// Reaction is a per-message, per-user emoji. At most one live row per
// (message, user) pair.
type Reaction struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
}

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

type CallStatus string

const (
	CallPending  CallStatus = "pending"
	CallAccepted CallStatus = "accepted"
	CallDeclined CallStatus = "declined"
	CallMissed   CallStatus = "missed"
	CallEnded    CallStatus = "ended"
)

// Terminal reports whether no further transition is allowed from the status.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallDeclined, CallMissed, CallEnded:
		return true
	}
	return false
}

// CallSession records an attempted or completed audio/video call. Media
// transport is external; this row only tracks signaling state.
type CallSession struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	CallerID       string     `json:"callerId"`
	CalleeID       string     `json:"calleeId"`
	Type           CallType   `json:"type"`
	Status         CallStatus `json:"status"`
	StartedAt      int64      `json:"startedAt"`
	AnsweredAt     int64      `json:"answeredAt,omitempty"`
	EndedAt        int64      `json:"endedAt,omitempty"`
}

// PushSubscription is a registered web-push endpoint for one browser or
// device.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type ResetPasswordResponse struct {
	APIResponse
	SetupLink string `json:"setupLink,omitempty"`
}
