package models

import "encoding/json"

// EventType tags the variant of an Event pushed to subscribers.
type EventType string

const (
	EventMessageInserted EventType = "messageInserted"
	EventMessageDeleted  EventType = "messageDeleted"
	EventMessagesRead    EventType = "messagesRead"
	EventReactionChanged EventType = "reactionChanged"
	EventTypingChanged   EventType = "typingChanged"
	EventPresenceChanged EventType = "presenceChanged"
	EventCallRinging     EventType = "callRinging"
	EventCallChanged     EventType = "callChanged"
	EventCallSignal      EventType = "callSignal"
	EventError           EventType = "error"
)

// Event is a server-to-client domain event. Exactly the fields relevant to
// its Type are populated; everything else stays zero and is omitted on the
// wire.
type Event struct {
	Type           EventType       `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	Message        *Message        `json:"message,omitempty"`
	MessageID      string          `json:"messageId,omitempty"`
	Reaction       *Reaction       `json:"reaction,omitempty"`
	Removed        bool            `json:"removed,omitempty"` // reaction toggled off
	UserID         string          `json:"userId,omitempty"`
	Online         bool            `json:"online,omitempty"`
	Typing         bool            `json:"typing,omitempty"`
	Call           *CallSession    `json:"call,omitempty"`
	Signal         json.RawMessage `json:"signal,omitempty"` // opaque SDP/ICE relay
	Error          string          `json:"error,omitempty"`
}

// ClientEventType tags a client-to-server request frame.
type ClientEventType string

const (
	ClientSend        ClientEventType = "send"
	ClientMarkRead    ClientEventType = "markRead"
	ClientTyping      ClientEventType = "typing"
	ClientReact       ClientEventType = "react"
	ClientRecall      ClientEventType = "recall"
	ClientHeartbeat   ClientEventType = "heartbeat"
	ClientCallStart   ClientEventType = "callStart"
	ClientCallAnswer  ClientEventType = "callAnswer"
	ClientCallDecline ClientEventType = "callDecline"
	ClientCallHangup  ClientEventType = "callHangup"
	ClientCallSignal  ClientEventType = "callSignal"
)

// ClientEvent is a request frame read from a websocket client. It is
// validated at the connection boundary before any store is touched.
type ClientEvent struct {
	Type           ClientEventType `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	Content        string          `json:"content,omitempty"`
	Attachment     *Attachment     `json:"attachment,omitempty"`
	MessageID      string          `json:"messageId,omitempty"`
	Emoji          string          `json:"emoji,omitempty"`
	Typing         bool            `json:"typing,omitempty"`
	CallID         string          `json:"callId,omitempty"`
	CallType       CallType        `json:"callType,omitempty"`
	CalleeID       string          `json:"calleeId,omitempty"`
	Signal         json.RawMessage `json:"signal,omitempty"`
}
