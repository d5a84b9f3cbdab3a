package hub

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"parley/internal/content"
	"parley/internal/metrics"
	"parley/internal/models"
	"parley/internal/store"

	"github.com/c-pro/geche"
	"github.com/rs/zerolog/log"
)

const (
	subscriberBuffer = 100
	previewRunes     = 80

	// Fixed preview label for attachment-only messages; the client localizes
	// it, the server never leaks the blob URL into the list view.
	attachmentPreview = "\U0001F4CE Attachment"
)

// Directory resolves user profiles for enrichment. Implemented by the auth
// service.
type Directory interface {
	Users() []models.User
	User(id string) (models.User, bool)
}

// Notifier receives events for users with no live subscription. Implemented
// by the push dispatcher; may be absent.
type Notifier interface {
	Notify(userID string, ev models.Event)
}

// Hub is the realtime coordinator: it owns the per-user event channels,
// persists every mutation through the store, and fans the resulting typed
// events out to the affected conversation's participants.
type Hub struct {
	store    *store.Store
	dir      Directory
	notifier Notifier

	// Map of userID -> subscriber channel
	subscribers map[string]chan models.Event

	// Ephemeral typing state, auto-expiring. Never persisted.
	typing geche.Geche[string, string]

	mu sync.RWMutex
}

func NewHub(ctx context.Context, st *store.Store, dir Directory, typingTTL time.Duration) *Hub {
	return &Hub{
		store:       st,
		dir:         dir,
		subscribers: make(map[string]chan models.Event),
		typing:      geche.NewMapTTLCache[string, string](ctx, typingTTL, time.Second),
	}
}

// SetNotifier wires the offline-delivery dispatcher. Optional.
func (h *Hub) SetNotifier(n Notifier) {
	h.notifier = n
}

// Attach registers a subscriber channel for the user and marks them online.
// A second attach for the same user replaces the first (single session per
// user, as with the previous connection being superseded).
func (h *Hub) Attach(userID string) chan models.Event {
	h.mu.Lock()
	if old, ok := h.subscribers[userID]; ok {
		close(old)
	} else {
		metrics.ConnectedClients.Inc()
	}
	ch := make(chan models.Event, subscriberBuffer)
	h.subscribers[userID] = ch
	h.mu.Unlock()

	h.Heartbeat(userID, true)
	return ch
}

// Detach drops the user's subscriber channel and marks them offline. A
// detach with a superseded channel is a no-op so the replacing session's
// presence is not disturbed.
func (h *Hub) Detach(userID string, ch chan models.Event) {
	h.mu.Lock()
	current, ok := h.subscribers[userID]
	active := ok && current == ch
	if active {
		close(current)
		delete(h.subscribers, userID)
		metrics.ConnectedClients.Dec()
	}
	h.mu.Unlock()

	if active {
		h.Heartbeat(userID, false)
	}
}

// DisconnectUser force-closes a user's subscription (admin delete, password
// reset).
func (h *Hub) DisconnectUser(userID string) {
	h.mu.Lock()
	if ch, ok := h.subscribers[userID]; ok {
		close(ch)
		delete(h.subscribers, userID)
		metrics.ConnectedClients.Dec()
	}
	h.mu.Unlock()
}

// Connected reports whether the user currently holds a live subscription.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subscribers[userID]
	return ok
}

// OpenDirect finds or creates the direct conversation between two users.
func (h *Hub) OpenDirect(userID, peerID string) (models.Conversation, error) {
	if _, ok := h.dir.User(peerID); !ok {
		return models.Conversation{}, models.ErrNotFound
	}
	conv, _, err := h.store.FindOrCreateDirect(userID, peerID)
	return conv, err
}

// SendMessage persists a message and fans it out to every participant,
// including the sender (their other views converge on the same event).
// Participants without a live subscription are handed to the notifier.
func (h *Hub) SendMessage(convID, senderID, text string, attachment *models.Attachment) (models.Message, error) {
	msg, err := h.store.AppendMessage(convID, senderID, content.Sanitize(text), attachment)
	if err != nil {
		return models.Message{}, err
	}
	metrics.MessagesAppended.Inc()

	conv, err := h.store.Conversation(convID)
	if err != nil {
		return msg, err
	}

	ev := models.Event{
		Type:           models.EventMessageInserted,
		ConversationID: convID,
		Message:        &msg,
	}
	for _, id := range conv.ParticipantIDs {
		if h.routeToUser(id, ev) {
			continue
		}
		if id != senderID && h.notifier != nil {
			h.notifier.Notify(id, ev)
		}
	}
	return msg, nil
}

// MarkRead flips unread messages for the reader and, when anything changed,
// broadcasts a read receipt to the conversation.
func (h *Hub) MarkRead(convID, readerID string) error {
	flipped, err := h.store.MarkReadExcept(convID, readerID)
	if err != nil {
		return err
	}
	if flipped == 0 {
		return nil
	}
	h.routeToConversation(convID, models.Event{
		Type:           models.EventMessagesRead,
		ConversationID: convID,
		UserID:         readerID,
	})
	return nil
}

// Recall hard-deletes a sender's own message and announces the deletion.
func (h *Hub) Recall(msgID, requesterID string) error {
	msg, err := h.store.RecallMessage(msgID, requesterID)
	if err != nil {
		return err
	}
	h.routeToConversation(msg.ConversationID, models.Event{
		Type:           models.EventMessageDeleted,
		ConversationID: msg.ConversationID,
		MessageID:      msgID,
	})
	return nil
}

// ToggleReaction applies toggle semantics and broadcasts the outcome.
func (h *Hub) ToggleReaction(msgID, userID, emoji string) error {
	out, err := h.store.ToggleReaction(msgID, userID, emoji)
	if err != nil {
		return err
	}
	h.routeToConversation(out.ConversationID, models.Event{
		Type:           models.EventReactionChanged,
		ConversationID: out.ConversationID,
		Reaction:       &out.Reaction,
		Removed:        out.Removed,
	})
	return nil
}

// SetTyping broadcasts an ephemeral typing signal to the other participants.
// The TTL cache clears the flag on its own when the explicit stop never
// arrives.
func (h *Hub) SetTyping(convID, userID string, isTyping bool) error {
	conv, err := h.store.Conversation(convID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return models.ErrPermission
	}

	key := typingKey(convID, userID)
	if isTyping {
		h.typing.Set(key, userID)
	} else {
		_ = h.typing.Del(key)
	}

	ev := models.Event{
		Type:           models.EventTypingChanged,
		ConversationID: convID,
		UserID:         userID,
		Typing:         isTyping,
	}
	for _, id := range conv.ParticipantIDs {
		if id == userID {
			continue
		}
		h.routeToUser(id, ev)
	}
	return nil
}

// ActiveTypers lists users currently typing in the conversation, for the
// initial render when a client opens it. Reconnecting clients see no typing
// history beyond what is still inside the TTL.
func (h *Hub) ActiveTypers(convID string) []string {
	prefix := convID + "\x00"
	var typers []string
	for key, userID := range h.typing.Snapshot() {
		if strings.HasPrefix(key, prefix) {
			typers = append(typers, userID)
		}
	}
	return typers
}

// Heartbeat records a presence beat and broadcasts the transition to every
// connected client when the effective status actually flipped.
func (h *Hub) Heartbeat(userID string, online bool) {
	changed, err := h.store.Heartbeat(userID, online)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("presence heartbeat failed")
		return
	}
	if !changed {
		return
	}
	h.broadcast(models.Event{
		Type:   models.EventPresenceChanged,
		UserID: userID,
		Online: online,
	})
}

// Statuses reports effective online status for a set of users.
func (h *Hub) Statuses(userIDs []string) (map[string]bool, error) {
	return h.store.Statuses(userIDs)
}

// Summaries builds the conversation list for a user: most recent first, with
// peer profile, peer presence, unread count and last-message preview.
func (h *Hub) Summaries(userID string) ([]models.ConversationSummary, error) {
	convs, err := h.store.ListForUser(userID)
	if err != nil {
		return nil, err
	}

	var peerIDs []string
	for _, conv := range convs {
		if conv.Kind == models.ConversationDirect {
			peerIDs = append(peerIDs, otherParticipant(conv, userID))
		}
	}
	statuses, err := h.store.Statuses(peerIDs)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summary := models.ConversationSummary{Conversation: conv}

		unread, err := h.store.UnreadCount(conv.ID, userID)
		if err != nil {
			return nil, err
		}
		summary.UnreadCount = unread

		if conv.Kind == models.ConversationDirect {
			peerID := otherParticipant(conv, userID)
			if peer, ok := h.dir.User(peerID); ok {
				summary.Peer = &peer
			}
			summary.PeerOnline = statuses[peerID]
		}

		if last, ok, err := h.store.LastMessage(conv.ID); err != nil {
			return nil, err
		} else if ok {
			summary.LastPreview = preview(last)
		}

		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// RouteToUser delivers an event to one user's subscription, if present.
// Used by the call signaler for ring and SDP relay.
func (h *Hub) RouteToUser(userID string, ev models.Event) bool {
	return h.routeToUser(userID, ev)
}

// NotifyOffline hands an event to the push dispatcher.
func (h *Hub) NotifyOffline(userID string, ev models.Event) {
	if h.notifier != nil {
		h.notifier.Notify(userID, ev)
	}
}

func (h *Hub) routeToConversation(convID string, ev models.Event) {
	conv, err := h.store.Conversation(convID)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", convID).Msg("fan-out lookup failed")
		return
	}
	for _, id := range conv.ParticipantIDs {
		h.routeToUser(id, ev)
	}
}

func (h *Hub) routeToUser(userID string, ev models.Event) bool {
	// Channels are closed under the write lock, so the send must stay under
	// the read lock or it can race a reconnect and hit a closed channel.
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.subscribers[userID]
	if !ok {
		return false
	}

	select {
	case ch <- ev:
	default:
		// Slow consumer; drop rather than stall the writer.
		metrics.EventsDropped.Inc()
	}
	return true
}

func (h *Hub) broadcast(ev models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			metrics.EventsDropped.Inc()
		}
	}
}

func typingKey(convID, userID string) string {
	return convID + "\x00" + userID
}

func otherParticipant(conv models.Conversation, userID string) string {
	for _, id := range conv.ParticipantIDs {
		if id != userID {
			return id
		}
	}
	return ""
}

func preview(msg models.Message) string {
	if msg.Content == "" && msg.Attachment != nil {
		return attachmentPreview
	}
	if utf8.RuneCountInString(msg.Content) <= previewRunes {
		return msg.Content
	}
	runes := []rune(msg.Content)
	return string(runes[:previewRunes]) + "…"
}
