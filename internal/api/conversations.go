package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"parley/internal/content"
	"parley/internal/models"

	"github.com/rs/zerolog/log"
)

const defaultMessagePage = 50

func (a *API) ConversationsHandler(w http.ResponseWriter, r *http.Request) {
	summaries, err := a.hub.Summaries(requestUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, summaries)
}

func (a *API) CreateDirectHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PeerID string `json:"peerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	conv, err := a.hub.OpenDirect(requestUserID(r), req.PeerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, conv)
}

func (a *API) CreateGroupHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string   `json:"name"`
		MemberIDs []string `json:"memberIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userID := requestUserID(r)
	for _, id := range req.MemberIDs {
		if _, ok := a.auth.User(id); !ok {
			writeError(w, fmt.Errorf("%w: unknown member %q", models.ErrValidation, id))
			return
		}
	}

	conv, err := a.store.CreateGroup(req.Name, userID, req.MemberIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, conv)
}

// OpenConversationResponse is everything a client needs to render a
// conversation view in one round trip.
type OpenConversationResponse struct {
	Conversation models.Conversation          `json:"conversation"`
	Messages     []models.Message             `json:"messages"`
	Reactions    map[string][]models.Reaction `json:"reactions,omitempty"`
	Typers       []string                     `json:"typers,omitempty"`
	Participants []models.User                `json:"participants"`
}

// OpenConversationHandler returns the conversation page and marks the
// returned messages read unless ?peek=1 is set.
func (a *API) OpenConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	convID := r.PathValue("id")

	conv, err := a.store.Conversation(convID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !conv.HasParticipant(userID) {
		writeError(w, fmt.Errorf("%w: not a participant", models.ErrPermission))
		return
	}

	limit := defaultMessagePage
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, fmt.Errorf("%w: invalid limit", models.ErrValidation))
			return
		}
	}

	messages, err := a.store.ListMessages(convID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	for i := range messages {
		if messages[i].Content == "" {
			continue
		}
		rendered, err := content.RenderMarkdown(messages[i].Content)
		if err != nil {
			log.Warn().Err(err).Str("messageID", messages[i].ID).Msg("failed to render message")
			continue
		}
		messages[i].Rendered = rendered
	}

	msgIDs := make([]string, 0, len(messages))
	for _, m := range messages {
		msgIDs = append(msgIDs, m.ID)
	}
	reactions, err := a.store.ReactionsForMessages(msgIDs)
	if err != nil {
		writeError(w, err)
		return
	}

	participants := make([]models.User, 0, len(conv.ParticipantIDs))
	for _, id := range conv.ParticipantIDs {
		if u, ok := a.auth.User(id); ok {
			participants = append(participants, u)
		}
	}

	if r.URL.Query().Get("peek") != "1" {
		if err := a.hub.MarkRead(convID, userID); err != nil {
			log.Warn().Err(err).Str("conversationID", convID).Msg("failed to mark conversation read")
		} else {
			for i := range messages {
				if messages[i].SenderID != userID {
					messages[i].IsRead = true
				}
			}
		}
	}

	writeJSON(w, OpenConversationResponse{
		Conversation: conv,
		Messages:     messages,
		Reactions:    reactions,
		Typers:       a.hub.ActiveTypers(convID),
		Participants: participants,
	})
}

func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content    string             `json:"content"`
		Attachment *models.Attachment `json:"attachment,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := a.hub.SendMessage(r.PathValue("id"), requestUserID(r), req.Content, req.Attachment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, msg)
}

func (a *API) RecallMessageHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.hub.Recall(r.PathValue("id"), requestUserID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, models.APIResponse{Success: true})
}

func (a *API) ReactHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := a.hub.ToggleReaction(r.PathValue("id"), requestUserID(r), req.Emoji); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, models.APIResponse{Success: true})
}

func (a *API) CallHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)
	convID := r.PathValue("id")

	conv, err := a.store.Conversation(convID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !conv.HasParticipant(userID) {
		writeError(w, fmt.Errorf("%w: not a participant", models.ErrPermission))
		return
	}

	history, err := a.calls.History(convID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, history)
}
