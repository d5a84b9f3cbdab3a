package call

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"parley/internal/hub"
	"parley/internal/metrics"
	"parley/internal/models"
	"parley/internal/store"

	"github.com/rs/zerolog/log"
)

// SummaryPrefix marks a chat message carrying a call outcome. Clients render
// these specially instead of as plain text.
const SummaryPrefix = "call/"

// Signaler drives call sessions through their state machine and relays
// opaque session-setup payloads between the two parties. Media never touches
// this process.
type Signaler struct {
	store       *store.Store
	hub         *hub.Hub
	ringTimeout time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewSignaler(st *store.Store, h *hub.Hub, ringTimeout time.Duration) *Signaler {
	return &Signaler{
		store:       st,
		hub:         h,
		ringTimeout: ringTimeout,
		timers:      make(map[string]*time.Timer),
	}
}

// Start opens a pending call and rings the callee. A callee without a live
// subscription is notified over push; the ring itself is not retried and the
// timeout converts an unanswered call to missed.
func (s *Signaler) Start(convID, callerID, calleeID string, callType models.CallType) (models.CallSession, error) {
	session, err := s.store.CreateCall(convID, callerID, calleeID, callType)
	if err != nil {
		return models.CallSession{}, err
	}

	ring := models.Event{
		Type:           models.EventCallRinging,
		ConversationID: convID,
		Call:           &session,
	}
	if !s.hub.RouteToUser(calleeID, ring) {
		s.hub.NotifyOffline(calleeID, ring)
	}

	s.mu.Lock()
	s.timers[session.ID] = time.AfterFunc(s.ringTimeout, func() {
		if err := s.timeout(session.ID); err != nil {
			log.Error().Err(err).Str("call_id", session.ID).Msg("ring timeout handling failed")
		}
	})
	s.mu.Unlock()

	return session, nil
}

// Answer moves the call to accepted. Only the callee can answer.
func (s *Signaler) Answer(callID, userID string) (models.CallSession, error) {
	return s.transition(callID, models.CallAccepted, userID)
}

// Decline terminates a pending call. Only the callee can decline.
func (s *Signaler) Decline(callID, userID string) (models.CallSession, error) {
	return s.transition(callID, models.CallDeclined, userID)
}

// Hangup ends an accepted call; either party may hang up, and a duplicate
// hangup from the other side is a no-op.
func (s *Signaler) Hangup(callID, userID string) (models.CallSession, error) {
	return s.transition(callID, models.CallEnded, userID)
}

// Relay forwards an opaque signaling payload (SDP offer/answer, ICE
// candidate) to the other party of the call.
func (s *Signaler) Relay(callID, fromUserID string, signal json.RawMessage) error {
	session, err := s.store.Call(callID)
	if err != nil {
		return err
	}

	var to string
	switch fromUserID {
	case session.CallerID:
		to = session.CalleeID
	case session.CalleeID:
		to = session.CallerID
	default:
		return fmt.Errorf("user %s is not a party of call %s: %w", fromUserID, callID, models.ErrPermission)
	}

	s.hub.RouteToUser(to, models.Event{
		Type:           models.EventCallSignal,
		ConversationID: session.ConversationID,
		Call:           &session,
		UserID:         fromUserID,
		Signal:         signal,
	})
	return nil
}

// History returns the conversation's call sessions, oldest first.
func (s *Signaler) History(convID string) ([]models.CallSession, error) {
	return s.store.ListCalls(convID)
}

func (s *Signaler) timeout(callID string) error {
	session, changed, err := s.store.TransitionCall(callID, models.CallMissed, "")
	if err != nil {
		return err
	}
	if changed {
		s.finish(session)
	}
	return nil
}

func (s *Signaler) transition(callID string, to models.CallStatus, actorID string) (models.CallSession, error) {
	session, changed, err := s.store.TransitionCall(callID, to, actorID)
	if err != nil {
		return models.CallSession{}, err
	}
	if !changed {
		return session, nil
	}

	if to == models.CallAccepted {
		s.stopTimer(callID)
		s.announce(session)
		return session, nil
	}
	s.finish(session)
	return session, nil
}

// finish handles a terminal transition: cancel the ring timer, announce the
// state, and drop a structured summary message into the conversation so the
// call shows up in chat history.
func (s *Signaler) finish(session models.CallSession) {
	s.stopTimer(session.ID)
	s.announce(session)
	metrics.CallsFinished.WithLabelValues(string(session.Status)).Inc()

	if _, err := s.hub.SendMessage(session.ConversationID, session.CallerID, SummaryContent(session), nil); err != nil {
		log.Error().Err(err).Str("call_id", session.ID).Msg("failed to append call summary")
	}
}

func (s *Signaler) announce(session models.CallSession) {
	ev := models.Event{
		Type:           models.EventCallChanged,
		ConversationID: session.ConversationID,
		Call:           &session,
	}
	s.hub.RouteToUser(session.CallerID, ev)
	s.hub.RouteToUser(session.CalleeID, ev)
}

func (s *Signaler) stopTimer(callID string) {
	s.mu.Lock()
	if t, ok := s.timers[callID]; ok {
		t.Stop()
		delete(s.timers, callID)
	}
	s.mu.Unlock()
}

// SummaryContent encodes a call outcome as sentinel message content:
// "call/<type>/<status>" plus the duration in seconds for ended calls.
func SummaryContent(session models.CallSession) string {
	if session.Status == models.CallEnded && session.AnsweredAt > 0 {
		duration := session.EndedAt - session.AnsweredAt
		if duration < 0 {
			duration = 0
		}
		return fmt.Sprintf("%s%s/%s/%d", SummaryPrefix, session.Type, session.Status, duration)
	}
	return fmt.Sprintf("%s%s/%s", SummaryPrefix, session.Type, session.Status)
}

// ParseSummary decodes sentinel call-summary content. The duration is -1
// when absent.
func ParseSummary(content string) (callType models.CallType, status models.CallStatus, duration int64, ok bool) {
	if !strings.HasPrefix(content, SummaryPrefix) {
		return "", "", -1, false
	}
	parts := strings.Split(strings.TrimPrefix(content, SummaryPrefix), "/")
	if len(parts) < 2 {
		return "", "", -1, false
	}
	duration = -1
	if len(parts) > 2 {
		d, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return "", "", -1, false
		}
		duration = d
	}
	return models.CallType(parts[0]), models.CallStatus(parts[1]), duration, true
}
