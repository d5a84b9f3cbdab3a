package store

import (
	"fmt"
	"sort"

	"parley/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// CreateCall opens a pending call session between two participants of the
// conversation.
func (s *Store) CreateCall(convID, callerID, calleeID string, callType models.CallType) (models.CallSession, error) {
	if callType != models.CallAudio && callType != models.CallVideo {
		return models.CallSession{}, fmt.Errorf("%w: unknown call type %q", models.ErrValidation, callType)
	}
	if callerID == calleeID {
		return models.CallSession{}, fmt.Errorf("%w: caller and callee must differ", models.ErrValidation)
	}

	var session models.CallSession
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dbConv, err := getConversation(tx, convID)
		if err != nil {
			return err
		}
		if !contains(dbConv.ParticipantIDs, callerID) || !contains(dbConv.ParticipantIDs, calleeID) {
			return fmt.Errorf("call parties must be conversation participants: %w", models.ErrPermission)
		}

		dbCall := DBCallSession{
			ID:             uuid.NewString(),
			ConversationID: convID,
			CallerID:       callerID,
			CalleeID:       calleeID,
			Type:           string(callType),
			Status:         string(models.CallPending),
			StartedAt:      s.now().Unix(),
		}
		data, err := dbCall.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketCalls).Put(dbCall.Key(), data); err != nil {
			return err
		}
		session = toCallSession(&dbCall)
		return nil
	})
	return session, err
}

// Call loads a call session by id.
func (s *Store) Call(id string) (models.CallSession, error) {
	var session models.CallSession
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbCall, err := getCall(tx, id)
		if err != nil {
			return err
		}
		session = toCallSession(dbCall)
		return nil
	})
	return session, err
}

// TransitionCall moves a call session through its state machine:
// pending -> accepted|declined|missed, accepted -> ended. The first terminal
// write wins; repeating it (or closing an already-terminal call) is a no-op
// with changed=false. An illegal jump returns ErrConflict. actorID "" is the
// system (ring timeout); otherwise the actor must be a call party, and only
// the callee can accept or decline.
func (s *Store) TransitionCall(id string, to models.CallStatus, actorID string) (models.CallSession, bool, error) {
	var session models.CallSession
	var changed bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dbCall, err := getCall(tx, id)
		if err != nil {
			return err
		}

		if actorID != "" && actorID != dbCall.CallerID && actorID != dbCall.CalleeID {
			return fmt.Errorf("user %s is not a party of call %s: %w", actorID, id, models.ErrPermission)
		}

		current := models.CallStatus(dbCall.Status)
		if current == to || current.Terminal() {
			// Idempotent close: late or duplicate transitions are dropped.
			session = toCallSession(dbCall)
			return nil
		}

		switch {
		case current == models.CallPending &&
			(to == models.CallAccepted || to == models.CallDeclined || to == models.CallMissed):
			if (to == models.CallAccepted || to == models.CallDeclined) && actorID != dbCall.CalleeID {
				return fmt.Errorf("only the callee can %s a call: %w", to, models.ErrPermission)
			}
		case current == models.CallAccepted && to == models.CallEnded:
		default:
			return fmt.Errorf("call %s cannot go %s -> %s: %w", id, current, to, models.ErrConflict)
		}

		now := s.now().Unix()
		dbCall.Status = string(to)
		if to == models.CallAccepted {
			dbCall.AnsweredAt = now
		}
		if to.Terminal() {
			dbCall.EndedAt = now
		}

		data, err := dbCall.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketCalls).Put(dbCall.Key(), data); err != nil {
			return err
		}
		session = toCallSession(dbCall)
		changed = true
		return nil
	})
	return session, changed, err
}

// ListCalls returns the call history of a conversation, oldest first.
func (s *Store) ListCalls(convID string) ([]models.CallSession, error) {
	var sessions []models.CallSession
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCalls).ForEach(func(k, v []byte) error {
			var dbCall DBCallSession
			if err := dbCall.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbCall.ConversationID == convID {
				sessions = append(sessions, toCallSession(&dbCall))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartedAt != sessions[j].StartedAt {
			return sessions[i].StartedAt < sessions[j].StartedAt
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

func getCall(tx *bbolt.Tx, id string) (*DBCallSession, error) {
	data := tx.Bucket(bucketCalls).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("call %s: %w", id, models.ErrNotFound)
	}
	var dbCall DBCallSession
	if err := dbCall.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &dbCall, nil
}

func toCallSession(dbCall *DBCallSession) models.CallSession {
	return models.CallSession{
		ID:             dbCall.ID,
		ConversationID: dbCall.ConversationID,
		CallerID:       dbCall.CallerID,
		CalleeID:       dbCall.CalleeID,
		Type:           models.CallType(dbCall.Type),
		Status:         models.CallStatus(dbCall.Status),
		StartedAt:      dbCall.StartedAt,
		AnsweredAt:     dbCall.AnsweredAt,
		EndedAt:        dbCall.EndedAt,
	}
}
