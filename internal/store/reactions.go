package store

import (
	"bytes"
	"fmt"

	"parley/internal/models"

	"go.etcd.io/bbolt"
)

// ToggleOutcome describes what a ToggleReaction call did.
type ToggleOutcome struct {
	Reaction       models.Reaction
	Removed        bool
	ConversationID string
}

// ToggleReaction applies single-live-reaction semantics for (message, user):
// no existing reaction inserts, the same emoji removes, a different emoji
// replaces.
func (s *Store) ToggleReaction(msgID, userID, emoji string) (ToggleOutcome, error) {
	if emoji == "" {
		return ToggleOutcome{}, fmt.Errorf("%w: emoji is required", models.ErrValidation)
	}

	var out ToggleOutcome
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dbMsg, err := getMessage(tx, msgID)
		if err != nil {
			return err
		}
		dbConv, err := getConversation(tx, dbMsg.ConversationID)
		if err != nil {
			return err
		}
		if !contains(dbConv.ParticipantIDs, userID) {
			return fmt.Errorf("user %s is not in conversation %s: %w", userID, dbConv.ID, models.ErrPermission)
		}

		b := tx.Bucket(bucketReactions)
		key := reactionKey(msgID, userID)
		out.ConversationID = dbMsg.ConversationID
		out.Reaction = models.Reaction{MessageID: msgID, UserID: userID, Emoji: emoji}

		if data := b.Get(key); data != nil {
			var existing DBReaction
			if err := existing.UnmarshalBinary(data); err != nil {
				return err
			}
			if existing.Emoji == emoji {
				out.Removed = true
				return b.Delete(key)
			}
		}

		dbReaction := DBReaction{MessageID: msgID, UserID: userID, Emoji: emoji}
		data, err := dbReaction.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	return out, err
}

// ReactionsForMessages batch-fetches reactions for a set of messages so a
// view never issues one query per rendered message. Messages without
// reactions are absent from the result map.
func (s *Store) ReactionsForMessages(msgIDs []string) (map[string][]models.Reaction, error) {
	result := make(map[string][]models.Reaction)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketReactions).Cursor()
		for _, msgID := range msgIDs {
			prefix := append([]byte(msgID), 0)
			for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
				var dbReaction DBReaction
				if err := dbReaction.UnmarshalBinary(v); err != nil {
					return err
				}
				result[msgID] = append(result[msgID], models.Reaction{
					MessageID: dbReaction.MessageID,
					UserID:    dbReaction.UserID,
					Emoji:     dbReaction.Emoji,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func deleteReactionsForMessage(tx *bbolt.Tx, msgID string) error {
	c := tx.Bucket(bucketReactions).Cursor()
	prefix := append([]byte(msgID), 0)
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}
