package store

import (
	"fmt"

	"parley/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// AppendMessage appends a message to the conversation's log. The sequence
// number, the store clock timestamp and the conversation recency bump are all
// assigned inside one transaction, so subscribers observe messages in commit
// order and the conversation list never lags a successful append.
func (s *Store) AppendMessage(convID, senderID, content string, attachment *models.Attachment) (models.Message, error) {
	if content == "" && attachment == nil {
		return models.Message{}, fmt.Errorf("%w: message needs content or an attachment", models.ErrValidation)
	}

	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dbConv, err := getConversation(tx, convID)
		if err != nil {
			return err
		}
		if !contains(dbConv.ParticipantIDs, senderID) {
			return fmt.Errorf("user %s is not in conversation %s: %w", senderID, convID, models.ErrPermission)
		}

		convBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(convID))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		seq, err := convBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to assign sequence: %w", err)
		}

		now := s.now().Unix()
		dbMsg := DBMessage{
			ID:             uuid.NewString(),
			Seq:            int64(seq),
			ConversationID: convID,
			SenderID:       senderID,
			Content:        content,
			IsRead:         false,
			CreatedAt:      now,
		}
		if attachment != nil {
			dbMsg.Attachment = &DBAttachment{
				Name:     attachment.Name,
				MimeType: attachment.MimeType,
				FileID:   attachment.FileID,
				Size:     attachment.Size,
			}
		}

		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := convBucket.Put(dbMsg.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		ref := DBMessageRef{ConversationID: convID, Seq: dbMsg.Seq}
		refData, err := ref.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketMessageIndex).Put([]byte(dbMsg.ID), refData); err != nil {
			return fmt.Errorf("failed to index message: %w", err)
		}

		dbConv.LastActivityAt = now
		if err := putConversation(tx, dbConv); err != nil {
			return err
		}

		msg = toMessage(&dbMsg)
		return nil
	})
	return msg, err
}

// ListMessages returns messages of a conversation ascending by sequence.
// limit > 0 keeps only the most recent limit messages (still ascending);
// limit <= 0 returns the whole log. The cap is a view policy owned by
// callers, not a store invariant.
func (s *Store) ListMessages(convID string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		if _, err := getConversation(tx, convID); err != nil {
			return err
		}
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(convID))
		if convBucket == nil {
			return nil // no messages yet
		}

		c := convBucket.Cursor()
		if limit > 0 {
			// Walk backwards to find the window, then reverse.
			for k, v := c.Last(); k != nil && len(messages) < limit; k, v = c.Prev() {
				var dbMsg DBMessage
				if err := dbMsg.UnmarshalBinary(v); err != nil {
					return err
				}
				messages = append(messages, toMessage(&dbMsg))
			}
			for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
				messages[i], messages[j] = messages[j], messages[i]
			}
			return nil
		}

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, toMessage(&dbMsg))
		}
		return nil
	})
	return messages, err
}

// MarkReadExcept marks every unread message in the conversation not authored
// by readerID as read. Returns the number of rows flipped so callers can
// skip broadcasting no-op read receipts.
func (s *Store) MarkReadExcept(convID, readerID string) (int, error) {
	var flipped int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dbConv, err := getConversation(tx, convID)
		if err != nil {
			return err
		}
		if !contains(dbConv.ParticipantIDs, readerID) {
			return fmt.Errorf("user %s is not in conversation %s: %w", readerID, convID, models.ErrPermission)
		}

		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(convID))
		if convBucket == nil {
			return nil
		}

		c := convBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMsg.IsRead || dbMsg.SenderID == readerID {
				continue
			}
			dbMsg.IsRead = true
			data, err := dbMsg.MarshalBinary()
			if err != nil {
				return err
			}
			if err := convBucket.Put(dbMsg.Key(), data); err != nil {
				return err
			}
			flipped++
		}
		return nil
	})
	return flipped, err
}

// RecallMessage permanently deletes a message. Only the sender may recall;
// no tombstone is kept. Reactions on the message are removed with it, and
// the conversation recency is recomputed from the surviving log when the
// recalled message was the most recent one.
func (s *Store) RecallMessage(msgID, requesterID string) (models.Message, error) {
	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bucketMessageIndex)
		refData := idx.Get([]byte(msgID))
		if refData == nil {
			return fmt.Errorf("message %s: %w", msgID, models.ErrNotFound)
		}
		var ref DBMessageRef
		if err := ref.UnmarshalBinary(refData); err != nil {
			return err
		}

		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(ref.ConversationID))
		if convBucket == nil {
			return fmt.Errorf("message %s: %w", msgID, models.ErrNotFound)
		}

		dbMsg := DBMessage{Seq: ref.Seq}
		key := dbMsg.Key()
		data := convBucket.Get(key)
		if data == nil {
			return fmt.Errorf("message %s: %w", msgID, models.ErrNotFound)
		}
		if err := dbMsg.UnmarshalBinary(data); err != nil {
			return err
		}
		if dbMsg.SenderID != requesterID {
			return fmt.Errorf("only the sender can recall a message: %w", models.ErrPermission)
		}

		if err := convBucket.Delete(key); err != nil {
			return err
		}
		if err := idx.Delete([]byte(msgID)); err != nil {
			return err
		}
		if err := deleteReactionsForMessage(tx, msgID); err != nil {
			return err
		}

		// Recency is derived from the log; recalling the newest message
		// rolls the conversation back to the previous one.
		dbConv, err := getConversation(tx, ref.ConversationID)
		if err != nil {
			return err
		}
		if dbConv.LastActivityAt == dbMsg.CreatedAt {
			if _, v := convBucket.Cursor().Last(); v != nil {
				var last DBMessage
				if err := last.UnmarshalBinary(v); err != nil {
					return err
				}
				dbConv.LastActivityAt = last.CreatedAt
			} else {
				dbConv.LastActivityAt = dbConv.CreatedAt
			}
			if err := putConversation(tx, dbConv); err != nil {
				return err
			}
		}

		msg = toMessage(&dbMsg)
		return nil
	})
	return msg, err
}

// Message loads a single message by id.
func (s *Store) Message(msgID string) (models.Message, error) {
	var msg models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbMsg, err := getMessage(tx, msgID)
		if err != nil {
			return err
		}
		msg = toMessage(dbMsg)
		return nil
	})
	return msg, err
}

// UnreadCount counts messages in the conversation that userID has not read
// and did not send.
func (s *Store) UnreadCount(convID, userID string) (int, error) {
	var count int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n, err := unreadCount(tx, convID, userID)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	return count, err
}

// LastMessage returns the most recent message of a conversation, if any.
func (s *Store) LastMessage(convID string) (models.Message, bool, error) {
	var msg models.Message
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		convBucket := tx.Bucket(bucketMessages).Bucket([]byte(convID))
		if convBucket == nil {
			return nil
		}
		_, v := convBucket.Cursor().Last()
		if v == nil {
			return nil
		}
		var dbMsg DBMessage
		if err := dbMsg.UnmarshalBinary(v); err != nil {
			return err
		}
		msg = toMessage(&dbMsg)
		ok = true
		return nil
	})
	return msg, ok, err
}

func getMessage(tx *bbolt.Tx, msgID string) (*DBMessage, error) {
	refData := tx.Bucket(bucketMessageIndex).Get([]byte(msgID))
	if refData == nil {
		return nil, fmt.Errorf("message %s: %w", msgID, models.ErrNotFound)
	}
	var ref DBMessageRef
	if err := ref.UnmarshalBinary(refData); err != nil {
		return nil, err
	}
	convBucket := tx.Bucket(bucketMessages).Bucket([]byte(ref.ConversationID))
	if convBucket == nil {
		return nil, fmt.Errorf("message %s: %w", msgID, models.ErrNotFound)
	}
	dbMsg := DBMessage{Seq: ref.Seq}
	data := convBucket.Get(dbMsg.Key())
	if data == nil {
		return nil, fmt.Errorf("message %s: %w", msgID, models.ErrNotFound)
	}
	if err := dbMsg.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &dbMsg, nil
}

func unreadCount(tx *bbolt.Tx, convID, userID string) (int, error) {
	convBucket := tx.Bucket(bucketMessages).Bucket([]byte(convID))
	if convBucket == nil {
		return 0, nil
	}
	count := 0
	c := convBucket.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var dbMsg DBMessage
		if err := dbMsg.UnmarshalBinary(v); err != nil {
			return 0, err
		}
		if !dbMsg.IsRead && dbMsg.SenderID != userID {
			count++
		}
	}
	return count, nil
}

func toMessage(dbMsg *DBMessage) models.Message {
	msg := models.Message{
		ID:             dbMsg.ID,
		Seq:            dbMsg.Seq,
		ConversationID: dbMsg.ConversationID,
		SenderID:       dbMsg.SenderID,
		Content:        dbMsg.Content,
		IsRead:         dbMsg.IsRead,
		CreatedAt:      dbMsg.CreatedAt,
	}
	if dbMsg.Attachment != nil {
		msg.Attachment = &models.Attachment{
			Name:     dbMsg.Attachment.Name,
			MimeType: dbMsg.Attachment.MimeType,
			FileID:   dbMsg.Attachment.FileID,
			Size:     dbMsg.Attachment.Size,
		}
	}
	return msg
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
