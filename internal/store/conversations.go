package store

import (
	"fmt"
	"sort"

	"parley/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

// directKey is the canonical unordered-pair key for a direct conversation.
func directKey(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return compositeKey(a, b)
}

// FindOrCreateDirect returns the direct conversation between a and b,
// creating it if absent. Lookup and insert run in one update transaction, so
// two users first-contacting each other at the same time still end up with a
// single row: bbolt serializes writers and the second caller observes the
// index entry written by the first.
func (s *Store) FindOrCreateDirect(a, b string) (models.Conversation, bool, error) {
	if a == "" || b == "" || a == b {
		return models.Conversation{}, false, fmt.Errorf("%w: direct conversation needs two distinct users", models.ErrValidation)
	}

	var conv models.Conversation
	var created bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bucketDirectIndex)
		key := directKey(a, b)

		if id := idx.Get(key); id != nil {
			dbConv, err := getConversation(tx, string(id))
			if err != nil {
				return err
			}
			conv = toConversation(dbConv)
			return nil
		}

		now := s.now().Unix()
		dbConv := DBConversation{
			ID:             uuid.NewString(),
			Kind:           string(models.ConversationDirect),
			ParticipantIDs: []string{a, b},
			CreatedBy:      a,
			CreatedAt:      now,
			LastActivityAt: now,
		}
		if err := putConversation(tx, &dbConv); err != nil {
			return err
		}
		if err := idx.Put(key, []byte(dbConv.ID)); err != nil {
			return fmt.Errorf("failed to index direct conversation: %w", err)
		}
		conv = toConversation(&dbConv)
		created = true
		return nil
	})
	return conv, created, err
}

// CreateGroup creates a group conversation. The creator is always a
// participant; duplicate member ids collapse.
func (s *Store) CreateGroup(name, creatorID string, memberIDs []string) (models.Conversation, error) {
	if creatorID == "" {
		return models.Conversation{}, fmt.Errorf("%w: group needs a creator", models.ErrValidation)
	}

	seen := map[string]struct{}{creatorID: {}}
	participants := []string{creatorID}
	for _, id := range memberIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		participants = append(participants, id)
	}
	if len(participants) < 2 {
		return models.Conversation{}, fmt.Errorf("%w: group needs at least two participants", models.ErrValidation)
	}

	now := s.now().Unix()
	dbConv := DBConversation{
		ID:             uuid.NewString(),
		Kind:           string(models.ConversationGroup),
		Name:           name,
		ParticipantIDs: participants,
		CreatedBy:      creatorID,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return putConversation(tx, &dbConv)
	})
	if err != nil {
		return models.Conversation{}, err
	}
	return toConversation(&dbConv), nil
}

// Conversation loads a single conversation by id.
func (s *Store) Conversation(id string) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbConv, err := getConversation(tx, id)
		if err != nil {
			return err
		}
		conv = toConversation(dbConv)
		return nil
	})
	return conv, err
}

// ListForUser returns all conversations the user participates in, most
// recently active first.
func (s *Store) ListForUser(userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		return b.ForEach(func(k, v []byte) error {
			var dbConv DBConversation
			if err := dbConv.UnmarshalBinary(v); err != nil {
				return err
			}
			conv := toConversation(&dbConv)
			if conv.HasParticipant(userID) {
				convs = append(convs, conv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(convs, func(i, j int) bool {
		if convs[i].LastActivityAt != convs[j].LastActivityAt {
			return convs[i].LastActivityAt > convs[j].LastActivityAt
		}
		return convs[i].ID < convs[j].ID
	})
	return convs, nil
}

// TouchActivity bumps the conversation's recency to now, moving it to the
// top of subsequent ListForUser results.
func (s *Store) TouchActivity(convID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbConv, err := getConversation(tx, convID)
		if err != nil {
			return err
		}
		dbConv.LastActivityAt = s.now().Unix()
		return putConversation(tx, dbConv)
	})
}

func getConversation(tx *bbolt.Tx, id string) (*DBConversation, error) {
	data := tx.Bucket(bucketConversations).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	var dbConv DBConversation
	if err := dbConv.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &dbConv, nil
}

func putConversation(tx *bbolt.Tx, dbConv *DBConversation) error {
	data, err := dbConv.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if err := tx.Bucket(bucketConversations).Put(dbConv.Key(), data); err != nil {
		return fmt.Errorf("failed to put conversation: %w", err)
	}
	return nil
}

func toConversation(dbConv *DBConversation) models.Conversation {
	return models.Conversation{
		ID:             dbConv.ID,
		Kind:           models.ConversationKind(dbConv.Kind),
		Name:           dbConv.Name,
		ParticipantIDs: append([]string(nil), dbConv.ParticipantIDs...),
		CreatedBy:      dbConv.CreatedBy,
		CreatedAt:      dbConv.CreatedAt,
		LastActivityAt: dbConv.LastActivityAt,
	}
}
