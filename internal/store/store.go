package store

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers              = []byte("users")
	bucketTokens             = []byte("tokens")
	bucketRegistrationTokens = []byte("registration_tokens")
	bucketConversations      = []byte("conversations")
	bucketDirectIndex        = []byte("direct_index")
	bucketMessages           = []byte("messages")
	bucketMessageIndex       = []byte("message_index")
	bucketReactions          = []byte("reactions")
	bucketPresence           = []byte("presence")
	bucketCalls              = []byte("calls")
	bucketPushSubscriptions  = []byte("push_subscriptions")
	bucketFiles              = []byte("files")
)

// Store is the durable backend for conversations, messages, reactions,
// presence, call sessions, push subscriptions and credentials. All writes are
// single bbolt update transactions, so cross-row invariants (direct-pair
// uniqueness, message seq assignment plus recency bump) hold under
// concurrent callers.
type Store struct {
	db             *bbolt.DB
	presenceWindow time.Duration
	now            func() time.Time
}

func Open(path string, presenceWindow time.Duration) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers,
			bucketTokens,
			bucketRegistrationTokens,
			bucketConversations,
			bucketDirectIndex,
			bucketMessages,
			bucketMessageIndex,
			bucketReactions,
			bucketPresence,
			bucketCalls,
			bucketPushSubscriptions,
			bucketFiles,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Store{
		db:             db,
		presenceWindow: presenceWindow,
		now:            time.Now,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
