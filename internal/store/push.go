package store

import (
	"bytes"

	"parley/internal/models"

	"go.etcd.io/bbolt"
)

// SavePushSubscription upserts a push endpoint for a user. A user may hold
// one subscription per browser/device; the endpoint URL disambiguates.
func (s *Store) SavePushSubscription(userID string, sub models.PushSubscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbSub := DBPushSubscription{
			UserID:    userID,
			Endpoint:  sub.Endpoint,
			P256dh:    sub.P256dh,
			Auth:      sub.Auth,
			CreatedAt: s.now().Unix(),
		}
		data, err := dbSub.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPushSubscriptions).Put(dbSub.Key(), data)
	})
}

// DeletePushSubscription removes a single endpoint, typically after the push
// service reports it gone.
func (s *Store) DeletePushSubscription(userID, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPushSubscriptions).Delete(compositeKey(userID, endpoint))
	})
}

// PushSubscriptions lists all registered endpoints for a user.
func (s *Store) PushSubscriptions(userID string) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketPushSubscriptions).Cursor()
		prefix := append([]byte(userID), 0)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var dbSub DBPushSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, models.PushSubscription{
				Endpoint: dbSub.Endpoint,
				P256dh:   dbSub.P256dh,
				Auth:     dbSub.Auth,
			})
		}
		return nil
	})
	return subs, err
}
