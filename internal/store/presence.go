package store

import (
	"time"

	"parley/internal/models"

	"go.etcd.io/bbolt"
)

// Heartbeat upserts the user's presence record. Returns whether the user's
// effective online status changed, so callers broadcast transitions only and
// not every keepalive.
func (s *Store) Heartbeat(userID string, online bool) (bool, error) {
	now := s.now()
	var changed bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPresence)

		wasOnline := false
		if data := b.Get([]byte(userID)); data != nil {
			var prev DBPresence
			if err := prev.UnmarshalBinary(data); err != nil {
				return err
			}
			wasOnline = s.effectiveOnline(&prev, now)
		}

		dbPresence := DBPresence{
			UserID:    userID,
			Online:    online,
			UpdatedAt: now.Unix(),
		}
		data, err := dbPresence.MarshalBinary()
		if err != nil {
			return err
		}
		if err := b.Put(dbPresence.Key(), data); err != nil {
			return err
		}

		changed = wasOnline != s.effectiveOnline(&dbPresence, now)
		return nil
	})
	return changed, err
}

// Statuses reports each user's effective online status: the stored flag is
// overridden to offline when the record is older than the staleness window.
// This covers clients that vanish without a clean offline heartbeat.
func (s *Store) Statuses(userIDs []string) (map[string]bool, error) {
	now := s.now()
	result := make(map[string]bool, len(userIDs))
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPresence)
		for _, id := range userIDs {
			online := false
			if data := b.Get([]byte(id)); data != nil {
				var dbPresence DBPresence
				if err := dbPresence.UnmarshalBinary(data); err != nil {
					return err
				}
				online = s.effectiveOnline(&dbPresence, now)
			}
			result[id] = online
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PresenceOf returns the raw presence record for a user.
func (s *Store) PresenceOf(userID string) (models.Presence, error) {
	var p models.Presence
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPresence).Get([]byte(userID))
		if data == nil {
			return nil // never seen, zero value reads as offline
		}
		var dbPresence DBPresence
		if err := dbPresence.UnmarshalBinary(data); err != nil {
			return err
		}
		p = models.Presence{Online: dbPresence.Online, LastSeen: dbPresence.UpdatedAt}
		return nil
	})
	return p, err
}

func (s *Store) effectiveOnline(p *DBPresence, now time.Time) bool {
	if !p.Online {
		return false
	}
	return now.Unix()-p.UpdatedAt <= int64(s.presenceWindow/time.Second)
}
