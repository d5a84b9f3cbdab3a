package store

import (
	"parley/internal/auth"
	"parley/internal/models"

	"go.etcd.io/bbolt"
)

// UpsertCredentials stores new or updated user credentials. The in-memory
// throttling counters are intentionally not persisted.
func (s *Store) UpsertCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbUser := DBUser{
			ID:           credentials.ID,
			UserName:     credentials.UserName,
			DisplayName:  credentials.DisplayName,
			AvatarURL:    credentials.AvatarURL,
			LastSeen:     credentials.Presence.LastSeen,
			PasswordHash: credentials.PasswordHash,
			Status:       string(credentials.Status),
		}
		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketUsers).Put(dbUser.Key(), data)
	})
}

// ListAllCredentials returns all user credentials stored in the database,
// deleted users included.
func (s *Store) ListAllCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			credentials = append(credentials, auth.UserCredentials{
				User: models.User{
					ID:          dbUser.ID,
					UserName:    dbUser.UserName,
					DisplayName: dbUser.DisplayName,
					AvatarURL:   dbUser.AvatarURL,
					Presence: models.Presence{
						LastSeen: dbUser.LastSeen,
					},
					Status: models.UserStatus(dbUser.Status),
				},
				PasswordHash: dbUser.PasswordHash,
			})
			return nil
		})
	})
	return credentials, err
}

func (s *Store) UpsertToken(userID string, tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbToken := DBToken{UserID: userID, Token: tokenHash}
		data, err := dbToken.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTokens).Put(dbToken.Key(), data)
	})
}

func (s *Store) DeleteToken(tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(tokenHash))
	})
}

func (s *Store) ListTokens() (map[string]string, error) {
	tokens := make(map[string]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(k, v []byte) error {
			var dbToken DBToken
			if err := dbToken.UnmarshalBinary(v); err != nil {
				return err
			}
			tokens[dbToken.Token] = dbToken.UserID
			return nil
		})
	})
	return tokens, err
}

func (s *Store) UpsertRegistrationToken(userID string, token string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbToken := DBToken{UserID: userID, Token: token}
		data, err := dbToken.MarshalBinary()
		if err != nil {
			return err
		}
		// Keyed by user, so a reset replaces any earlier setup token.
		return tx.Bucket(bucketRegistrationTokens).Put([]byte(userID), data)
	})
}

func (s *Store) DeleteRegistrationToken(userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRegistrationTokens).Delete([]byte(userID))
	})
}

func (s *Store) ListRegistrationTokens() (map[string]string, error) {
	tokens := make(map[string]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRegistrationTokens).ForEach(func(k, v []byte) error {
			var dbToken DBToken
			if err := dbToken.UnmarshalBinary(v); err != nil {
				return err
			}
			tokens[dbToken.UserID] = dbToken.Token
			return nil
		})
	})
	return tokens, err
}
