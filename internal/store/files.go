package store

import (
	"fmt"

	"parley/internal/models"

	"go.etcd.io/bbolt"
)

// FileMetadata describes an uploaded attachment blob. The content itself
// lives in the filestore under its hash.
type FileMetadata struct {
	ID        string
	Hash      string
	Name      string
	MimeType  string
	Size      int64
	CreatedAt int64
	UserID    string
}

func (s *Store) UpsertFileMetadata(meta FileMetadata) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbFile := DBFile{
			ID:        meta.ID,
			Hash:      meta.Hash,
			Name:      meta.Name,
			MimeType:  meta.MimeType,
			Size:      meta.Size,
			CreatedAt: meta.CreatedAt,
			UserID:    meta.UserID,
		}
		data, err := dbFile.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal file metadata: %w", err)
		}
		return tx.Bucket(bucketFiles).Put(dbFile.Key(), data)
	})
}

func (s *Store) GetFileMetadata(id string) (FileMetadata, error) {
	var meta FileMetadata
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketFiles).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("file %s: %w", id, models.ErrNotFound)
		}
		var dbFile DBFile
		if err := dbFile.UnmarshalBinary(data); err != nil {
			return err
		}
		meta = FileMetadata{
			ID:        dbFile.ID,
			Hash:      dbFile.Hash,
			Name:      dbFile.Name,
			MimeType:  dbFile.MimeType,
			Size:      dbFile.Size,
			CreatedAt: dbFile.CreatedAt,
			UserID:    dbFile.UserID,
		}
		return nil
	})
	return meta, err
}
