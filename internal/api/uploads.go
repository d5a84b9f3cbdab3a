package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"parley/internal/models"
	"parley/internal/store"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"
)

const maxUploadSize = 25 << 20 // 25 MiB

// UploadAttachmentHandler accepts a multipart upload, sniffs the real
// content type from the bytes and stores the blob under its hash.
func (a *API) UploadAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, fmt.Errorf("%w: upload too large or malformed", models.ErrValidation))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("%w: missing file field", models.ErrValidation))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(data) == 0 {
		writeError(w, fmt.Errorf("%w: empty file", models.ErrValidation))
		return
	}

	// Trust the bytes, not the client-declared content type.
	mimeType := "application/octet-stream"
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		mimeType = kind.MIME.Value
	}

	hash, err := a.blobs.Save(bytes.NewReader(data))
	if err != nil {
		writeError(w, err)
		return
	}

	meta := store.FileMetadata{
		ID:        uuid.NewString(),
		Hash:      hash,
		Name:      header.Filename,
		MimeType:  mimeType,
		Size:      int64(len(data)),
		CreatedAt: time.Now().Unix(),
		UserID:    requestUserID(r),
	}
	if err := a.store.UpsertFileMetadata(meta); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, models.Attachment{
		Name:     meta.Name,
		MimeType: meta.MimeType,
		FileID:   meta.ID,
		Size:     meta.Size,
	})
}

func (a *API) GetAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	meta, err := a.store.GetFileMetadata(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	blob, err := a.blobs.Get(meta.Hash)
	if err != nil {
		writeError(w, err)
		return
	}
	defer blob.Close()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", meta.Size))
	// Blobs are content addressed, so they never change.
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	if _, err := io.Copy(w, blob); err != nil {
		log.Warn().Err(err).Str("fileID", meta.ID).Msg("failed to stream attachment")
	}
}
