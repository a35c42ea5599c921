package api

import (
	"errors"
	"net/http"

	"chatcoord/pkg/blob"
	"chatcoord/pkg/logger"
	"chatcoord/pkg/telemetry"
	"chatcoord/pkg/utils"
)

// uploadAttachment accepts a multipart form with a single "file" field and
// returns the URL a draft should reference.
func (d Deps) uploadAttachment(w http.ResponseWriter, r *http.Request) {
	telemetry.SetRequestOp(r.Context(), "upload_attachment")
	if d.Blob == nil {
		utils.JSONError(w, http.StatusServiceUnavailable, "attachments disabled")
		return
	}
	maxSize := d.Cfg.Chat.Attachments.MaxSize.Int64()
	if maxSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "file field missing")
		return
	}
	defer f.Close()

	url, err := d.Blob.Put(r.Context(), f, hdr.Filename)
	if err != nil {
		if errors.Is(err, blob.ErrTooLarge) {
			utils.JSONError(w, http.StatusRequestEntityTooLarge, "attachment too large")
			return
		}
		logger.Error("attachment_upload_failed", "name", hdr.Filename, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	utils.JSONWrite(w, http.StatusCreated, map[string]any{
		"url":  url,
		"name": hdr.Filename,
		"size": hdr.Size,
	})
}
