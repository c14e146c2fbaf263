package server

import (
	"errors"
	"fmt"
	"net/http"

	"gptbridge/pkg/gpt"
	"gptbridge/pkg/media"
)

// multipartOverhead leaves room for the prompt field and part headers.
const multipartOverhead = 1 << 20

// readUpload parses the multipart "file" and "prompt" fields. A missing
// file yields an Upload without Body, which the service rejects.
func (h *handlers) readUpload(w http.ResponseWriter, r *http.Request) (gpt.Upload, string, func(), error) {
	noop := func() {}
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return gpt.Upload{}, "", noop, fmt.Errorf("%w: request body over %d bytes", media.ErrTooLarge, tooLarge.Limit)
		}
		return gpt.Upload{}, "", noop, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }
	prompt := r.FormValue("prompt")

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return gpt.Upload{}, prompt, cleanup, nil
	}
	if err != nil {
		cleanup()
		return gpt.Upload{}, "", noop, fmt.Errorf("%w: %v", errBadRequest, err)
	}

	upload := gpt.Upload{
		Body:     file,
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
	}
	return upload, prompt, func() {
		file.Close()
		cleanup()
	}, nil
}
