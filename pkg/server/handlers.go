package server

import (
	"log/slog"
	"net/http"

	"gptbridge/pkg/agent"
	"gptbridge/pkg/gpt"
)

type promptBody struct {
	Prompt string `json:"prompt"`
}

type translateBody struct {
	Prompt string `json:"prompt"`
	Lang   string `json:"lang"`
}

type speechBody struct {
	Prompt string `json:"prompt"`
	Voice  string `json:"voice,omitempty"`
}

type variationBody struct {
	BaseImage string `json:"baseImage"`
}

type chatBody struct {
	Prompt         string `json:"prompt"`
	ConversationID string `json:"conversationId"`
}

func (h *handlers) developerAgent(w http.ResponseWriter, r *http.Request) {
	var req agent.Request
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.Agent.Run(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) orthography(w http.ResponseWriter, r *http.Request) {
	var body promptBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.GPT.Orthography(r.Context(), body.Prompt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) basicPrompt(w http.ResponseWriter, r *http.Request) {
	var body promptBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	text, err := h.GPT.BasicPrompt(r.Context(), body.Prompt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, text)
}

func (h *handlers) prosCons(w http.ResponseWriter, r *http.Request) {
	var body promptBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.GPT.ProsCons(r.Context(), body.Prompt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// flushWriter pushes every write to the client.
type flushWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func (f *flushWriter) Write(p []byte) (int, error) {
	if !f.started {
		f.w.Header().Set("Content-Type", "application/json")
		f.w.WriteHeader(http.StatusOK)
		f.started = true
	}
	n, err := f.w.Write(p)
	if err == nil {
		_ = f.rc.Flush()
	}
	return n, err
}

// prosConsStream writes raw text deltas as they arrive. Errors before the
// first delta still get a JSON error body; later ones end the stream.
func (h *handlers) prosConsStream(w http.ResponseWriter, r *http.Request) {
	var body promptBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	fw := &flushWriter{w: w, rc: http.NewResponseController(w)}
	err := h.GPT.ProsConsStream(r.Context(), body.Prompt, fw)
	switch {
	case err != nil && !fw.started:
		writeError(w, r, err)
	case err != nil:
		_, kind := classify(err)
		slog.WarnContext(r.Context(), "Stream aborted", "kind", kind, "error", err)
	case !fw.started:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	}
}

func (h *handlers) translate(w http.ResponseWriter, r *http.Request) {
	var body translateBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.GPT.Translate(r.Context(), body.Prompt, body.Lang)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func serveAudio(w http.ResponseWriter, r *http.Request, path string) {
	w.Header().Set("Content-Type", "audio/mp3")
	http.ServeFile(w, r, path)
}

func (h *handlers) textToAudio(w http.ResponseWriter, r *http.Request) {
	var body speechBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	id, path, err := h.GPT.TextToSpeech(r.Context(), body.Prompt, body.Voice)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("X-File-ID", id)
	serveAudio(w, r, path)
}

func (h *handlers) textToAudioGetter(w http.ResponseWriter, r *http.Request) {
	path, err := h.GPT.SpeechFile(r.PathValue("fileId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	serveAudio(w, r, path)
}

func (h *handlers) audioToText(w http.ResponseWriter, r *http.Request) {
	upload, prompt, cleanup, err := h.readUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer cleanup()

	res, err := h.GPT.SpeechToText(r.Context(), upload, prompt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) imageGeneration(w http.ResponseWriter, r *http.Request) {
	var req gpt.ImageRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.GPT.GenerateImage(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) imageGenerationGetter(w http.ResponseWriter, r *http.Request) {
	path, err := h.GPT.ImageFile(r.PathValue("fileName"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.ServeFile(w, r, path)
}

func (h *handlers) imageVariation(w http.ResponseWriter, r *http.Request) {
	var body variationBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.GPT.ImageVariation(r.Context(), body.BaseImage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) improveResume(w http.ResponseWriter, r *http.Request) {
	var req gpt.ResumeRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.GPT.ImproveResume(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) javascriptDeveloper(w http.ResponseWriter, r *http.Request) {
	var body chatBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	text, err := h.GPT.JavascriptDeveloper(r.Context(), body.Prompt, body.ConversationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, text)
}
