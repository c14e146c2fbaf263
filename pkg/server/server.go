// Package server exposes the agent and the gpt use cases as a REST API.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gptbridge/pkg/agent"
	"gptbridge/pkg/gpt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxJSONBytes bounds JSON bodies. Image requests carry base64 masks.
const maxJSONBytes = 32 << 20

var errBadRequest = errors.New("bad request")

// Agent answers developer-agent requests. *agent.Engine implements it.
type Agent interface {
	Run(ctx context.Context, req agent.Request) (*agent.Response, error)
}

// Dependencies are the services behind the routes.
type Dependencies struct {
	Agent Agent
	GPT   *gpt.Service
	// MaxUploadBytes caps multipart bodies of audio uploads.
	MaxUploadBytes int64
}

// New returns the API handler with request id, access log and panic
// recovery applied.
func New(d Dependencies) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, d)
	return withRequestID(withLogging(withRecover(mux)))
}

// RegisterRoutes mounts every endpoint on mux.
func RegisterRoutes(mux *http.ServeMux, d Dependencies) {
	h := &handlers{Dependencies: d}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeText(w, "ok")
	})

	if d.Agent != nil {
		mux.HandleFunc("POST /sam-agent/developer-agent", h.developerAgent)
	}

	if d.GPT != nil {
		mux.HandleFunc("POST /gpt/orthography-check", h.orthography)
		mux.HandleFunc("POST /gpt/basic-prompt", h.basicPrompt)
		mux.HandleFunc("POST /gpt/pros-cons-discusser", h.prosCons)
		mux.HandleFunc("POST /gpt/pros-cons-discusser-stream", h.prosConsStream)
		mux.HandleFunc("POST /gpt/translate", h.translate)
		mux.HandleFunc("POST /gpt/text-to-audio", h.textToAudio)
		mux.HandleFunc("GET /gpt/text-to-audio/{fileId}", h.textToAudioGetter)
		mux.HandleFunc("POST /gpt/audio-to-text", h.audioToText)
		mux.HandleFunc("POST /gpt/image-generation", h.imageGeneration)
		mux.HandleFunc("GET /gpt/image-generation/{fileName}", h.imageGenerationGetter)
		mux.HandleFunc("POST /gpt/image-variation", h.imageVariation)
		mux.HandleFunc("POST /gpt/improve-resume", h.improveResume)
		mux.HandleFunc("POST /gpt/javascript-developer", h.javascriptDeveloper)
	}
}

type handlers struct {
	Dependencies
}

// decode reads a JSON body into v. Unknown fields are ignored.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", errBadRequest, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return fmt.Errorf("%w: empty body", errBadRequest)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: invalid json: %v", errBadRequest, err)
	}
	return nil
}
