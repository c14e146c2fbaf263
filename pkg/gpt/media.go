package gpt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gptbridge/pkg/llm/openailm"
	"gptbridge/pkg/media"
)

// DefaultVoice is used when the request names no voice or an unknown one.
const DefaultVoice = "nova"

// Voices lists the accepted text-to-speech voices.
var Voices = []string{"nova", "alloy", "echo", "fable", "onyx", "shimmer"}

// TranscriptionLanguage is the language hint sent with every transcription.
const TranscriptionLanguage = "es"

// Upload is an audio file received for transcription.
type Upload struct {
	Body     io.Reader
	Filename string
	MimeType string
	Size     int64
}

// Transcription is the text of an audio upload.
type Transcription struct {
	Text string `json:"text"`
}

// ImageRequest generates a new image, or edits OriginalImage with MaskImage
// when both are set.
type ImageRequest struct {
	Prompt        string `json:"prompt"`
	OriginalImage string `json:"originalImage,omitempty"`
	MaskImage     string `json:"maskImage,omitempty"`
}

// ImageResponse points at a generated image.
type ImageResponse struct {
	URL           string `json:"url"`
	OpenAIURL     string `json:"openAIUrl"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// ResumeRequest is a resume rewrite request.
type ResumeRequest struct {
	CV   string `json:"cv"`
	Form string `json:"form,omitempty"`
	Goal string `json:"goal"`
}

// ResumeResponse is the rewritten resume.
type ResumeResponse struct {
	ImprovedCV string `json:"improvedCV"`
	TokensUsed int    `json:"tokensUsed"`
	Model      string `json:"model"`
}

// TextToSpeech synthesizes prompt to an mp3 and returns its id and path.
func (s *Service) TextToSpeech(ctx context.Context, prompt, voice string) (string, string, error) {
	if err := required("prompt", prompt); err != nil {
		return "", "", err
	}
	voice = strings.ToLower(strings.TrimSpace(voice))
	if !slices.Contains(Voices, voice) {
		voice = DefaultVoice
	}

	audio, err := s.media.Speech(ctx, prompt, voice)
	if err != nil {
		return "", "", err
	}
	defer audio.Close()

	id, path, err := s.files.SaveAudio(audio)
	if err != nil {
		return "", "", err
	}
	slog.InfoContext(ctx, "Speech saved", "id", id, "voice", voice)
	return id, path, nil
}

// SpeechFile resolves a previously generated audio.
func (s *Service) SpeechFile(id string) (string, error) {
	return s.files.AudioPath(id)
}

// SpeechToText stores the upload and transcribes it.
func (s *Service) SpeechToText(ctx context.Context, upload Upload, prompt string) (*Transcription, error) {
	if upload.Body == nil {
		return nil, invalid("no file uploaded")
	}

	path, err := s.files.SaveUpload(upload.Body, upload.Filename, upload.MimeType, upload.Size, s.opts.MaxUploadBytes)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	text, err := s.media.Transcribe(ctx, f, prompt, TranscriptionLanguage)
	if err != nil {
		return nil, err
	}
	return &Transcription{Text: text}, nil
}

// GenerateImage creates an image, or edits one when both images are given.
// The result is stored locally and served under the public image route.
func (s *Service) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error) {
	if err := required("prompt", req.Prompt); err != nil {
		return nil, err
	}

	var (
		res *openailm.ImageResult
		err error
	)
	if req.OriginalImage == "" || req.MaskImage == "" {
		res, err = s.media.GenerateImage(ctx, req.Prompt)
	} else {
		res, err = s.editImage(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return s.keepImage(ctx, res)
}

func (s *Service) editImage(ctx context.Context, req ImageRequest) (*openailm.ImageResult, error) {
	original, err := s.files.DownloadImageAsPNG(ctx, req.OriginalImage)
	if err != nil {
		return nil, err
	}
	mask, err := media.DecodeBase64ImageAsPNG(req.MaskImage)
	if err != nil {
		return nil, err
	}
	return s.media.EditImage(ctx, req.Prompt, original, mask)
}

// ImageVariation creates a variation of the image at baseImage.
func (s *Service) ImageVariation(ctx context.Context, baseImage string) (*ImageResponse, error) {
	if err := required("baseImage", baseImage); err != nil {
		return nil, err
	}

	base, err := s.files.DownloadImageAsPNG(ctx, baseImage)
	if err != nil {
		return nil, err
	}
	res, err := s.media.Variation(ctx, base)
	if err != nil {
		return nil, err
	}
	return s.keepImage(ctx, res)
}

// keepImage downloads the provider image so it outlives the provider link.
func (s *Service) keepImage(ctx context.Context, res *openailm.ImageResult) (*ImageResponse, error) {
	data, err := s.files.DownloadImageAsPNG(ctx, res.URL)
	if err != nil {
		return nil, err
	}
	name, err := s.files.SaveImage(data)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Image saved", "name", name)
	return &ImageResponse{
		URL:           s.files.ImageURL(name),
		OpenAIURL:     res.URL,
		RevisedPrompt: res.RevisedPrompt,
	}, nil
}

// ImageFile resolves a generated image.
func (s *Service) ImageFile(name string) (string, error) {
	return s.files.ImagePath(name)
}

// ImproveResume rewrites cv for goal, using form as extra context.
func (s *Service) ImproveResume(ctx context.Context, req ResumeRequest) (*ResumeResponse, error) {
	if err := required("cv", req.CV); err != nil {
		return nil, err
	}
	if err := required("goal", req.Goal); err != nil {
		return nil, err
	}
	for _, check := range []error{
		maxLength("cv", req.CV, maxCVLength),
		maxLength("form", req.Form, maxFormLength),
		maxLength("goal", req.Goal, maxGoalLength),
	} {
		if check != nil {
			return nil, check
		}
	}

	text, tokens, err := s.media.Respond(ctx, resumeInstructions,
		resumePrompt(req.CV, strings.TrimSpace(req.Form), req.Goal),
		ResumeModel, resumeTokens, resumeTemperature)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("improve resume: the model returned no content")
	}
	return &ResumeResponse{ImprovedCV: text, TokensUsed: tokens, Model: ResumeModel}, nil
}
