package openailm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
)

// ImageResult 為圖片 API 回傳的第一張圖片
type ImageResult struct {
	URL           string
	RevisedPrompt string
}

// MediaClient 封裝非對話類的 OpenAI 端點（語音、轉錄、圖片、單次 Responses）
type MediaClient struct {
	client *openai.Client
}

// NewMediaClient 建立 MediaClient，apiKey 為空時讀取 OPENAI_API_KEY
func NewMediaClient(apiKey, baseURL string) *MediaClient {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &MediaClient{client: &client}
}

// Speech 以 tts-1 產生 mp3，呼叫端負責關閉回傳的 ReadCloser
func (m *MediaClient) Speech(ctx context.Context, text, voice string) (io.ReadCloser, error) {
	resp, err := m.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModelTTS1,
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	return resp.Body, nil
}

// Transcribe 以 gpt-4o-mini-transcribe 將音訊轉為文字
func (m *MediaClient) Transcribe(ctx context.Context, file io.Reader, prompt, language string) (string, error) {
	params := openai.AudioTranscriptionNewParams{
		File:           file,
		Model:          openai.AudioModelGPT4oMiniTranscribe,
		ResponseFormat: openai.AudioResponseFormatJSON,
	}
	if language != "" {
		params.Language = param.NewOpt(language)
	}
	if prompt != "" {
		params.Prompt = param.NewOpt(prompt)
	}

	res, err := m.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return res.Text, nil
}

// GenerateImage 以 dall-e-3 產生一張 1024x1024 的圖片
func (m *MediaClient) GenerateImage(ctx context.Context, prompt string) (*ImageResult, error) {
	res, err := m.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModelDallE3,
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize1024x1024,
		Quality:        openai.ImageGenerateParamsQualityStandard,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
	})
	if err != nil {
		return nil, fmt.Errorf("openai image generation: %w", err)
	}
	return firstImage(res)
}

// EditImage 以 dall-e-2 依 mask 編輯圖片，兩者皆須為 PNG 位元組
func (m *MediaClient) EditImage(ctx context.Context, prompt string, image, mask []byte) (*ImageResult, error) {
	res, err := m.client.Images.Edit(ctx, openai.ImageEditParams{
		Prompt:         prompt,
		Image:          openai.ImageEditParamsImageUnion{OfFile: pngFile(image, "image.png")},
		Mask:           pngFile(mask, "mask.png"),
		Model:          openai.ImageModelDallE2,
		N:              openai.Int(1),
		Size:           openai.ImageEditParamsSize1024x1024,
		ResponseFormat: openai.ImageEditParamsResponseFormatURL,
	})
	if err != nil {
		return nil, fmt.Errorf("openai image edit: %w", err)
	}
	return firstImage(res)
}

// Variation 以 dall-e-2 產生圖片變體，image 須為 PNG 位元組
func (m *MediaClient) Variation(ctx context.Context, image []byte) (*ImageResult, error) {
	res, err := m.client.Images.NewVariation(ctx, openai.ImageNewVariationParams{
		Image:          pngFile(image, "image.png"),
		Model:          openai.ImageModelDallE2,
		N:              openai.Int(1),
		Size:           openai.ImageNewVariationParamsSize1024x1024,
		ResponseFormat: openai.ImageNewVariationParamsResponseFormatURL,
	})
	if err != nil {
		return nil, fmt.Errorf("openai image variation: %w", err)
	}
	return firstImage(res)
}

// Respond 進行單次（非串流）Responses 呼叫，回傳輸出文字與總 token 數
func (m *MediaClient) Respond(ctx context.Context, instructions, input, model string, maxTokens int, temperature float64) (string, int, error) {
	params := responses.ResponseNewParams{
		Model: model,
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(input),
		},
		Temperature: param.NewOpt(temperature),
	}
	if instructions != "" {
		params.Instructions = param.NewOpt(instructions)
	}
	if maxTokens > 0 {
		params.MaxOutputTokens = param.NewOpt(int64(maxTokens))
	}

	res, err := m.client.Responses.New(ctx, params)
	if err != nil {
		return "", 0, fmt.Errorf("openai responses: %w", err)
	}
	return res.OutputText(), int(res.Usage.TotalTokens), nil
}

// pngFile 為 multipart 上傳附上檔名與 Content-Type
func pngFile(data []byte, name string) io.Reader {
	return openai.File(bytes.NewReader(data), name, "image/png")
}

func firstImage(res *openai.ImagesResponse) (*ImageResult, error) {
	if res == nil || len(res.Data) == 0 {
		return nil, fmt.Errorf("openai returned no image")
	}
	img := res.Data[0]
	return &ImageResult{URL: img.URL, RevisedPrompt: img.RevisedPrompt}, nil
}
