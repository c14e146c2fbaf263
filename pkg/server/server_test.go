package server_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"gptbridge/pkg/agent"
	"gptbridge/pkg/config"
	"gptbridge/pkg/gpt"
	"gptbridge/pkg/llm"
	"gptbridge/pkg/media"
	"gptbridge/pkg/server"
	"gptbridge/pkg/session"
	"gptbridge/pkg/tools"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var _ = Describe("HTTP API", func() {
	var (
		client   *scriptedLLM
		provider *stubMedia
		images   *httptest.Server
		api      *httptest.Server
		baseURL  string
	)

	do := func(method, path, contentType string, body io.Reader, header ...string) *http.Response {
		req, err := http.NewRequest(method, api.URL+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		for i := 0; i+1 < len(header); i += 2 {
			req.Header.Set(header[i], header[i+1])
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	post := func(path string, body any) *http.Response {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		return do(http.MethodPost, path, "application/json", bytes.NewReader(data))
	}

	readBody := func(resp *http.Response) string {
		data, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return string(data)
	}

	decodeInto := func(resp *http.Response, v any) {
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	expectError := func(resp *http.Response, status int, kind string) {
		GinkgoHelper()
		Expect(resp.StatusCode).To(Equal(status))
		var body server.ErrorBody
		decodeInto(resp, &body)
		Expect(body.Error).To(Equal(kind))
		Expect(body.Message).NotTo(BeEmpty())
	}

	BeforeEach(func() {
		client = &scriptedLLM{respond: func(_ context.Context, messages []llm.Message, _ []llm.ToolSpec) (string, error) {
			return "echo " + lastUser(messages), nil
		}}
		images = newImageServer()
		DeferCleanup(images.Close)
		provider = &stubMedia{imageURL: images.URL + "/img.png"}

		sys := config.DefaultSystemConfig()
		sys.LLMTimeoutMs = 200
		registry := tools.NewRegistry()
		registry.MustRegister(tools.NewWebSearch(stubSearcher{}))
		engine := agent.NewEngine(client, registry, session.NewStore(session.Options{}), sys, "")

		baseURL = "http://api.test"
		files, err := media.NewStore(GinkgoT().TempDir(), baseURL, time.Second)
		Expect(err).NotTo(HaveOccurred())
		svc := gpt.NewService(client, provider, files, gpt.Options{MaxUploadBytes: 64})

		api = httptest.NewServer(server.New(server.Dependencies{Agent: engine, GPT: svc, MaxUploadBytes: 64}))
		DeferCleanup(api.Close)
	})

	Describe("middleware", func() {
		It("answers health checks with a request id", func() {
			resp := do(http.MethodGet, "/healthz", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(Equal("ok"))
			Expect(resp.Header.Get(server.RequestIDHeader)).To(HaveLen(36))
		})

		It("keeps a caller supplied request id", func() {
			resp := do(http.MethodGet, "/healthz", "", nil, server.RequestIDHeader, "abc-123")
			Expect(resp.Header.Get(server.RequestIDHeader)).To(Equal("abc-123"))
		})

		It("rejects unknown routes and wrong methods", func() {
			Expect(do(http.MethodGet, "/nope", "", nil).StatusCode).To(Equal(http.StatusNotFound))
			Expect(do(http.MethodGet, "/gpt/basic-prompt", "", nil).StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})

		It("turns a panic into a 500", func() {
			client.respond = func(context.Context, []llm.Message, []llm.ToolSpec) (string, error) {
				panic("provider exploded")
			}
			expectError(post("/gpt/basic-prompt", map[string]string{"prompt": "hi"}), http.StatusInternalServerError, "Internal")

			client.respond = func(_ context.Context, messages []llm.Message, _ []llm.ToolSpec) (string, error) {
				return "fine", nil
			}
			Expect(post("/gpt/basic-prompt", map[string]string{"prompt": "hi"}).StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("POST /sam-agent/developer-agent", func() {
		It("answers and counts the stored turns", func() {
			resp := post("/sam-agent/developer-agent", map[string]any{"prompt": "hola", "conversationId": "c1"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var out agent.Response
			decodeInto(resp, &out)
			Expect(out.Output).To(Equal("echo hola"))
			Expect(out.ConversationID).To(Equal("c1"))
			Expect(out.MessageCount).To(Equal(2))

			resp = post("/sam-agent/developer-agent", map[string]any{"prompt": "otra", "conversationId": "c1"})
			decodeInto(resp, &out)
			Expect(out.MessageCount).To(Equal(4))
		})

		It("sends prior turns of the same conversation only", func() {
			var seen [][]llm.Message
			client.respond = func(_ context.Context, messages []llm.Message, _ []llm.ToolSpec) (string, error) {
				seen = append(seen, messages)
				return "ok", nil
			}
			post("/sam-agent/developer-agent", map[string]any{"prompt": "uno", "conversationId": "a"})
			post("/sam-agent/developer-agent", map[string]any{"prompt": "dos", "conversationId": "b"})
			post("/sam-agent/developer-agent", map[string]any{"prompt": "tres", "conversationId": "a"})

			Expect(seen).To(HaveLen(3))
			Expect(seen[1]).To(HaveLen(2))
			Expect(seen[2]).To(HaveLen(4))
		})

		DescribeTable("maps failures to statuses",
			func(body map[string]any, respond func(context.Context, []llm.Message, []llm.ToolSpec) (string, error), status int, kind string) {
				if respond != nil {
					client.respond = respond
				}
				expectError(post("/sam-agent/developer-agent", body), status, kind)
			},
			Entry("blank prompt", map[string]any{"prompt": "  ", "conversationId": "c"}, nil, http.StatusBadRequest, "InvalidArgument"),
			Entry("missing conversation", map[string]any{"prompt": "hola"}, nil, http.StatusBadRequest, "InvalidArgument"),
			Entry("unknown tool", map[string]any{"prompt": "hola", "conversationId": "c", "tools": []string{"shell"}}, nil, http.StatusBadRequest, "UnknownTool"),
			Entry("model timeout", map[string]any{"prompt": "hola", "conversationId": "c"},
				func(ctx context.Context, _ []llm.Message, _ []llm.ToolSpec) (string, error) {
					<-ctx.Done()
					return "", ctx.Err()
				}, http.StatusGatewayTimeout, "Timeout"),
			Entry("upstream failure", map[string]any{"prompt": "hola", "conversationId": "c"},
				func(context.Context, []llm.Message, []llm.ToolSpec) (string, error) {
					return "", errors.New("503 from provider")
				}, http.StatusInternalServerError, "AgentExecutionFailed"),
		)

		It("rejects malformed JSON", func() {
			resp := do(http.MethodPost, "/sam-agent/developer-agent", "application/json", strings.NewReader("{nope"))
			expectError(resp, http.StatusBadRequest, "InvalidInput")
		})
	})

	Describe("text use cases", func() {
		It("checks orthography", func() {
			client.respond = func(context.Context, []llm.Message, []llm.ToolSpec) (string, error) {
				return `{"userScore": 90, "errors": [], "message": "Bien"}`, nil
			}
			resp := post("/gpt/orthography-check", map[string]string{"prompt": "hola mundo"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var out gpt.OrthographyResult
			decodeInto(resp, &out)
			Expect(out.UserScore).To(BeNumerically("==", 90))
			Expect(out.Message).To(Equal("Bien"))
		})

		It("returns the basic prompt answer as text", func() {
			resp := post("/gpt/basic-prompt", map[string]string{"prompt": "hola"})
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/plain"))
			Expect(readBody(resp)).To(Equal("echo hola"))
		})

		It("streams pros and cons", func() {
			client.respond = func(context.Context, []llm.Message, []llm.ToolSpec) (string, error) {
				return "## Pros\n- fast and simple", nil
			}
			resp := post("/gpt/pros-cons-discusser-stream", map[string]string{"prompt": "go vs rust"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(resp)).To(Equal("## Pros\n- fast and simple"))
		})

		It("validates before streaming", func() {
			expectError(post("/gpt/pros-cons-discusser-stream", map[string]string{"prompt": ""}), http.StatusBadRequest, "InvalidInput")
		})

		It("translates and requires a language", func() {
			resp := post("/gpt/translate", map[string]string{"prompt": "hello", "lang": "es"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var out gpt.TranslateResult
			decodeInto(resp, &out)
			Expect(out.Message).NotTo(BeEmpty())

			expectError(post("/gpt/translate", map[string]string{"prompt": "hello"}), http.StatusBadRequest, "InvalidInput")
		})

		It("keeps javascript developer chats apart", func() {
			Expect(readBody(post("/gpt/javascript-developer", map[string]string{"prompt": "uno", "conversationId": "js"}))).To(Equal("echo uno"))
			Expect(readBody(post("/gpt/javascript-developer", map[string]string{"prompt": "dos", "conversationId": "js"}))).To(Equal("echo dos"))
			expectError(post("/gpt/javascript-developer", map[string]string{"prompt": "tres"}), http.StatusBadRequest, "InvalidInput")
		})

		It("improves a resume", func() {
			resp := post("/gpt/improve-resume", map[string]string{"cv": "my cv", "goal": "backend job"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var out gpt.ResumeResponse
			decodeInto(resp, &out)
			Expect(out.ImprovedCV).To(Equal("better cv"))
			Expect(out.TokensUsed).To(Equal(42))

			expectError(post("/gpt/improve-resume", map[string]string{"cv": "my cv"}), http.StatusBadRequest, "InvalidInput")
		})
	})

	Describe("audio", func() {
		It("synthesizes speech and serves it again by id", func() {
			resp := post("/gpt/text-to-audio", map[string]string{"prompt": "hola", "voice": "alloy"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("audio/mp3"))
			Expect(readBody(resp)).To(Equal("ID3 fake audio"))

			id := resp.Header.Get("X-File-ID")
			Expect(id).NotTo(BeEmpty())
			again := do(http.MethodGet, "/gpt/text-to-audio/"+id, "", nil)
			Expect(again.StatusCode).To(Equal(http.StatusOK))
			Expect(readBody(again)).To(Equal("ID3 fake audio"))

			expectError(do(http.MethodGet, "/gpt/text-to-audio/missing", "", nil), http.StatusNotFound, "NotFound")
		})

		upload := func(filename, mimeType, content string) *http.Response {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			Expect(mw.WriteField("prompt", "transcribe")).To(Succeed())
			if filename != "" {
				h := make(textproto.MIMEHeader)
				h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
				h.Set("Content-Type", mimeType)
				part, err := mw.CreatePart(h)
				Expect(err).NotTo(HaveOccurred())
				_, err = part.Write([]byte(content))
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(mw.Close()).To(Succeed())
			return do(http.MethodPost, "/gpt/audio-to-text", mw.FormDataContentType(), &buf)
		}

		It("transcribes an uploaded audio file", func() {
			resp := upload("voice.mp3", "audio/mpeg", "ID3 words")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var out gpt.Transcription
			decodeInto(resp, &out)
			Expect(out.Text).To(Equal("heard ID3 words"))
		})

		It("rejects missing, foreign and oversized uploads", func() {
			expectError(upload("", "", ""), http.StatusBadRequest, "InvalidInput")
			expectError(upload("doc.pdf", "application/pdf", "%PDF"), http.StatusUnsupportedMediaType, "UnsupportedMedia")
			expectError(upload("long.mp3", "audio/mpeg", strings.Repeat("a", 100)), http.StatusBadRequest, "FileTooLarge")
		})
	})

	Describe("images", func() {
		It("generates an image and serves the stored copy", func() {
			resp := post("/gpt/image-generation", map[string]string{"prompt": "a cat"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var out gpt.ImageResponse
			decodeInto(resp, &out)
			Expect(out.OpenAIURL).To(Equal(provider.imageURL))
			Expect(out.RevisedPrompt).To(Equal("revised"))
			Expect(out.URL).To(HavePrefix(baseURL + media.ImageRoute))

			name := strings.TrimPrefix(out.URL, baseURL+media.ImageRoute)
			file := do(http.MethodGet, media.ImageRoute+name, "", nil)
			Expect(file.StatusCode).To(Equal(http.StatusOK))
			Expect(file.Header.Get("Content-Type")).To(Equal("image/png"))

			expectError(do(http.MethodGet, media.ImageRoute+"missing.png", "", nil), http.StatusNotFound, "NotFound")
		})

		It("creates a variation", func() {
			resp := post("/gpt/image-variation", map[string]string{"baseImage": images.URL + "/base.png"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var out gpt.ImageResponse
			decodeInto(resp, &out)
			Expect(out.URL).To(HavePrefix(baseURL + media.ImageRoute))

			expectError(post("/gpt/image-variation", map[string]string{}), http.StatusBadRequest, "InvalidInput")
		})

		It("requires a prompt", func() {
			expectError(post("/gpt/image-generation", map[string]string{}), http.StatusBadRequest, "InvalidInput")
		})
	})
})
