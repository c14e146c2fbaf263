// Package media stores generated audio, images and uploaded files on disk.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gptbridge/pkg/utils"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a requested file does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrUnsupportedMedia is returned for uploads outside the allow-list.
	ErrUnsupportedMedia = errors.New("unsupported media type")
	// ErrTooLarge is returned for uploads above the size limit.
	ErrTooLarge = errors.New("file too large")
)

// Sub-directories under Store.Dir.
const (
	AudiosDir  = "audios"
	ImagesDir  = "images"
	UploadsDir = "uploads"
)

// ImageRoute is the public path prefix for generated images.
const ImageRoute = "/gpt/image-generation/"

// AudioMimeTypes lists the accepted upload types for transcription.
var AudioMimeTypes = []string{
	"audio/mpeg",
	"audio/mp3",
	"audio/mp4",
	"audio/wav",
	"audio/m4a",
	"audio/aac",
	"audio/ogg",
	"audio/webm",
	"audio/flac",
	"audio/x-wav",
	"audio/x-m4a",
}

// Store keeps files under Dir and builds public links from BaseURL.
type Store struct {
	Dir     string
	BaseURL string
	Client  *http.Client
}

// NewStore creates the directory layout under dir.
func NewStore(dir, baseURL string, downloadTimeout time.Duration) (*Store, error) {
	for _, sub := range []string{AudiosDir, ImagesDir, UploadsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", sub, err)
		}
	}
	if downloadTimeout <= 0 {
		downloadTimeout = 10 * time.Second
	}
	return &Store{
		Dir:     dir,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: downloadTimeout},
	}, nil
}

func newName(ext string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String() + ext
}

// cleanName strips directories and rejects names that would escape the folder.
func cleanName(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return base, nil
}

func (s *Store) existing(sub, name string) (string, error) {
	p := filepath.Join(s.Dir, sub, name)
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p, nil
}

func (s *Store) write(sub, name string, r io.Reader) (string, error) {
	p := filepath.Join(s.Dir, sub, name)
	f, err := os.Create(p)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(p)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(p)
		return "", err
	}
	return p, nil
}

// SaveAudio writes an mp3 stream and returns its id and path.
func (s *Store) SaveAudio(r io.Reader) (id, path string, err error) {
	name := newName(".mp3")
	path, err = s.write(AudiosDir, name, r)
	if err != nil {
		return "", "", fmt.Errorf("save audio: %w", err)
	}
	return strings.TrimSuffix(name, ".mp3"), path, nil
}

// AudioPath resolves a saved audio by id, with or without extension.
func (s *Store) AudioPath(id string) (string, error) {
	name, err := cleanName(id)
	if err != nil {
		return "", err
	}
	name = strings.TrimSuffix(name, filepath.Ext(name)) + ".mp3"
	return s.existing(AudiosDir, name)
}

// SaveUpload stores an uploaded audio file after checking its size and type.
// mimeType is the declared type; when empty the content is sniffed.
func (s *Store) SaveUpload(r io.Reader, filename, mimeType string, size, limit int64) (string, error) {
	if limit > 0 && size > limit {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, size, limit)
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]

	if mimeType == "" {
		mimeType, _ = utils.DetectMimeAndExt(head)
	}
	mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	if !slices.Contains(AudioMimeTypes, mimeType) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMedia, mimeType)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = utils.ExtForMime(mimeType)
	}

	body := io.MultiReader(bytes.NewReader(head), r)
	if limit > 0 {
		body = io.LimitReader(body, limit+1)
	}
	path, err := s.write(UploadsDir, newName(ext), body)
	if err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	if info, err := os.Stat(path); err == nil && limit > 0 && info.Size() > limit {
		os.Remove(path)
		return "", fmt.Errorf("%w: limit %d", ErrTooLarge, limit)
	}
	return path, nil
}

// DownloadImageAsPNG fetches url and re-encodes it with ToPNG.
func (s *Store) DownloadImageAsPNG(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	return ToPNG(data)
}

// DecodeBase64ImageAsPNG decodes a base64 image, optionally a data URL, with ToPNG.
func DecodeBase64ImageAsPNG(data string) ([]byte, error) {
	if i := strings.Index(data, ";base64,"); i >= 0 {
		data = data[i+len(";base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 image: %v", ErrUnsupportedMedia, err)
	}
	return ToPNG(raw)
}

// ToPNG decodes a png, jpeg or gif image and re-encodes it as NRGBA PNG.
// Transparency survives the conversion.
func ToPNG(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMedia, err)
	}

	dst := image.NewNRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// SaveImage writes PNG bytes and returns the generated file name.
func (s *Store) SaveImage(png []byte) (string, error) {
	name := newName(".png")
	if _, err := s.write(ImagesDir, name, bytes.NewReader(png)); err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}
	return name, nil
}

// ImagePath resolves a generated image. Any extension is replaced by .png.
func (s *Store) ImagePath(name string) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	name = strings.TrimSuffix(name, filepath.Ext(name)) + ".png"
	return s.existing(ImagesDir, name)
}

// ImageURL returns the public link of a generated image.
func (s *Store) ImageURL(name string) string {
	return s.BaseURL + ImageRoute + name
}
