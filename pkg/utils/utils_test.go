package utils_test

import (
	"testing"

	"gptbridge/pkg/utils"
)

func TestGenerateID(t *testing.T) {
	seen := map[string]bool{}
	for range 100 {
		id := utils.GenerateID()
		if len(id) != 24 {
			t.Fatalf("len(%q) = %d", id, len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestDetectMimeAndExt(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		wantMime string
		wantExt  string
	}{
		{"empty", nil, "application/octet-stream", ".bin"},
		{"text drops charset", []byte("hello world"), "text/plain", ""},
		{"png", []byte("\x89PNG\r\n\x1a\n0000"), "image/png", ".png"},
		{"mp3", []byte("ID3\x03\x00\x00\x00"), "audio/mpeg", ".mp3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mime, ext := utils.DetectMimeAndExt(tt.data)
			if mime != tt.wantMime {
				t.Errorf("mime = %q, want %q", mime, tt.wantMime)
			}
			if tt.wantExt != "" && ext != tt.wantExt {
				t.Errorf("ext = %q, want %q", ext, tt.wantExt)
			}
		})
	}
}

func TestExtForMime(t *testing.T) {
	for mime, want := range map[string]string{
		"audio/x-wav":   ".wav",
		"audio/webm":    ".webm",
		"audio/x-m4a":   ".m4a",
		"nothing/known": ".bin",
	} {
		if got := utils.ExtForMime(mime); got != want {
			t.Errorf("ExtForMime(%q) = %q, want %q", mime, got, want)
		}
	}
}
