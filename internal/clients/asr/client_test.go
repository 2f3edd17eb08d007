package asr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestTranscribeFileMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model field = %q", got)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file part: %v", err)
		} else {
			f.Close()
			if hdr.Filename != "seg.m4a" {
				t.Errorf("filename = %s", hdr.Filename)
			}
		}
		json.NewEncoder(w).Encode(Transcript{
			Text:     "hello world",
			Language: "en",
			Segments: []Segment{{Start: 0, End: 1.5, Text: "hello world"}},
		})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "seg.m4a")
	if err := os.WriteFile(path, []byte("fake audio"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c := NewClient(testLogger(t), Config{APIBase: srv.URL + "/v1", Model: "whisper-1"})
	got, err := c.TranscribeFile(context.Background(), path)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got.Text != "hello world" || got.Language != "en" {
		t.Fatalf("transcript = %+v", got)
	}
	if len(got.Segments) != 1 || got.Segments[0].End != 1.5 {
		t.Fatalf("segments = %+v", got.Segments)
	}
}

func TestTranscribeURLDownloadsFirst(t *testing.T) {
	audio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake audio bytes"))
	}))
	defer audio.Close()

	var gotSize int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		_, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file part: %v", err)
		} else {
			gotSize = hdr.Size
		}
		json.NewEncoder(w).Encode(Transcript{Text: "ok"})
	}))
	defer srv.Close()

	c := NewClient(testLogger(t), Config{
		APIBase: srv.URL,
		Model:   "whisper-1",
		TmpDir:  t.TempDir(),
	})
	got, err := c.TranscribeURL(context.Background(), audio.URL+"/slices/seg_0000.m4a")
	if err != nil {
		t.Fatalf("transcribe url: %v", err)
	}
	if got.Text != "ok" {
		t.Fatalf("transcript = %+v", got)
	}
	if gotSize != int64(len("fake audio bytes")) {
		t.Fatalf("uploaded size = %d", gotSize)
	}
}

func TestTranscribeURLRequiresURL(t *testing.T) {
	c := NewClient(testLogger(t), Config{APIBase: "http://unused", TmpDir: t.TempDir()})
	if _, err := c.TranscribeURL(context.Background(), ""); err == nil {
		t.Fatal("empty input_url must fail")
	}
}

func TestTranscribeUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "seg.m4a")
	os.WriteFile(path, []byte("x"), 0o644)

	c := NewClient(testLogger(t), Config{APIBase: srv.URL, Model: "whisper-1"})
	if _, err := c.TranscribeFile(context.Background(), path); err == nil {
		t.Fatal("5xx must surface as error")
	}
}
