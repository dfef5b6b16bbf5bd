package speech

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWhisperClientTranscribe(t *testing.T) {
	var gotModel, gotLanguage string
	var gotAudio []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(4 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			buf := make([]byte, 512)
			n, _ := file.Read(buf)
			gotAudio = buf[:n]
			_ = file.Close()
		}
		_, _ = w.Write([]byte(`{"text":"hello there"}`))
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, "key", "whisper-1")
	text, err := c.Transcribe(context.Background(), encodeWAV([]byte{0, 1}, 16000), "en")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "hello there" {
		t.Fatalf("text = %q", text)
	}
	if gotModel != "whisper-1" || gotLanguage != "en" {
		t.Fatalf("form fields = %q/%q", gotModel, gotLanguage)
	}
	if len(gotAudio) != wavHeaderSize+2 {
		t.Fatalf("uploaded audio = %d bytes", len(gotAudio))
	}
}

func TestWhisperClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"quota"}`))
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, "key", "whisper-1")
	_, err := c.Transcribe(context.Background(), nil, "en")
	var te *TranscriptionError
	if !errors.As(err, &te) {
		t.Fatalf("Transcribe() error = %v, want *TranscriptionError", err)
	}
	if te.Status != http.StatusTooManyRequests {
		t.Fatalf("Status = %d, want 429", te.Status)
	}
}
