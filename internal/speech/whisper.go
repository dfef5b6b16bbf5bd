package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// WhisperClient submits sealed utterances to a Whisper-style
// speech-to-text endpoint as multipart form payloads.
type WhisperClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewWhisperClient(baseURL, apiKey, model string) *WhisperClient {
	if strings.TrimSpace(model) == "" {
		model = "whisper-1"
	}
	return &WhisperClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   model,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (c *WhisperClient) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", &TranscriptionError{Err: fmt.Errorf("build form: %w", err)}
	}
	if _, err := part.Write(wav); err != nil {
		return "", &TranscriptionError{Err: fmt.Errorf("write audio: %w", err)}
	}
	if err := form.WriteField("model", c.model); err != nil {
		return "", &TranscriptionError{Err: err}
	}
	if language != "" {
		if err := form.WriteField("language", language); err != nil {
			return "", &TranscriptionError{Err: err}
		}
	}
	if err := form.WriteField("response_format", "json"); err != nil {
		return "", &TranscriptionError{Err: err}
	}
	if err := form.Close(); err != nil {
		return "", &TranscriptionError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/transcriptions", &body)
	if err != nil {
		return "", &TranscriptionError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.client.Do(req)
	if err != nil {
		return "", &TranscriptionError{Err: fmt.Errorf("send request: %w", err)}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", &TranscriptionError{Status: res.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", &TranscriptionError{Status: res.StatusCode, Err: fmt.Errorf("%s", raw)}
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &TranscriptionError{Status: res.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	return parsed.Text, nil
}
