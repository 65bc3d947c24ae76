// Package transcribe converts uploaded audio into text.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"rag-chatbot/internal/errors"
	"rag-chatbot/internal/models"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio models.Audio) (string, error)
}

var (
	_ Transcriber = (*Whisper)(nil)
	_ Transcriber = (*AzureSpeech)(nil)
)

// Whisper uses the OpenAI audio transcription endpoint.
type Whisper struct {
	client openai.Client
	model  string
}

func NewWhisper(apiKey, model string, opts ...option.RequestOption) *Whisper {
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	return &Whisper{
		client: openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...),
		model:  model,
	}
}

func (w *Whisper) Transcribe(ctx context.Context, audio models.Audio) (string, error) {
	resp, err := w.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(audio.Data, audio.Filename, audio.ContentType),
		Model: openai.AudioModel(w.model),
	})
	if err != nil {
		return "", errors.Backend("openai transcription", err)
	}
	return resp.Text, nil
}

// AzureSpeech uses the Speech service short audio REST API.
type AzureSpeech struct {
	endpoint string
	key      string
	language string
	client   *http.Client
}

func NewAzureSpeech(endpoint, key, language string, timeout time.Duration) *AzureSpeech {
	if language == "" {
		language = "en-US"
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &AzureSpeech{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		key:      key,
		language: language,
		client:   &http.Client{Timeout: timeout},
	}
}

type recognitionResult struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
}

// Transcribe returns "" without error when no speech was recognized.
func (a *AzureSpeech) Transcribe(ctx context.Context, audio models.Audio) (string, error) {
	data, err := io.ReadAll(audio.Data)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}

	u := a.endpoint + "/speech/recognition/conversation/cognitiveservices/v1?language=" + url.QueryEscape(a.language)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	contentType := audio.ContentType
	if contentType == "" {
		contentType = "audio/wav"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", a.key)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", errors.Backend("azure speech", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Backend("azure speech", fmt.Errorf("transcription failed: %s", resp.Status))
	}

	var result recognitionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Backend("azure speech", fmt.Errorf("decode response: %w", err))
	}

	switch result.RecognitionStatus {
	case "Success":
		return result.DisplayText, nil
	case "NoMatch", "InitialSilenceTimeout", "BabbleTimeout":
		return "", nil
	default:
		return "", errors.Backend("azure speech", fmt.Errorf("recognition status %s", result.RecognitionStatus))
	}
}
