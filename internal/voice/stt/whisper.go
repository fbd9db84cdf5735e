package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/msto63/wake/pkg/core/fault"
)

// WhisperHTTP recognizes speech through a whisper-compatible HTTP server
type WhisperHTTP struct {
	baseURL    string
	language   string
	sampleRate int
	client     *http.Client
}

// NewWhisperHTTP creates a recognizer for the server at cfg.URL
func NewWhisperHTTP(cfg Config) *WhisperHTTP {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &WhisperHTTP{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		language:   cfg.Language,
		sampleRate: cfg.SampleRate,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Recognize posts the samples as a WAV body
func (w *WhisperHTTP) Recognize(ctx context.Context, samples []float32) (Result, error) {
	var body bytes.Buffer
	if err := WriteWAV(&body, samples, w.sampleRate); err != nil {
		return Result{}, fault.Wrap(err, "failed to encode WAV").WithCode(fault.CodeRecognizerTransient)
	}

	endpoint := w.baseURL + "/v1/audio/transcriptions"
	if w.language != "" {
		endpoint += "?" + url.Values{"language": {w.language}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return Result{}, &ServiceError{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := w.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, &ServiceError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, &ServiceError{
			Op:  fmt.Sprintf("status %d", resp.StatusCode),
			Err: fault.New(strings.TrimSpace(string(msg))).WithCode(fault.CodeRecognizerService),
		}
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fault.Newf("recognizer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))).
			WithCode(fault.CodeRecognizerTransient)
	}

	var decoded struct {
		Text       string   `json:"text"`
		Language   string   `json:"language"`
		Confidence *float32 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fault.Wrap(err, "failed to decode recognizer response").WithCode(fault.CodeRecognizerTransient)
	}

	text := strings.TrimSpace(decoded.Text)
	if text == "" {
		return Result{}, ErrNoMatch
	}

	result := Result{Text: text, Language: decoded.Language, Confidence: 0.9}
	if decoded.Confidence != nil {
		result.Confidence = *decoded.Confidence
	}
	if result.Language == "" {
		result.Language = w.language
	}
	return result, nil
}

// Close releases resources
func (w *WhisperHTTP) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

// Language returns the configured language tag
func (w *WhisperHTTP) Language() string {
	return w.language
}

// WriteWAV encodes mono float samples as a 16-bit PCM WAV stream
func WriteWAV(w io.Writer, samples []float32, sampleRate int) error {
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		}
		if s < -1 {
			s = -1
		}
		pcm[i] = int16(s * 32767)
	}

	const (
		channels      = 1
		bitsPerSample = 16
	)
	dataSize := uint32(len(pcm) * 2)

	header := []interface{}{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + dataSize),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(1),
		uint16(channels),
		uint32(sampleRate),
		uint32(sampleRate * channels * bitsPerSample / 8),
		uint16(channels * bitsPerSample / 8),
		uint16(bitsPerSample),
		[4]byte{'d', 'a', 't', 'a'},
		dataSize,
	}
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	return binary.Write(w, binary.LittleEndian, pcm)
}
