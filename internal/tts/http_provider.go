package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProvider speaks text through a third-party TTS HTTP endpoint (§6.3).
// No TTS-specific client library is available to ground this on, so it is
// built on net/http the way the teacher's own REST client is (see
// DESIGN.md).
type HTTPProvider struct {
	endpoint string
	apiKey   string
	voice    string
	client   *http.Client
}

// NewHTTPProvider targets a TTS endpoint that accepts {text, voice} as JSON
// and returns {audioBase64} as JSON.
func NewHTTPProvider(endpoint, apiKey, voice string) *HTTPProvider {
	return &HTTPProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		voice:    voice,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type speakRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type speakResponse struct {
	AudioBase64 string `json:"audioBase64"`
}

func (p *HTTPProvider) Speak(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(speakRequest{Text: EscapeSSML(text), Voice: p.voice})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrProviderFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrProviderFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrProviderFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrProviderFailed, err)
	}

	var out speakResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrProviderFailed, err)
	}
	if out.AudioBase64 == "" {
		return "", fmt.Errorf("%w: empty audio in response", ErrProviderFailed)
	}
	return out.AudioBase64, nil
}
