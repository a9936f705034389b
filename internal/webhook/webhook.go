// Package webhook delivers the best-effort session-completion notification
// (§6.6). Delivery failures are logged and swallowed — never retried, never
// propagated to the caller.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/screenverify/engine/internal/codec"
	"github.com/screenverify/engine/internal/trust"
)

// Timeout is the webhook POST's request timeout (§6.6).
const Timeout = 10 * time.Second

// Payload is the `session.completed` event body (§6.6).
type Payload struct {
	Event         string                     `json:"event"`
	SessionID     string                     `json:"sessionId"`
	Platform      string                     `json:"platform"`
	ExtractedData []codec.ExtractedDataWire  `json:"extractedData"`
	CompletedAt   string                     `json:"completedAt"`
	Trust         trust.Result               `json:"trust"`
}

// Notifier POSTs the completion payload to a configured URL, signing the
// body with a shared secret when one is configured.
type Notifier struct {
	url    string
	secret string
	client *http.Client
}

// NewNotifier builds a Notifier. url may be empty, in which case Notify is
// a no-op (no webhook configured). secret may be empty, in which case the
// request is sent unsigned.
func NewNotifier(url, secret string) *Notifier {
	return &Notifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: Timeout},
	}
}

// Notify sends the completion payload, best-effort. It never returns an
// error — failures are logged (§6.6, §7: "webhook failure: logged,
// swallowed, never retried").
func (n *Notifier) Notify(ctx context.Context, sessionID, platform string, extractedData []codec.ExtractedDataWire, completedAt time.Time, result trust.Result) {
	if n == nil || n.url == "" {
		return
	}

	body, err := json.Marshal(Payload{
		Event:         "session.completed",
		SessionID:     sessionID,
		Platform:      platform,
		ExtractedData: extractedData,
		CompletedAt:   completedAt.UTC().Format(time.RFC3339),
		Trust:         result,
	})
	if err != nil {
		log.Printf("webhook: encode payload for session %s: %v", sessionID, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		log.Printf("webhook: build request for session %s: %v", sessionID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set("X-Webhook-Signature", sign(n.secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		log.Printf("webhook: deliver session %s: %v", sessionID, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("webhook: session %s: remote returned status %d", sessionID, resp.StatusCode)
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
