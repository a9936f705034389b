// Package tts defines the text-to-speech port (§6.3): the pluggable
// interface the engine calls to turn spoken guidance into audio, with a
// distinguishable failure mode so the caller can fall back to a text-only
// instruction instead of silently dropping guidance.
package tts

import (
	"context"
	"errors"
	"strings"
)

// Port is the pluggable TTS boundary (§6.3). Speak returns base64-encoded
// audio bytes.
type Port interface {
	Speak(ctx context.Context, text string) (string, error)
}

// ErrProviderFailed distinguishes a provider-side failure from a
// programming error, so callers know to fall back to a text-only
// instruction{} message rather than retry or propagate.
var ErrProviderFailed = errors.New("tts: provider failed")

// EscapeSSML escapes the characters SSML (and XML generally) requires
// escaped before embedding arbitrary guidance text in markup (§6.3).
func EscapeSSML(text string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(text)
}
