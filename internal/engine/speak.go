package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/screenverify/engine/internal/codec"
	"github.com/screenverify/engine/internal/tts"
)

// speak invokes the TTS port for a scripted emission — connection open,
// step transitions, completion, challenge issuance — all of which bypass
// the utterance gate (§4.5). On success it returns an audio{} message; on
// provider failure it downgrades to a text-only instruction{} (§6.3, §7).
func (e *Engine) speak(ctx context.Context, text string) []json.RawMessage {
	audio, err := e.deps.TTS.Speak(ctx, text)
	if err != nil {
		if !errors.Is(err, tts.ErrProviderFailed) {
			log.Printf("engine: unexpected TTS error: %v", err)
		}
		return []json.RawMessage{codec.Instruction(text)}
	}
	return []json.RawMessage{codec.Audio(text, audio)}
}
