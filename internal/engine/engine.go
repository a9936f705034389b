// Package engine owns the per-token session state machine (§4.1): the
// connection lifecycle, inbound message dispatch, persistence, and the
// wiring between the frame pipeline, the TTS gate, and the webhook
// notifier. It is the one place that holds a session's state across the
// lifetime of a connection — per §5, the engine's caller (package ws) is
// responsible for ensuring only one goroutine drives a given Conn at a time.
package engine

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/screenverify/engine/internal/clock"
	"github.com/screenverify/engine/internal/codec"
	"github.com/screenverify/engine/internal/consensus"
	"github.com/screenverify/engine/internal/dbrepo"
	"github.com/screenverify/engine/internal/engineerr"
	"github.com/screenverify/engine/internal/rng"
	"github.com/screenverify/engine/internal/session"
	"github.com/screenverify/engine/internal/tts"
	"github.com/screenverify/engine/internal/vision"
	"github.com/screenverify/engine/internal/webhook"
)

// Deps are the engine's external collaborators. All are required except
// Webhook, which degrades to a no-op when nil/unconfigured (§6.6).
type Deps struct {
	Sessions  dbrepo.SessionRepository
	Templates session.TemplateLoader
	Store     session.Store
	Vision    vision.Port
	TTS       tts.Port
	Webhook   *webhook.Notifier
	Source    rng.Source
	Clock     clock.Clock
	NewID     func() string
}

// Engine dispatches connection lifecycle and message-handling operations
// against a fixed set of Deps. It holds no per-session state itself — that
// lives in the Conn returned by Connect.
type Engine struct {
	deps Deps
}

func New(deps Deps) *Engine {
	return &Engine{deps: deps}
}

// Conn is one live connection's session state plus the template it is
// running against. The transport layer (package ws) owns exactly one Conn
// per WebSocket connection and must serialize calls into HandleMessage.
type Conn struct {
	Token     string
	SessionID string
	State     *session.State
	Template  *session.Template
}

// Connect implements §4.1 steps 1-6: load the session row and template,
// hydrate working state, persist it, and build the connection-open
// outbound messages (plus, on step 0, the scripted first instruction).
func (e *Engine) Connect(ctx context.Context, token string) (*Conn, []json.RawMessage, error) {
	row, err := e.deps.Sessions.GetByToken(ctx, token)
	if err != nil {
		return nil, nil, engineerr.ErrSessionNotFound
	}

	now := e.deps.Clock.Now()
	if row.Expired(now) {
		return nil, nil, engineerr.ErrSessionExpired
	}

	tmpl, err := e.deps.Templates.LoadTemplate(row.TemplateID)
	if err != nil {
		return nil, nil, engineerr.ErrTemplateMissing
	}

	step := row.CurrentStep
	if step < 0 {
		step = 0
	}
	if step >= len(tmpl.Steps) {
		step = len(tmpl.Steps) - 1
	}

	state := session.New(row.ID, token, tmpl.ID, tmpl.Platform, step, len(tmpl.Steps), now)
	rehydrateExtractedData(state, row.Metadata)

	if err := e.deps.Store.Set(token, state, session.DefaultTTL); err != nil {
		log.Printf("engine: persist hydrated state for session %s: %v", row.ID, err)
	}

	conn := &Conn{Token: token, SessionID: row.ID, State: state, Template: tmpl}

	instruction := tmpl.Steps[step].Instruction
	out := []json.RawMessage{codec.Connected(row.ID, step, len(tmpl.Steps), instruction)}

	if step == 0 {
		out = append(out, e.speak(ctx, instruction)...)
	}

	return conn, out, nil
}

// rehydrateExtractedData lifts only the committed extracted-data list from
// a session row's metadata blob; vote tallies and TTS memory are
// deliberately not carried across reconnects (§9 design note).
func rehydrateExtractedData(state *session.State, metadata json.RawMessage) {
	if len(metadata) == 0 {
		return
	}
	var meta dbrepo.SessionMetadata
	if err := json.Unmarshal(metadata, &meta); err != nil {
		return
	}
	for _, pair := range meta.ExtractedData {
		if _, exists := state.CommittedValues[pair.Label]; exists {
			continue
		}
		state.CommittedOrder = append(state.CommittedOrder, pair.Label)
		state.CommittedValues[pair.Label] = session.CommittedEntry{Value: pair.Value, Count: consensus.Threshold}
	}
}

// Close implements §4.1's close step: the rate-limit entry teardown is the
// transport layer's responsibility (it owns the limiter); the session-store
// entry is intentionally left in place for its own TTL to expire.
func (e *Engine) Close(token string) {}

// persistMetadata best-effort writes the committed extracted-data list back
// to the session row (§4.3 "Persistence"), together with completedAt and
// the trust result when completedAt is set, and the row's status and
// current step. It does not touch the session store; persistState writes
// the working state there.
func (e *Engine) persistMetadata(ctx context.Context, c *Conn, completedAt time.Time, trustJSON json.RawMessage) {
	meta := dbrepo.SessionMetadata{ExtractedData: c.State.ExtractedData()}
	if !completedAt.IsZero() {
		meta.CompletedAt = completedAt.UTC().Format(time.RFC3339)
		meta.Trust = trustJSON
	}
	data, err := json.Marshal(meta)
	if err != nil {
		log.Printf("engine: encode metadata for session %s: %v", c.SessionID, err)
		return
	}

	status := "waiting"
	if c.State.IsTerminal() {
		status = "completed"
	}
	if err := e.deps.Sessions.UpdateProgress(ctx, c.SessionID, c.State.CurrentStep, status, data, e.deps.Clock.Now()); err != nil {
		// §7: incremental writes retry on next mutation; terminal-completion
		// failures are logged but the client still sees `completed` because
		// the in-memory state already reflects it.
		log.Printf("engine: persist progress for session %s: %v", c.SessionID, err)
	}
}

func (e *Engine) persistState(c *Conn) {
	if err := e.deps.Store.Set(c.Token, c.State, session.DefaultTTL); err != nil {
		log.Printf("engine: persist session-store state for token %s: %v", c.Token, err)
	}
}
