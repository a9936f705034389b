package engine

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/screenverify/engine/internal/codec"
	"github.com/screenverify/engine/internal/pipeline"
	"github.com/screenverify/engine/internal/session"
	"github.com/screenverify/engine/internal/ttsgate"
)

// HandleMessage dispatches one already-decoded, already-validated inbound
// message against a connection's live state (§4.1, §4.8), persisting the
// mutated state afterward. The caller (package ws) must not invoke this
// concurrently for the same Conn (§5).
func (e *Engine) HandleMessage(ctx context.Context, c *Conn, msg *codec.Message) []json.RawMessage {
	now := e.deps.Clock.Now()

	switch msg.Type {
	case codec.TypeFrame:
		return e.handleFrame(ctx, c, now, *msg.Frame)

	case codec.TypeLinkClicked:
		step := msg.LinkClicked.Step
		c.State.LinkClicked[step] = true
		c.State.LinkClickedAt = now
		c.State.LastSpoken = ""
		c.State.PendingAction = ""
		log.Printf("engine: session %s clicked link for step %d", c.SessionID, step)
		e.persistState(c)
		return nil

	case codec.TypeAudioComplete:
		return nil

	case codec.TypePing:
		return []json.RawMessage{codec.Pong()}

	case codec.TypeRequestHint:
		return e.handleRequestHint(ctx, c)

	case codec.TypeSkipStep:
		return e.handleSkipStep(ctx, c)

	case codec.TypeChallengeAck:
		log.Printf("engine: session %s acked challenge %s", c.SessionID, msg.ChallengeAck.ChallengeID)
		return nil

	case codec.TypeClientInfo:
		info := msg.ClientInfo
		c.State.Platform = info.Platform
		c.State.Trust.ClientPlatform = info.Platform
		c.State.Trust.DisplaySurface = info.DisplaySurface
		e.persistState(c)
		return nil

	default:
		return nil
	}
}

func (e *Engine) handleFrame(ctx context.Context, c *Conn, now time.Time, frame codec.Frame) []json.RawMessage {
	out := pipeline.ProcessFrame(ctx, c.State, c.Template, e.deps.Vision, e.deps.Source, e.deps.NewID, now, frame)
	if out.Dropped {
		return nil
	}

	outbound := out.Outbound

	if out.ScriptedSpeech != "" {
		outbound = append(outbound, e.speak(ctx, out.ScriptedSpeech)...)
	} else if out.GatedCandidate != "" {
		decision := ttsgate.Apply(c.State, out.GatedCandidate, now)
		if decision.Action == ttsgate.Speak {
			outbound = append(outbound, e.speak(ctx, decision.Text)...)
		}
	}

	var (
		trustJSON   json.RawMessage
		completedAt time.Time
	)
	if out.Completed && out.TrustResult != nil {
		completedAt = now
		if data, err := json.Marshal(out.TrustResult); err == nil {
			trustJSON = data
		}
		if e.deps.Webhook != nil {
			e.deps.Webhook.Notify(ctx, c.SessionID, c.State.Platform, wireExtracted(c), now, *out.TrustResult)
		}
	}

	e.persistState(c)
	e.persistMetadata(ctx, c, completedAt, trustJSON)

	return outbound
}

func (e *Engine) handleRequestHint(ctx context.Context, c *Conn) []json.RawMessage {
	step := c.Template.Steps[c.State.CurrentStep]
	if len(step.Hints) > 0 {
		hint := step.Hints[e.deps.Source.Intn(len(step.Hints))]
		return e.speak(ctx, "Here's a hint: "+hint)
	}
	return e.speak(ctx, "Try this: "+step.Instruction)
}

// handleSkipStep implements §4.8's operator/dev affordance: advance the
// step unconditionally, with no trust score and no webhook (skipping is not
// a verified completion).
func (e *Engine) handleSkipStep(ctx context.Context, c *Conn) []json.RawMessage {
	c.State.CurrentStep++
	c.State.ConsecutiveSuccesses = 0

	var outbound []json.RawMessage
	if c.State.CurrentStep >= c.State.TotalSteps {
		c.State.Status = session.Completed
		outbound = append(outbound, codec.Completed("You're all set — verification complete.", wireExtracted(c)))
	} else {
		next := c.Template.Steps[c.State.CurrentStep]
		outbound = append(outbound, codec.StepComplete(c.State.CurrentStep, c.State.TotalSteps, next.Instruction))
		outbound = append(outbound, e.speak(ctx, "Step complete. "+next.Instruction)...)
	}

	e.persistState(c)
	e.persistMetadata(ctx, c, time.Time{}, nil)
	return outbound
}

func wireExtracted(c *Conn) []codec.ExtractedDataWire {
	pairs := c.State.ExtractedData()
	out := make([]codec.ExtractedDataWire, len(pairs))
	for i, p := range pairs {
		out[i] = codec.ExtractedDataWire{Label: p.Label, Value: p.Value}
	}
	return out
}
