package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

const systemPrompt = `You are a screen-verification assistant. You will be shown one screenshot from a user's screen-capture session along with the current step's instruction and success criterion. Decide whether the screenshot satisfies the success criterion, extract any requested fields, and respond with a single JSON object only — no prose before or after it — with these keys: description (string), detectedElements (array of strings), matchesSuccessCriteria (bool), confidence (number 0 to 1), suggestedAction (string, only when matchesSuccessCriteria is false), extractedData (array of {label, value}), urlVerified (bool or null), visualContinuity (bool or null).`

// AnthropicProvider is the default vision Port, backed by the Anthropic
// Messages API with an image content block.
type AnthropicProvider struct {
	client anthropic.Client
	model  string

	// sendMessage is overridable in tests so Analyze's parsing/normalization
	// logic can be exercised without a live API call.
	sendMessage func(ctx context.Context, req Request) (string, error)
}

// NewAnthropicProvider builds a provider using the given model identifier
// (e.g. "claude-3-5-sonnet-20241022"). It reads credentials the same way
// the SDK's client does by default (ANTHROPIC_API_KEY).
func NewAnthropicProvider(model string) *AnthropicProvider {
	p := &AnthropicProvider{
		client: anthropic.NewClient(),
		model:  model,
	}
	p.sendMessage = p.callModel
	return p
}

func (p *AnthropicProvider) Analyze(ctx context.Context, req Request) (*Analysis, error) {
	text, err := p.sendMessage(ctx, req)
	if err != nil {
		log.Printf("vision: anthropic call failed: %v", err)
		return SafeDefault(), nil
	}

	analysis, err := parseAnalysis(text)
	if err != nil {
		log.Printf("vision: anthropic response did not parse: %v", err)
		return SafeDefault(), nil
	}
	analysis = Normalize(analysis)
	if req.ExpectedHost == "" {
		analysis.URLVerified = nil
	}
	if req.PreviousFrameDescription == "" {
		analysis.VisualContinuity = nil
	}
	return analysis, nil
}

func (p *AnthropicProvider) callModel(ctx context.Context, req Request) (string, error) {
	prompt := buildPrompt(req)

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64("image/png", req.ImageBase64),
				anthropic.NewTextBlock(prompt),
			),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text block in response")
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instruction: %s\n", req.Instruction)
	fmt.Fprintf(&b, "Success criterion: %s\n", req.SuccessCriteria)
	if req.ExpectedHost != "" {
		fmt.Fprintf(&b, "Expected host: %s (set urlVerified true/false accordingly)\n", req.ExpectedHost)
	}
	if req.PreviousFrameDescription != "" {
		fmt.Fprintf(&b, "Previous frame description: %s (set visualContinuity true if this frame is a plausible continuation, false if it looks discontinuous)\n", req.PreviousFrameDescription)
	}
	if len(req.ExtractionSchema) > 0 {
		b.WriteString("Fields to extract:\n")
		for _, f := range req.ExtractionSchema {
			fmt.Fprintf(&b, "- %s: %s\n", f.Name, f.Description)
		}
	}
	return b.String()
}

func parseAnalysis(text string) (*Analysis, error) {
	text = extractJSONObject(text)
	var a Analysis
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		return nil, fmt.Errorf("parse analysis json: %w", err)
	}
	return &a, nil
}

// extractJSONObject trims any stray prose the model emitted around the
// JSON object, in case it didn't honor "JSON only" exactly.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end < start {
		return text
	}
	return text[start : end+1]
}
