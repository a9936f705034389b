package codec

import "encoding/json"

// Outbound message type discriminators (§6.1).
const (
	OutConnected    = "connected"
	OutAnalyzing    = "analyzing"
	OutAnalysis     = "analysis"
	OutStepComplete = "stepComplete"
	OutCompleted    = "completed"
	OutAudio        = "audio"
	OutInstruction  = "instruction"
	OutError        = "error"
	OutPong         = "pong"
	OutChallenge    = "challenge"
)

// Connected is the connection-open acknowledgment (§4.1 step 5).
func Connected(sessionID string, currentStep, totalSteps int, instruction string) json.RawMessage {
	return marshal(struct {
		Type        string `json:"type"`
		SessionID   string `json:"sessionId"`
		CurrentStep int    `json:"currentStep"`
		TotalSteps  int    `json:"totalSteps"`
		Instruction string `json:"instruction"`
	}{OutConnected, sessionID, currentStep, totalSteps, instruction})
}

// Analyzing announces that a frame was accepted and is being analyzed
// (§4.2 step 5).
func Analyzing() json.RawMessage {
	return marshal(struct {
		Type string `json:"type"`
	}{OutAnalyzing})
}

// ExtractedDataWire is one (label, value) pair as it appears on the wire.
type ExtractedDataWire struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Analysis reports one frame's verdict (§4.2 step 9). urlVerified is
// omitted entirely when the step defines no expected host.
func Analysis(matchesSuccess bool, confidence float64, extractedData []ExtractedDataWire, urlVerified *bool) json.RawMessage {
	return marshal(struct {
		Type           string              `json:"type"`
		MatchesSuccess bool                `json:"matchesSuccess"`
		Confidence     float64             `json:"confidence"`
		ExtractedData  []ExtractedDataWire `json:"extractedData"`
		URLVerified    *bool               `json:"urlVerified,omitempty"`
	}{OutAnalysis, matchesSuccess, confidence, extractedData, urlVerified})
}

// StepComplete announces advancement to the next step (§4.4 step 6).
func StepComplete(currentStep, totalSteps int, nextInstruction string) json.RawMessage {
	return marshal(struct {
		Type            string `json:"type"`
		CurrentStep     int    `json:"currentStep"`
		TotalSteps      int    `json:"totalSteps"`
		NextInstruction string `json:"nextInstruction"`
	}{OutStepComplete, currentStep, totalSteps, nextInstruction})
}

// Completed announces session completion (§4.4 step 6).
func Completed(message string, extractedData []ExtractedDataWire) json.RawMessage {
	return marshal(struct {
		Type          string              `json:"type"`
		Message       string              `json:"message"`
		ExtractedData []ExtractedDataWire `json:"extractedData"`
	}{OutCompleted, message, extractedData})
}

// Audio carries spoken guidance as base64 audio (§4.5).
func Audio(text, audioData string) json.RawMessage {
	return marshal(struct {
		Type      string `json:"type"`
		Text      string `json:"text"`
		AudioData string `json:"audioData"`
	}{OutAudio, text, audioData})
}

// Instruction is the text-only TTS fallback (§4.5, §7).
func Instruction(text string) json.RawMessage {
	return marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{OutInstruction, text})
}

// Error is the uniform client-facing failure contract (§7).
func Error(message string) json.RawMessage {
	return marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{OutError, message})
}

// Pong answers a ping (§4.8).
func Pong() json.RawMessage {
	return marshal(struct {
		Type string `json:"type"`
	}{OutPong})
}

// Challenge announces an issued interaction challenge (§4.4 step 4, §4.6).
func Challenge(challengeID, instruction string, timeoutMs int64) json.RawMessage {
	return marshal(struct {
		Type        string `json:"type"`
		ChallengeID string `json:"challengeId"`
		Instruction string `json:"instruction"`
		TimeoutMs   int64  `json:"timeoutMs"`
	}{OutChallenge, challengeID, instruction, timeoutMs})
}

func marshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Every outbound payload above is a fixed, JSON-safe shape; a
		// marshal error here means a programming error, not bad input.
		panic(err)
	}
	return data
}
