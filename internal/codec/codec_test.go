package codec

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeFrame(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"frame","imageData":"abc123","frameHash":"h1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Type != TypeFrame || msg.Frame == nil || msg.Frame.ImageData != "abc123" {
		t.Fatalf("got %+v", msg)
	}
}

func TestDecodeFrameMissingImageData(t *testing.T) {
	_, err := Decode([]byte(`{"type":"frame"}`))
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestDecodeFrameOversizeImageDataRejected(t *testing.T) {
	big := strings.Repeat("a", MaxImageDataBytes+1)
	_, err := Decode([]byte(`{"type":"frame","imageData":"` + big + `"}`))
	if err == nil {
		t.Fatalf("expected error for oversize imageData")
	}
	var invalidErr *ErrInvalidMessage
	if !errors.As(err, &invalidErr) {
		t.Fatalf("expected ErrInvalidMessage, got %T", err)
	}
}

func TestDecodeFrameAtExactCapIsAccepted(t *testing.T) {
	exact := strings.Repeat("a", MaxImageDataBytes)
	msg, err := Decode([]byte(`{"type":"frame","imageData":"` + exact + `"}`))
	if err != nil {
		t.Fatalf("expected exact-cap imageData to be accepted: %v", err)
	}
	if len(msg.Frame.ImageData) != MaxImageDataBytes {
		t.Fatalf("got length %d", len(msg.Frame.ImageData))
	}
}

func TestDecodeOversizeMessageRejectedPreParse(t *testing.T) {
	big := strings.Repeat("a", MaxMessageBytes+1)
	_, err := Decode([]byte(big))
	if err == nil {
		t.Fatalf("expected error for oversize message")
	}
}

func TestDecodeLinkClickedValidatesStepRange(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"linkClicked","step":5}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Decode([]byte(`{"type":"linkClicked","step":21}`)); err == nil {
		t.Fatalf("expected error for step out of range")
	}
	if _, err := Decode([]byte(`{"type":"linkClicked","step":-1}`)); err == nil {
		t.Fatalf("expected error for negative step")
	}
}

func TestDecodePingHasNoPayload(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"ping"}`))
	if err != nil || msg.Ping == nil {
		t.Fatalf("got %+v, err=%v", msg, err)
	}
}

func TestDecodeChallengeAckValidatesIDLength(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"challengeAck","challengeId":""}`)); err == nil {
		t.Fatalf("expected error for empty challengeId")
	}
	tooLong := `{"type":"challengeAck","challengeId":"` + strings.Repeat("x", 65) + `"}`
	if _, err := Decode([]byte(tooLong)); err == nil {
		t.Fatalf("expected error for challengeId > 64 chars")
	}
	if _, err := Decode([]byte(`{"type":"challengeAck","challengeId":"c1"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeClientInfoValidatesPlatform(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"clientInfo","platform":"web"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Decode([]byte(`{"type":"clientInfo","platform":"desktop"}`)); err == nil {
		t.Fatalf("expected error for unrecognized platform")
	}
}

func TestDecodeClientInfoValidatesDevicePixelRatioRange(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"clientInfo","platform":"web","devicePixelRatio":11}`)); err == nil {
		t.Fatalf("expected error for devicePixelRatio out of range")
	}
}

func TestDecodeUnrecognizedTypeRejected(t *testing.T) {
	_, err := Decode([]byte(`{"type":"bogus"}`))
	if err == nil {
		t.Fatalf("expected error for unrecognized type")
	}
}

func TestDecodeMalformedJSONRejected(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	if err == nil {
		t.Fatalf("expected error for malformed json")
	}
}

func TestOutboundHelpersProduceExpectedType(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"connected", Connected("s1", 0, 3, "do it"), OutConnected},
		{"analyzing", Analyzing(), OutAnalyzing},
		{"analysis", Analysis(true, 0.9, nil, nil), OutAnalysis},
		{"stepComplete", StepComplete(1, 3, "next"), OutStepComplete},
		{"completed", Completed("done", nil), OutCompleted},
		{"audio", Audio("hi", "YWJj"), OutAudio},
		{"instruction", Instruction("hi"), OutInstruction},
		{"error", Error("oops"), OutError},
		{"pong", Pong(), OutPong},
		{"challenge", Challenge("c1", "click here", 15000), OutChallenge},
	}
	for _, tc := range cases {
		if !strings.Contains(string(tc.data), `"type":"`+tc.want+`"`) {
			t.Errorf("%s: expected type %q in %s", tc.name, tc.want, tc.data)
		}
	}
}
