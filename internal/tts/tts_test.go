package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEscapeSSML(t *testing.T) {
	got := EscapeSSML(`Tom & Jerry's "great" <show>`)
	want := `Tom &amp; Jerry&apos;s &quot;great&quot; &lt;show&gt;`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestHTTPProviderSpeakSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req speakRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Text != "hello &amp; welcome" {
			t.Fatalf("expected escaped text, got %q", req.Text)
		}
		json.NewEncoder(w).Encode(speakResponse{AudioBase64: "YXVkaW8="})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "key", "alloy")
	audio, err := p.Speak(context.Background(), "hello & welcome")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if audio != "YXVkaW8=" {
		t.Fatalf("got %q", audio)
	}
}

func TestHTTPProviderSpeakFailureIsDistinguishable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", "")
	_, err := p.Speak(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrProviderFailed) {
		t.Fatalf("expected ErrProviderFailed, got %v", err)
	}
}

func TestHTTPProviderEmptyAudioIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(speakResponse{})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "", "")
	_, err := p.Speak(context.Background(), "hello")
	if !errors.Is(err, ErrProviderFailed) {
		t.Fatalf("expected ErrProviderFailed, got %v", err)
	}
}
