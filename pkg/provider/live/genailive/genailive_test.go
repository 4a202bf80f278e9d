package genailive

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/MrWong99/signbridge/pkg/provider/live"
)

func TestConnectConfig(t *testing.T) {
	t.Parallel()

	cc := connectConfig(live.SessionConfig{}.WithDefaults())
	if len(cc.ResponseModalities) != 1 || cc.ResponseModalities[0] != genai.ModalityAudio {
		t.Errorf("ResponseModalities = %v; want [AUDIO]", cc.ResponseModalities)
	}
	if cc.SpeechConfig == nil || cc.SpeechConfig.VoiceConfig == nil ||
		cc.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig == nil {
		t.Fatal("speech config missing")
	}
	if v := cc.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != "Puck" {
		t.Errorf("voice = %q; want Puck", v)
	}
	if cc.SystemInstruction == nil || len(cc.SystemInstruction.Parts) != 1 {
		t.Fatal("system instruction missing")
	}
	if got := cc.SystemInstruction.Parts[0].Text; got != live.DefaultInstructions {
		t.Errorf("instructions = %q", got)
	}
}

func TestConnectConfig_OmitsEmptyFields(t *testing.T) {
	t.Parallel()

	cc := connectConfig(live.SessionConfig{})
	if cc.SpeechConfig != nil {
		t.Error("SpeechConfig should be nil without a voice")
	}
	if cc.SystemInstruction != nil {
		t.Error("SystemInstruction should be nil without instructions")
	}
}

func TestClientConfig(t *testing.T) {
	t.Parallel()

	cc := New("key", WithBaseURL("http://localhost:1234")).clientConfig()
	if cc.Backend != genai.BackendGeminiAPI || cc.APIKey != "key" {
		t.Errorf("gemini config = %+v", cc)
	}
	if cc.HTTPOptions.BaseURL != "http://localhost:1234" {
		t.Errorf("BaseURL = %q", cc.HTTPOptions.BaseURL)
	}

	vc := New("key", WithVertexAI("proj", "europe-west4")).clientConfig()
	if vc.Backend != genai.BackendVertexAI || vc.Project != "proj" || vc.Location != "europe-west4" {
		t.Errorf("vertex config = %+v", vc)
	}
	if vc.APIKey != "" {
		t.Error("Vertex config should not carry an API key")
	}
}

func TestClassifyConnect(t *testing.T) {
	t.Parallel()

	bad := fmt.Errorf("dial: %w", websocket.ErrBadHandshake)
	if err := classifyConnect(context.Background(), bad); !errors.Is(err, live.ErrConnectionRejected) {
		t.Errorf("bad handshake → %v; want ErrConnectionRejected", err)
	}
	if err := classifyConnect(context.Background(), errors.New("dns")); !errors.Is(err, live.ErrTransport) {
		t.Errorf("network error → %v; want ErrTransport", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := classifyConnect(ctx, errors.New("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled → %v; want context.Canceled", err)
	}
}

func TestRaceDial_DeadlineBeatsHungDial(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	discarded := make(chan int, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	begin := time.Now()
	_, err := raceDial(ctx, func() (int, error) {
		<-release
		return 42, nil
	}, func(v int) { discarded <- v })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if waited := time.Since(begin); waited > time.Second {
		t.Errorf("returned after %v, want close to the deadline", waited)
	}

	close(release)
	select {
	case v := <-discarded:
		if v != 42 {
			t.Errorf("discarded %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("late dial result was not discarded")
	}
}

func TestRaceDial_ReturnsDialResult(t *testing.T) {
	t.Parallel()

	dialErr := errors.New("refused")
	discard := func(int) { t.Error("discard called for an in-time result") }

	if v, err := raceDial(context.Background(), func() (int, error) { return 7, nil }, discard); v != 7 || err != nil {
		t.Errorf("got (%d, %v), want (7, nil)", v, err)
	}
	if _, err := raceDial(context.Background(), func() (int, error) { return 0, dialErr }, discard); !errors.Is(err, dialErr) {
		t.Errorf("err = %v, want %v", err, dialErr)
	}
}

func TestClassifyReceive(t *testing.T) {
	t.Parallel()

	closed := &websocket.CloseError{Code: websocket.ClosePolicyViolation, Text: "API key not valid"}
	if err := classifyReceive(closed); !errors.Is(err, live.ErrConnectionRejected) {
		t.Errorf("close → %v; want ErrConnectionRejected", err)
	}
	if err := classifyReceive(errors.New("eof")); !errors.Is(err, live.ErrTransport) {
		t.Errorf("eof → %v; want ErrTransport", err)
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()
	caps := New("key").Capabilities()
	if caps.OutputSampleRate != 24000 || len(caps.Voices) == 0 {
		t.Errorf("caps = %+v", caps)
	}
}
