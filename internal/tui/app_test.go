package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/reverie-voice/reverie/pkg/types"
)

func TestRenderTranscript_LabelsSpeakers(t *testing.T) {
	ts := types.Transcript{
		{Speaker: types.SpeakerUser, Text: "hello there", Timestamp: time.Now()},
		{Speaker: types.SpeakerAgent, Text: "hi, how can I help?", Timestamp: time.Now()},
	}

	out := renderTranscript(ts)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("rendered lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "you") || !strings.Contains(lines[0], "hello there") {
		t.Errorf("user line = %q, want speaker label and text", lines[0])
	}
	if !strings.Contains(lines[1], "agent") || !strings.Contains(lines[1], "hi, how can I help?") {
		t.Errorf("agent line = %q, want speaker label and text", lines[1])
	}
}

func TestRenderTranscript_Empty(t *testing.T) {
	if out := renderTranscript(nil); out != "" {
		t.Errorf("empty transcript rendered %q, want empty", out)
	}
}
