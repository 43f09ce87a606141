package types

import (
	"testing"
	"time"
)

func TestSpeakerIsValid(t *testing.T) {
	if !SpeakerUser.IsValid() || !SpeakerAgent.IsValid() {
		t.Error("built-in speakers should be valid")
	}
	if Speaker("narrator").IsValid() {
		t.Error("unknown speaker should be invalid")
	}
	if Speaker("").IsValid() {
		t.Error("empty speaker should be invalid")
	}
}

func TestTranscriptText(t *testing.T) {
	now := time.Now()
	ts := Transcript{
		{Speaker: SpeakerUser, Text: "hello there", Timestamp: now},
		{Speaker: SpeakerAgent, Text: "hi! how can I help?", Timestamp: now},
		{Speaker: SpeakerUser, Text: "just testing", Timestamp: now},
	}

	want := "user: hello there\nagent: hi! how can I help?\nuser: just testing"
	if got := ts.Text(); got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestTranscriptTextEmpty(t *testing.T) {
	if got := (Transcript{}).Text(); got != "" {
		t.Errorf("empty transcript Text() = %q, want empty", got)
	}
	if got := (Transcript)(nil).Text(); got != "" {
		t.Errorf("nil transcript Text() = %q, want empty", got)
	}
}
