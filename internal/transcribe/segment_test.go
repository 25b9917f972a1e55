package transcribe

import (
	"testing"
	"time"
)

func intPtr(i int) *int { return &i }

func TestGroupWordsBySpeaker(t *testing.T) {
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	words := []Word{
		{Speaker: intPtr(0), PunctuatedWord: "I", Start: 0.0, End: 0.2},
		{Speaker: intPtr(0), PunctuatedWord: "led", Start: 0.2, End: 0.5},
		{Speaker: intPtr(0), PunctuatedWord: "migrations.", Start: 0.5, End: 1.0},
		{Speaker: intPtr(1), PunctuatedWord: "Go", Start: 1.2, End: 1.5},
		{Speaker: intPtr(1), PunctuatedWord: "on.", Start: 1.5, End: 2.0},
		{Speaker: intPtr(0), PunctuatedWord: "Sure.", Start: 2.2, End: 2.5},
	}

	segments := GroupWordsBySpeaker(words, now)

	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segments))
	}
	if segments[0].Speaker != 0 || segments[0].Text != "I led migrations." || segments[0].EndTime != 1.0 {
		t.Errorf("segment 0: got %+v", segments[0])
	}
	if segments[1].Speaker != 1 || segments[1].Text != "Go on." || segments[1].StartTime != 1.2 {
		t.Errorf("segment 1: got %+v", segments[1])
	}
	if segments[2].Speaker != 0 || segments[2].Text != "Sure." {
		t.Errorf("segment 2: got %+v", segments[2])
	}
	for i, seg := range segments {
		if !seg.Timestamp.Equal(now) {
			t.Errorf("segment %d: expected timestamp %v, got %v", i, now, seg.Timestamp)
		}
	}
}

func TestGroupWordsNilSpeaker(t *testing.T) {
	segments := GroupWordsBySpeaker([]Word{{PunctuatedWord: "Hello", Start: 0.0, End: 0.5}}, time.Now())
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
	if segments[0].Speaker != -1 {
		t.Errorf("expected speaker -1 for nil, got %d", segments[0].Speaker)
	}
	if GroupWordsBySpeaker(nil, time.Now()) != nil {
		t.Error("expected nil for no words")
	}
}

func TestFormatSegmentMarkdown(t *testing.T) {
	seg := Segment{
		Speaker:   0,
		Text:      " I shipped the migration. ",
		Timestamp: time.Date(2026, 2, 26, 10, 32, 15, 0, time.Local),
	}
	if got, want := seg.FormatMarkdown(), "**[10:32:15] Candidate:** I shipped the migration."; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	seg.Speaker = 2
	if got, want := seg.FormatMarkdown(), "**[10:32:15] Speaker 2:** I shipped the migration."; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
