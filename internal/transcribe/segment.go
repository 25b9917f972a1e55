// Package transcribe turns interview audio into text: live captions of the
// candidate's microphone and one-shot transcription of uploaded clips.
package transcribe

import (
	"fmt"
	"strings"
	"time"
)

// CandidateSpeaker is the diarized speaker index of the local microphone.
const CandidateSpeaker = 0

type Word struct {
	Speaker        *int
	PunctuatedWord string
	Start          float64
	End            float64
}

// Segment is one finished caption line.
type Segment struct {
	Speaker   int       `json:"speaker"`
	Text      string    `json:"text"`
	StartTime float64   `json:"start_time"`
	EndTime   float64   `json:"end_time"`
	Timestamp time.Time `json:"timestamp"`
}

// GroupWordsBySpeaker merges consecutive words of the same speaker into
// segments stamped with now. Words without a speaker are attributed to -1.
func GroupWordsBySpeaker(words []Word, now time.Time) []Segment {
	if len(words) == 0 {
		return nil
	}

	var segments []Segment
	var current Segment
	for i, w := range words {
		speaker := -1
		if w.Speaker != nil {
			speaker = *w.Speaker
		}

		if i > 0 && speaker == current.Speaker {
			current.Text += " " + w.PunctuatedWord
			current.EndTime = w.End
			continue
		}
		if i > 0 {
			segments = append(segments, current)
		}
		current = Segment{
			Speaker:   speaker,
			Text:      w.PunctuatedWord,
			StartTime: w.Start,
			EndTime:   w.End,
			Timestamp: now,
		}
	}

	return append(segments, current)
}

// SpeakerLabel names a diarized speaker for display.
func SpeakerLabel(speaker int) string {
	switch speaker {
	case CandidateSpeaker:
		return "Candidate"
	case -1:
		return "Unknown"
	default:
		return fmt.Sprintf("Speaker %d", speaker)
	}
}

func (s Segment) FormatMarkdown() string {
	ts := s.Timestamp.Format("15:04:05")
	return fmt.Sprintf("**[%s] %s:** %s", ts, SpeakerLabel(s.Speaker), strings.TrimSpace(s.Text))
}
