package upload

import (
	"fmt"
	"mime"
	"strings"
	"time"
)

// Metadata identifies the interview message a recording answers.
type Metadata struct {
	UserID    string `json:"userId"`
	CoachID   string `json:"coachId"`
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	AttemptID string `json:"attemptId,omitempty"`
	// RecordID is the ingest row the upload URL is scoped to. Defaults to
	// MessageID.
	RecordID string `json:"recordId,omitempty"`
}

func (m Metadata) recordID() string {
	if m.RecordID != "" {
		return m.RecordID
	}
	return m.MessageID
}

var extensions = map[string]string{
	"video/webm":      "webm",
	"audio/webm":      "webm",
	"audio/wav":       "wav",
	"audio/x-wav":     "wav",
	"audio/wave":      "wav",
	"audio/ogg":       "ogg",
	"video/ogg":       "ogv",
	"audio/mpeg":      "mp3",
	"audio/mp4":       "m4a",
	"video/mp4":       "mp4",
	"video/quicktime": "mov",
}

// Extension derives a file extension from a content type, ignoring codec
// parameters. Unknown types map to "bin".
func Extension(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	if ext, ok := extensions[mt]; ok {
		return ext
	}
	return "bin"
}

// ObjectKey builds user/coach/session/message/<unixMillis>.<ext>. The same
// inputs always produce the same key.
func ObjectKey(meta Metadata, contentType string, now time.Time) string {
	return fmt.Sprintf("%s/%s/%s/%s/%d.%s",
		keySegment(meta.UserID),
		keySegment(meta.CoachID),
		keySegment(meta.SessionID),
		keySegment(meta.MessageID),
		now.UnixMilli(),
		Extension(contentType),
	)
}

func keySegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "_", "\\", "_").Replace(s)
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return s
}
