package upload

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyRecording = errors.New("recording has no data")
	ErrNoStore        = errors.New("no durable store configured")
	ErrNoRegistrar    = errors.New("no ingest registrar configured")
)

// Sink names.
const (
	SinkDurable = "durable"
	SinkIngest  = "ingest"
)

// SinkError is the failure of one sink for one recording. Key is the object
// key for the durable sink and the record ID for the ingest sink.
type SinkError struct {
	Sink string
	Key  string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("upload %s sink (%s): %v", e.Sink, e.Key, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
