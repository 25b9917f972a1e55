package capture

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRecording  = errors.New("capture: recording already in progress")
	ErrNoChannels        = errors.New("capture: no channel could be started")
	ErrNoVideoDevice     = errors.New("capture: no camera selected")
	ErrRecorderInactive  = errors.New("capture: recorder is not running")
	ErrUnsupportedSource = errors.New("capture: track cannot be recorded")
)

// RecorderFault reports a native recorder failure mid-capture. Partial
// chunks of the faulted channel are discarded.
type RecorderFault struct {
	Channel Channel
	Err     error
}

func (f *RecorderFault) Error() string {
	return fmt.Sprintf("%s recorder fault: %v", f.Channel, f.Err)
}

func (f *RecorderFault) Unwrap() error { return f.Err }
