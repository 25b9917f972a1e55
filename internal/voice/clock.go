package voice

import "time"

// Clock is the time base of an audio graph. Now is measured from the moment
// the graph was created, the way an audio context's currentTime is.
type Clock interface {
	Now() time.Duration
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type wallClock struct {
	start time.Time
}

// NewWallClock returns a Clock that starts at zero now.
func NewWallClock() Clock {
	return wallClock{start: time.Now()}
}

func (c wallClock) Now() time.Duration { return time.Since(c.start) }

func (c wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
