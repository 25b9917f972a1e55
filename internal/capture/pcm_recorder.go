package capture

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sjawhar/interview-live/internal/media"
)

// pcmRecorder turns a PCM track into a streaming WAV, one chunk per timeslice.
type pcmRecorder struct {
	src    media.PCMSource
	events RecorderEvents

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

func newPCMRecorder(src media.PCMSource, events RecorderEvents) *pcmRecorder {
	return &pcmRecorder{src: src, events: events, stopCh: make(chan struct{})}
}

func (r *pcmRecorder) MIMEType() string { return "audio/wav" }

func (r *pcmRecorder) Start(timeslice time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("pcm recorder already started")
	}

	header, err := wavHeader(unknownLength, r.src.SampleRate(), r.src.Channels(), pcmBitDepth)
	if err != nil {
		return fmt.Errorf("build wav header: %w", err)
	}

	r.started = true
	go r.run(timeslice, header)
	return nil
}

func (r *pcmRecorder) Stop() error {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return ErrRecorderInactive
	}
	r.stopOnce.Do(func() { close(r.stopCh) })
	return nil
}

func (r *pcmRecorder) run(timeslice time.Duration, header []byte) {
	defer r.events.OnStop()

	var pending bytes.Buffer
	pending.Write(header)
	flush := func() {
		if pending.Len() == 0 {
			return
		}
		chunk := bytes.Clone(pending.Bytes())
		pending.Reset()
		r.events.OnData(chunk)
	}

	last := time.Now()
	for {
		select {
		case <-r.stopCh:
			flush()
			return
		default:
		}

		frames, err := r.src.ReadFrames()
		if err != nil {
			if errors.Is(err, media.ErrTrackEnded) {
				flush()
				return
			}
			r.events.OnError(fmt.Errorf("read pcm: %w", err))
			return
		}
		pending.Write(media.EncodePCM16(frames))

		if time.Since(last) >= timeslice {
			flush()
			last = time.Now()
		}
	}
}
