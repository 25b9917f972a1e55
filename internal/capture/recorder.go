package capture

import (
	"fmt"
	"time"

	"github.com/sjawhar/interview-live/internal/media"
)

// Recorder is a native chunked recorder bound to one stream.
//
// After a successful Start the recorder calls OnStop exactly once, including
// after OnError. Stop only requests the stop; it returns an error if the
// recorder never started.
type Recorder interface {
	Start(timeslice time.Duration) error
	Stop() error
	MIMEType() string
}

// RecorderEvents are invoked from the recorder's own goroutine.
type RecorderEvents struct {
	OnData  func(chunk []byte)
	OnStop  func()
	OnError func(err error)
}

type RecorderFactory func(stream *media.Stream, ch Channel, events RecorderEvents) (Recorder, error)

// HostRecorderConfig configures the recorders used on a real host.
type HostRecorderConfig struct {
	VideoBitrate string
}

// HostRecorders records audio-only slots straight from the PCM track and
// hands audio+video slots to ffmpeg together with that stream's microphone.
func HostRecorders(cfg HostRecorderConfig) RecorderFactory {
	return func(stream *media.Stream, ch Channel, events RecorderEvents) (Recorder, error) {
		switch ch {
		case ChannelAudio:
			tracks := stream.AudioTracks()
			if len(tracks) == 0 {
				return nil, fmt.Errorf("%w: no audio track", ErrUnsupportedSource)
			}
			src, ok := tracks[0].(media.PCMSource)
			if !ok {
				return nil, fmt.Errorf("%w: audio track has no pcm", ErrUnsupportedSource)
			}
			return newPCMRecorder(src, events), nil
		case ChannelVideo:
			tracks := stream.VideoTracks()
			if len(tracks) == 0 {
				return nil, fmt.Errorf("%w: no video track", ErrUnsupportedSource)
			}
			src, ok := tracks[0].(media.VideoSource)
			if !ok {
				return nil, fmt.Errorf("%w: video track has no device path", ErrUnsupportedSource)
			}
			mics := stream.AudioTracks()
			if len(mics) == 0 {
				return nil, fmt.Errorf("%w: no audio track", ErrUnsupportedSource)
			}
			mic, ok := mics[0].(media.PCMSource)
			if !ok {
				return nil, fmt.Errorf("%w: audio track has no pcm", ErrUnsupportedSource)
			}
			return newFFmpegRecorder(src.DevicePath(), mic, cfg, events), nil
		default:
			return nil, fmt.Errorf("%w: channel %q", ErrUnsupportedSource, ch)
		}
	}
}
