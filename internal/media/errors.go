package media

import "errors"

var (
	ErrPermissionDenied = errors.New("media: permission denied")
	ErrDeviceNotFound   = errors.New("media: device not found")
	ErrTrackEnded       = errors.New("media: track ended")
	ErrNoTracks         = errors.New("media: no audio or video requested")
)
