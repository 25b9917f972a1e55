package device

import "errors"

var (
	ErrPermissionDenied = errors.New("camera or microphone access was denied")
	ErrNoDevices        = errors.New("no camera or microphone found")
	ErrNotInitialized   = errors.New("device registry not initialized")
	ErrUnknownDevice    = errors.New("unknown device")
)
