package interview

import "errors"

var (
	// ErrUploadsPending is returned by End while any recording is still
	// being uploaded.
	ErrUploadsPending   = errors.New("uploads still pending")
	// ErrAnswerInProgress is returned by End while an answer is being
	// recorded or stopped.
	ErrAnswerInProgress = errors.New("answer still recording")
	ErrNoAttempt        = errors.New("no active attempt")
	ErrNoMessage        = errors.New("message id is required")
)
