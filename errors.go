package imagerate

import "errors"

// Error taxonomy. Returned errors wrap one of these; classify with errors.Is.
var (
	ErrInvalidType        = errors.New("file must be an image")
	ErrTooLarge           = errors.New("image exceeds upload size limit")
	ErrDecode             = errors.New("cannot decode image")
	ErrRemote             = errors.New("remote service request failed")
	ErrScoringUnavailable = errors.New("failed to rate image, make sure the scoring service is running")
	ErrStorageCorrupt     = errors.New("persisted history is unreadable")
	ErrSuperseded         = errors.New("session superseded by a newer one")
)
