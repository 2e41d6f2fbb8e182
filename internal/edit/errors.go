package edit

import "errors"

var (
	// ErrNotFound is returned by Load when the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotLoaded is returned when a session is used before a successful Load.
	ErrNotLoaded = errors.New("session not loaded")
	// ErrInvalid is returned by Save when the draft fails validation.
	ErrInvalid = errors.New("draft is not valid")
	// ErrSaveInProgress is returned by Save while another save is running.
	ErrSaveInProgress = errors.New("save already in progress")
	// ErrClosed is returned once a session has been closed.
	ErrClosed = errors.New("session closed")
)
