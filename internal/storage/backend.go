package storage

import "errors"

// ErrNotExist is returned by Load when nothing has been saved yet.
var ErrNotExist = errors.New("storage: document does not exist")

// Backend holds one serialized document.
type Backend interface {
	Load() ([]byte, error)
	// Save must be all-or-nothing: after a failed Save the previous
	// contents are still readable.
	Save(data []byte) error
	// Quarantine moves unreadable contents aside and returns where they went.
	Quarantine(suffix string) (string, error)
}
