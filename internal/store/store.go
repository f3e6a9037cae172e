// Package store persists the current table session between kiosk restarts.
package store

import (
	"errors"
	"fmt"

	"github.com/ferg-cod3s/tableside/kiosk/pkg/types"
)

// Entry names for the two persisted values
const (
	SessionIDKey   = "customer_session_id"
	SessionDataKey = "customer_session_data"
)

var (
	// ErrCorrupt means the stored payload could not be verified or parsed
	ErrCorrupt = errors.New("stored session is corrupt")
	// ErrIncomplete means only one of the two entries was present
	ErrIncomplete = errors.New("stored session is incomplete")
)

// Store defines the interface for session persistence.
// Load returns "", nil, nil when nothing is stored.
type Store interface {
	// Save persists the session identifier and its data together
	Save(id string, data *types.Session) error

	// Load retrieves the persisted session
	Load() (string, *types.Session, error)

	// Clear removes both entries; clearing an empty store is not an error
	Clear() error

	// Close releases any resources used by the store
	Close() error
}

// Codec turns session data into the opaque value kept under SessionDataKey
type Codec interface {
	Encode(s *types.Session) (string, error)
	Decode(value string) (*types.Session, error)
}

// Recoverable reports whether err is a malformed-data error a caller should
// handle by clearing the store
func Recoverable(err error) bool {
	return errors.Is(err, ErrCorrupt) || errors.Is(err, ErrIncomplete)
}

func encodeEntry(codec Codec, id string, data *types.Session) (string, error) {
	if id == "" {
		return "", fmt.Errorf("session id cannot be empty")
	}
	if data == nil {
		return "", fmt.Errorf("session data cannot be nil")
	}
	if data.ID != "" && data.ID != id {
		return "", fmt.Errorf("session data id %q does not match %q", data.ID, id)
	}

	s := data.Clone()
	s.ID = id
	value, err := codec.Encode(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode session data: %w", err)
	}
	return value, nil
}

func decodeEntries(codec Codec, id, value string) (string, *types.Session, error) {
	switch {
	case id == "" && value == "":
		return "", nil, nil
	case id == "" || value == "":
		return "", nil, ErrIncomplete
	}

	s, err := codec.Decode(value)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if s.ID != id {
		return "", nil, fmt.Errorf("%w: data belongs to session %q", ErrCorrupt, s.ID)
	}
	return id, s, nil
}
