package session

import (
	"github.com/ferg-cod3s/tableside/kiosk/pkg/types"
)

// MergeValidated folds the backend copy of a session into the local one.
// A backend ExpiresAt always wins. ID, TableID and CreatedAt never change once
// set and are only taken from the backend when missing locally. Backend
// metadata replaces local metadata when the backend sends any.
func MergeValidated(local, remote *types.Session) *types.Session {
	if local == nil {
		return remote.Clone()
	}
	merged := local.Clone()
	if remote == nil {
		return merged
	}

	if remote.ExpiresAt != nil {
		exp := *remote.ExpiresAt
		merged.ExpiresAt = &exp
	}
	if merged.ID == "" {
		merged.ID = remote.ID
	}
	if merged.TableID == 0 {
		merged.TableID = remote.TableID
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = remote.CreatedAt
	}
	if len(remote.MetaJSON) > 0 && string(remote.MetaJSON) != "null" {
		merged.MetaJSON = append([]byte(nil), remote.MetaJSON...)
	}
	return merged
}
