package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferg-cod3s/tableside/kiosk/pkg/types"
)

func TestMergeValidated(t *testing.T) {
	localExp := t0.Add(time.Hour)
	remoteExp := t0.Add(4 * time.Hour)

	local := &types.Session{
		ID:        "s1",
		TableID:   7,
		CreatedAt: t0,
		ExpiresAt: &localExp,
		MetaJSON:  json.RawMessage(`{"lang":"en"}`),
	}

	t.Run("backend expiry wins", func(t *testing.T) {
		merged := MergeValidated(local, &types.Session{ExpiresAt: &remoteExp})
		require.NotNil(t, merged.ExpiresAt)
		assert.True(t, remoteExp.Equal(*merged.ExpiresAt))
		assert.JSONEq(t, `{"lang":"en"}`, string(merged.MetaJSON))
	})

	t.Run("identity is never overwritten", func(t *testing.T) {
		merged := MergeValidated(local, &types.Session{ID: "other", TableID: 9, CreatedAt: t0.Add(time.Hour)})
		assert.Equal(t, "s1", merged.ID)
		assert.Equal(t, 7, merged.TableID)
		assert.True(t, t0.Equal(merged.CreatedAt))
		assert.True(t, localExp.Equal(*merged.ExpiresAt))
	})

	t.Run("missing local fields are filled", func(t *testing.T) {
		merged := MergeValidated(&types.Session{ID: "s1"}, &types.Session{TableID: 3, CreatedAt: t0})
		assert.Equal(t, 3, merged.TableID)
		assert.True(t, t0.Equal(merged.CreatedAt))
	})

	t.Run("backend metadata replaces local", func(t *testing.T) {
		merged := MergeValidated(local, &types.Session{MetaJSON: json.RawMessage(`{"guests":2}`)})
		assert.JSONEq(t, `{"guests":2}`, string(merged.MetaJSON))

		kept := MergeValidated(local, &types.Session{MetaJSON: json.RawMessage(`null`)})
		assert.JSONEq(t, `{"lang":"en"}`, string(kept.MetaJSON))
	})

	t.Run("nil sides", func(t *testing.T) {
		assert.Equal(t, local, MergeValidated(local, nil))
		assert.Nil(t, MergeValidated(nil, nil))
		assert.Equal(t, "s1", MergeValidated(nil, local).ID)
	})

	t.Run("inputs are not mutated", func(t *testing.T) {
		merged := MergeValidated(local, &types.Session{ExpiresAt: &remoteExp})
		*merged.ExpiresAt = t0
		assert.True(t, localExp.Equal(*local.ExpiresAt))
		assert.True(t, remoteExp.Equal(t0.Add(4*time.Hour)))
	})
}
