package auth

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferg-cod3s/tableside/kiosk/internal/clock"
	"github.com/ferg-cod3s/tableside/kiosk/pkg/types"
)

func testSession(now time.Time) *types.Session {
	exp := now.Add(3 * time.Hour).Truncate(time.Second)
	return &types.Session{
		ID:        "sess-42",
		TableID:   7,
		CreatedAt: now.Truncate(time.Second),
		ExpiresAt: &exp,
		MetaJSON:  json.RawMessage(`{"guests":2}`),
	}
}

func TestSessionCodec_RoundTrip(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC))
	codec, err := NewSessionCodec("test-secret", 24*time.Hour, clk)
	require.NoError(t, err)

	in := testSession(clk.Now())
	token, err := codec.Encode(in)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	out, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.TableID, out.TableID)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	require.NotNil(t, out.ExpiresAt)
	assert.True(t, in.ExpiresAt.Equal(*out.ExpiresAt))
	assert.JSONEq(t, string(in.MetaJSON), string(out.MetaJSON))
}

func TestSessionCodec_NoExpiry(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC))
	codec, err := NewSessionCodec("test-secret", time.Hour, clk)
	require.NoError(t, err)

	token, err := codec.Encode(&types.Session{ID: "s1", TableID: 1, CreatedAt: clk.Now()})
	require.NoError(t, err)

	out, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Nil(t, out.ExpiresAt)
	assert.Empty(t, out.MetaJSON)
}

func TestSessionCodec_RetentionElapsed(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC))
	codec, err := NewSessionCodec("test-secret", 24*time.Hour, clk)
	require.NoError(t, err)

	token, err := codec.Encode(testSession(clk.Now()))
	require.NoError(t, err)

	clk.Advance(24*time.Hour + time.Second)

	_, err = codec.Decode(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionCodec_Tampered(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC))
	codec, err := NewSessionCodec("test-secret", time.Hour, clk)
	require.NoError(t, err)
	other, err := NewSessionCodec("other-secret", time.Hour, clk)
	require.NoError(t, err)

	token, err := codec.Encode(testSession(clk.Now()))
	require.NoError(t, err)

	_, err = other.Decode(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "token signed with another secret")

	parts := strings.Split(token, ".")
	parts[2] = strings.Repeat("A", len(parts[2]))
	_, err = codec.Decode(strings.Join(parts, "."))
	assert.ErrorIs(t, err, ErrInvalidToken, "forged signature")

	_, err = codec.Decode("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = codec.Decode("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionCodec_Errors(t *testing.T) {
	_, err := NewSessionCodec("", time.Hour, nil)
	assert.Error(t, err)

	codec, err := NewSessionCodec("secret", time.Hour, nil)
	require.NoError(t, err)

	_, err = codec.Encode(nil)
	assert.Error(t, err)
	_, err = codec.Encode(&types.Session{TableID: 3})
	assert.Error(t, err)
}

func TestStaffAuth(t *testing.T) {
	hash, err := HashPIN("4821")
	require.NoError(t, err)

	staff := NewStaffAuth(hash)
	assert.True(t, staff.Enabled())
	assert.True(t, staff.Verify("4821"))
	assert.False(t, staff.Verify("1111"))
	assert.False(t, staff.Verify(""))

	disabled := NewStaffAuth("")
	assert.False(t, disabled.Enabled())
	assert.False(t, disabled.Verify("4821"))

	_, err = HashPIN("12")
	assert.Error(t, err)
}
