package credentials

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JordyChamba/feedsync/pkg/constants"
)

var key = []byte("test-signing-key")

func TestSignAndParse(t *testing.T) {
	now := time.Now()
	token, err := Sign(NewClaims(42, "ana", now, time.Hour), key)
	require.NoError(t, err)

	c, err := ParseUnverified(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), c.UserID)
	assert.Equal(t, "ana", c.Username)
	assert.False(t, c.ExpiredAt(now))
	assert.True(t, c.ExpiredAt(now.Add(2*time.Hour)))

	c, err = Verify(token, key)
	require.NoError(t, err)
	assert.Equal(t, "42", c.Subject)

	_, err = Verify(token, []byte("other"))
	require.Error(t, err)
}

func TestUserIDFromSubject(t *testing.T) {
	c := NewClaims(0, "", time.Now(), time.Hour)
	c.Subject = "7"
	token, err := Sign(c, key)
	require.NoError(t, err)

	parsed, err := ParseUnverified(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), parsed.UserID)

	c.Subject = "ana"
	token, err = Sign(c, key)
	require.NoError(t, err)
	_, err = ParseUnverified(token)
	require.Error(t, err)
}

func TestCurrent(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore()

	_, _, err := Current(ctx, s, now)
	require.ErrorIs(t, err, constants.ErrUnauthorized)
	require.ErrorIs(t, err, constants.ErrNoCredential)

	token, err := Sign(NewClaims(3, "bo", now, time.Minute), key)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, Pair{AccessToken: token, RefreshToken: "r"}))

	p, c, err := Current(ctx, s, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.UserID)
	assert.Equal(t, "bo", c.Username)

	_, _, err = Current(ctx, s, now.Add(time.Hour))
	require.ErrorIs(t, err, constants.ErrUnauthorized)

	require.NoError(t, s.Save(ctx, Pair{AccessToken: "not-a-jwt"}))
	_, _, err = Current(ctx, s, now)
	require.ErrorIs(t, err, constants.ErrUnauthorized)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)

	_, err = s.Load(ctx)
	require.ErrorIs(t, err, constants.ErrNoCredential)

	want := Pair{AccessToken: "a1", RefreshToken: "r1", UserID: 5, Username: "ana"}
	require.NoError(t, s.Save(ctx, want))
	require.NoError(t, s.Save(ctx, Pair{AccessToken: "a2", RefreshToken: "r2", UserID: 5, Username: "ana"}))
	require.NoError(t, s.Close())

	// survives a reopen
	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a2", got.AccessToken)
	assert.Equal(t, int64(5), got.UserID)

	require.NoError(t, s.Clear(ctx))
	_, err = s.Load(ctx)
	require.ErrorIs(t, err, constants.ErrNoCredential)
}
