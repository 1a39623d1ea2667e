package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenMinter_MintAndVerify(t *testing.T) {
	m := NewTokenMinter("APIkey", "s3cret", time.Hour)

	token, err := m.Mint(TokenRequest{Room: "lobby", Identity: "voice-agent-1", Name: "Voice Agent", Agent: true})
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "APIkey", claims.Issuer)
	require.Equal(t, "voice-agent-1", claims.Subject)
	require.Equal(t, "Voice Agent", claims.Name)
	require.True(t, claims.Video.Agent)
	require.NotNil(t, claims.Video)
	require.True(t, claims.Video.RoomJoin)
	require.Equal(t, "lobby", claims.Video.Room)
	require.True(t, claims.Video.CanPublish)
	require.True(t, claims.Video.CanSubscribe)
	require.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestTokenMinter_BrowserToken(t *testing.T) {
	m := NewTokenMinter("APIkey", "s3cret", 0)
	token, err := m.Mint(TokenRequest{Room: "lobby", Identity: "guest"})
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	require.False(t, claims.Video.Agent)
}

func TestTokenMinter_Rejects(t *testing.T) {
	_, err := NewTokenMinter("", "", time.Hour).Mint(TokenRequest{Room: "lobby", Identity: "x"})
	require.ErrorIs(t, err, ErrMissingCredentials)

	m := NewTokenMinter("k", "s", time.Hour)
	_, err = m.Mint(TokenRequest{Identity: "x"})
	require.ErrorIs(t, err, ErrMissingRoom)
	_, err = m.Mint(TokenRequest{Room: "lobby"})
	require.ErrorIs(t, err, ErrMissingIdentity)

	token, err := m.Mint(TokenRequest{Room: "lobby", Identity: "x"})
	require.NoError(t, err)
	_, err = NewTokenMinter("k", "other", time.Hour).Verify(token)
	require.Error(t, err)
}

func TestTokenMinter_Expired(t *testing.T) {
	m := NewTokenMinter("k", "s", time.Minute)
	token, err := m.Mint(TokenRequest{Room: "lobby", Identity: "x"})
	require.NoError(t, err)

	_, err = m.Verify(token)
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = m.Verify(token)
	require.Error(t, err)
}

