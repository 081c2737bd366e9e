package jwtx

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func TestDecode(t *testing.T) {
	t.Parallel()

	t.Run("full claims", func(t *testing.T) {
		t.Parallel()

		exp := time.Now().Add(time.Hour).Truncate(time.Second)
		raw := mintToken(t, Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-42",
				ExpiresAt: jwt.NewNumericDate(exp),
				IssuedAt:  jwt.NewNumericDate(time.Now()),
			},
			Email:    "writer@example.com",
			Role:     "writer",
			Admin:    false,
			Verified: true,
			Approved: true,
		})

		claims, err := Decode(raw)
		require.NoError(t, err)
		require.Equal(t, "user-42", claims.UserID())
		require.Equal(t, "writer@example.com", claims.Email)
		require.Equal(t, "writer", claims.Role)
		require.True(t, claims.Verified)
		require.True(t, claims.Approved)
		require.False(t, claims.Admin)
		require.True(t, claims.ExpiryTime().Equal(exp))
	})

	t.Run("signature is not checked", func(t *testing.T) {
		t.Parallel()

		raw := mintToken(t, Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
		})

		// Corrupt the signature segment only; decoding must still succeed.
		corrupted := raw[:len(raw)-4] + "AAAA"
		claims, err := Decode(corrupted)
		require.NoError(t, err)
		require.Equal(t, "user-1", claims.UserID())
	})

	t.Run("malformed token", func(t *testing.T) {
		t.Parallel()

		_, err := Decode("not-a-jwt")
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("missing expiry", func(t *testing.T) {
		t.Parallel()

		raw := mintToken(t, jwt.RegisteredClaims{Subject: "user-1"})
		_, err := Decode(raw)
		require.ErrorIs(t, err, ErrNoExpiry)
	})
}

func TestClaimsExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}

	require.False(t, claims.Expired(now))
	require.True(t, claims.Expired(now.Add(time.Minute)))
	require.True(t, claims.Expired(now.Add(2*time.Minute)))
}
