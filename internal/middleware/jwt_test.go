package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHS256Validator_RequiresSecret(t *testing.T) {
	_, err := NewHS256Validator("")
	assert.Error(t, err)
}

func TestHS256Validator_RoundTrip(t *testing.T) {
	v, err := NewHS256Validator("s3cret")
	require.NoError(t, err)

	tok, err := v.IssueToken("ops", "histclean", time.Hour)
	require.NoError(t, err)

	claims, err := v.Validate(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, "histclean", claims.Issuer)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *claims.ExpiresAt, time.Minute)
}

func TestHS256Validator_NoExpiry(t *testing.T) {
	v, err := NewHS256Validator("s3cret")
	require.NoError(t, err)
	tok, err := v.IssueToken("ops", "", 0)
	require.NoError(t, err)

	claims, err := v.Validate(context.Background(), tok)
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)
}

func TestHS256Validator_Rejects(t *testing.T) {
	v, err := NewHS256Validator("s3cret")
	require.NoError(t, err)
	other, err := NewHS256Validator("other")
	require.NoError(t, err)

	wrongKey, err := other.IssueToken("ops", "", time.Hour)
	require.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: "ops"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"wrong key":  wrongKey,
		"expired":    expired,
		"no subject": noSubject,
		"HS512":      hs512,
		"garbage":    "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), tok)
			assert.Error(t, err)
		})
	}

	_, err = v.IssueToken("", "", 0)
	assert.Error(t, err)
}
