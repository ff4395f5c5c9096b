package auth

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forum-comms/internal/common/errors"
)

const (
	testSecret = "test-secret-with-enough-length-1234"
	testIssuer = "forum-auth"
)

func TestValidateCredential_Valid(t *testing.T) {
	v := NewTokenValidator(testSecret, testIssuer)
	token, err := IssueToken(testSecret, testIssuer, 42, time.Hour)
	require.NoError(t, err)

	userID, err := v.ValidateCredential(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)

	userID, err = v.ValidateCredential("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestValidateCredential_SubjectFallback(t *testing.T) {
	v := NewTokenValidator(testSecret, "")
	claims := jwt.RegisteredClaims{
		Subject:   "7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	userID, err := v.ValidateCredential(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), userID)
}

func TestValidateCredential_Rejected(t *testing.T) {
	v := NewTokenValidator(testSecret, testIssuer)

	expired, _ := IssueToken(testSecret, testIssuer, 1, -time.Hour)
	foreign, _ := IssueToken("another-secret-entirely-0000000000", testIssuer, 1, time.Hour)
	wrongIssuer, _ := IssueToken(testSecret, "someone-else", 1, time.Hour)
	noUser, _ := IssueToken(testSecret, testIssuer, 0, time.Hour)
	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		UserID:           1,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: testIssuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testSecret))

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"expired", expired},
		{"foreign secret", foreign},
		{"wrong issuer", wrongIssuer},
		{"no user id", noUser},
		{"unexpected algorithm", hs512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ValidateCredential(tt.token)
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, errors.ErrAuthRejected))
		})
	}
}
