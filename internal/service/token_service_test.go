package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-eligibility-api/internal/models"
	appErrors "github.com/noah-isme/course-eligibility-api/pkg/errors"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims models.JWTClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(role models.UserRole) models.JWTClaims {
	now := time.Now()
	return models.JWTClaims{
		UserID: "registrar-1",
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "sis-identity",
			Audience:  jwt.ClaimStrings{"course-eligibility"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestValidateTokenAcceptsSignedClaims(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: testSecret, Issuer: "sis-identity", Audience: []string{"course-eligibility"}})

	claims, err := svc.ValidateToken(signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(models.RoleRegistrar)))
	require.NoError(t, err)
	assert.Equal(t, "registrar-1", claims.UserID)
	assert.Equal(t, models.RoleRegistrar, claims.Role)
}

func TestValidateTokenRejects(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: testSecret, Issuer: "sis-identity", Audience: []string{"course-eligibility"}})

	expired := validClaims(models.RoleRegistrar)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noExpiry := validClaims(models.RoleRegistrar)
	noExpiry.ExpiresAt = nil

	wrongIssuer := validClaims(models.RoleRegistrar)
	wrongIssuer.Issuer = "someone-else"

	noSubject := validClaims(models.RoleRegistrar)
	noSubject.UserID = " "

	cases := map[string]string{
		"wrong secret": signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims(models.RoleRegistrar)),
		"wrong method": signToken(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims(models.RoleRegistrar)),
		"expired":      signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired),
		"no expiry":    signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noExpiry),
		"wrong issuer": signToken(t, jwt.SigningMethodHS256, []byte(testSecret), wrongIssuer),
		"no subject":   signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noSubject),
		"unknown role": signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(models.UserRole("JANITOR"))),
		"not a token":  "abc.def",
	}

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
		})
	}
}
