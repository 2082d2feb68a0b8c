package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing-purposes"

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims *Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(userID uuid.UUID) *Claims {
	now := time.Now()
	return &Claims{
		UserID:   userID,
		Username: "teacher1",
		Role:     "teacher",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{"schoolportal-api"},
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
			ID:        uuid.NewString(),
		},
	}
}

func TestValidateToken_ValidToken(t *testing.T) {
	v := NewVerifier(testSecret, "schoolportal-api")
	userID := uuid.New()

	claims, err := v.ValidateToken(sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(userID)))

	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "teacher", claims.Role)
}

func TestValidateToken_Rejects(t *testing.T) {
	v := NewVerifier(testSecret, "schoolportal-api")
	userID := uuid.New()

	tests := []struct {
		name   string
		mutate func(c *Claims)
		key    []byte
	}{
		{"wrong secret", func(c *Claims) {}, []byte("another-secret-key-of-enough-length")},
		{"expired", func(c *Claims) { c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute)) }, nil},
		{"no expiry", func(c *Claims) { c.ExpiresAt = nil }, nil},
		{"wrong audience", func(c *Claims) { c.Audience = jwt.ClaimStrings{"other-api"} }, nil},
		{"wrong issuer", func(c *Claims) { c.Issuer = "somebody" }, nil},
		{"missing user", func(c *Claims) { c.UserID = uuid.Nil }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims(userID)
			tt.mutate(claims)
			key := tt.key
			if key == nil {
				key = []byte(testSecret)
			}

			_, err := v.ValidateToken(sign(t, jwt.SigningMethodHS256, key, claims))

			assert.Error(t, err)
		})
	}
}

func TestValidateToken_RejectsOtherAlgorithms(t *testing.T) {
	v := NewVerifier(testSecret, "schoolportal-api")

	token := sign(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims(uuid.New()))

	_, err := v.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_Malformed(t *testing.T) {
	v := NewVerifier(testSecret, "schoolportal-api")

	_, err := v.ValidateToken("not.a.token")

	assert.Error(t, err)
}
