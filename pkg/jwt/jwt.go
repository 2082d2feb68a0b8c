package jwt

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is the portal auth service that signs access tokens
const Issuer = "schoolportal-auth"

// ErrMissingUser is returned for tokens without a user id
var ErrMissingUser = errors.New("token carries no user id")

// Claims represents the portal access token claims
type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Role     string    `json:"role"` // student, teacher, parent, admin
	jwt.RegisteredClaims
}

// Verifier validates access tokens issued by the portal auth service
type Verifier struct {
	secretKey []byte
	audience  string
	parser    *jwt.Parser
}

// NewVerifier creates a verifier for HMAC tokens addressed to audience
func NewVerifier(secretKey, audience string) *Verifier {
	return &Verifier{
		secretKey: []byte(secretKey),
		audience:  audience,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithAudience(audience),
			jwt.WithIssuer(Issuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// ValidateToken validates and parses JWT token
func (v *Verifier) ValidateToken(tokenString string) (*Claims, error) {
	token, err := v.parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.UserID == uuid.Nil {
		return nil, ErrMissingUser
	}

	return claims, nil
}
