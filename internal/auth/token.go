package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type actorClaims struct {
	jwt.RegisteredClaims
	Role        string `json:"role"`
	KYCVerified bool   `json:"kyc_verified"`
}

// TokenVerifier validates HS256 bearer tokens issued by the identity service
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses a token and maps its claims to an Actor
func (v *TokenVerifier) Verify(tokenString string) (Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &actorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Actor{}, err
	}
	claims, ok := token.Claims.(*actorClaims)
	if !ok || !token.Valid {
		return Actor{}, errors.New("invalid token claims")
	}
	if claims.Subject == "" {
		return Actor{}, errors.New("token has no subject")
	}
	role := Role(claims.Role)
	if !role.Valid() {
		return Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return Actor{UserID: claims.Subject, Role: role, KYCVerified: claims.KYCVerified}, nil
}

// Issue signs a token for actor. Used by tests and local tooling.
func (v *TokenVerifier) Issue(actor Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := actorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:        string(actor.Role),
		KYCVerified: actor.KYCVerified,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
