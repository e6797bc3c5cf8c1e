package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TypeAccess is the value of the "typ" claim carried by access tokens.
const TypeAccess = "access"

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrWrongTokenType = errors.New("wrong token type")
)

// Claims is the payload of an access JWT.
type Claims struct {
	UserID    int64  `json:"uid"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// NewAccessToken creates a signed HS256 access token for the given user,
// valid from now until now+ttl. It returns the signed token and its jti.
func NewAccessToken(userID int64, secret string, ttl time.Duration, now time.Time) (token string, jti string, err error) {
	jti = uuid.NewString()

	claims := Claims{
		UserID:    userID,
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", "", fmt.Errorf("sign access token: %w", err)
	}

	return token, jti, nil
}

// ParseAccessToken parses and validates an access token. Expiry is checked
// against the supplied clock. Returns ErrTokenExpired for an otherwise valid
// but expired token, ErrWrongTokenType when the "typ" claim is not "access",
// and ErrInvalidToken for anything malformed or badly signed.
func ParseAccessToken(tokenString string, secret string, now func() time.Time) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.TokenType != TypeAccess {
		return nil, ErrWrongTokenType
	}

	return claims, nil
}
