package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lastbite/lastbite-backend/pkg/config"
)

// clockSkew absorbs small clock drift between the issuer and this service.
const clockSkew = 30 * time.Second

var (
	signingMethod = jwt.SigningMethodHS256

	ErrMisconfigured = errors.New("auth: jwt secret, issuer and expiration must be set")
	ErrBadClaims     = errors.New("auth: token claims are incomplete")
)

func checkConfig(cfg config.JWTConfig, needTTL bool) error {
	if cfg.Secret == "" || cfg.Issuer == "" || (needTTL && cfg.Expiration() <= 0) {
		return ErrMisconfigured
	}
	return nil
}

// MintAccessToken signs an HS256 token for payload valid from now for the
// configured expiration. The subject always equals the user id.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	if err := checkConfig(cfg, true); err != nil {
		return "", err
	}
	if payload.UserID == uuid.Nil || !payload.Role.IsValid() {
		return "", fmt.Errorf("%w: user id and a known role are required", ErrBadClaims)
	}
	id := payload.JTI
	if id == "" {
		id = uuid.NewString()
	}

	claims := AccessTokenClaims{
		UserID: payload.UserID,
		Role:   payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    cfg.Issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.Expiration())),
		},
	}
	return jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
}

// ParseAccessToken verifies signature, algorithm, issuer and expiry, then
// checks the role and that sub (when present) names the same user.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	if err := checkConfig(cfg, false); err != nil {
		return nil, err
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
	)
	claims := new(AccessTokenClaims)
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}); err != nil {
		return nil, err
	}

	switch {
	case claims.UserID == uuid.Nil:
		return nil, fmt.Errorf("%w: missing user id", ErrBadClaims)
	case !claims.Role.IsValid():
		return nil, fmt.Errorf("%w: unknown role %q", ErrBadClaims, claims.Role)
	case claims.Subject != "" && claims.Subject != claims.UserID.String():
		return nil, fmt.Errorf("%w: subject does not match user id", ErrBadClaims)
	}
	return claims, nil
}
