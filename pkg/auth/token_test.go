package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lastbite/lastbite-backend/pkg/config"
	"github.com/lastbite/lastbite-backend/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "lastbite", ExpirationMinutes: 30}
}

func sign(t *testing.T, cfg config.JWTConfig, claims AccessTokenClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	require.NoError(t, err)
	return signed
}

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := testJWTConfig()
	userID := uuid.New()

	token, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: userID, Role: enums.UserRoleAdmin, JTI: "jti-1"})
	require.NoError(t, err)

	claims, err := ParseAccessToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, enums.UserRoleAdmin, claims.Role)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, "jti-1", claims.ID)
}

func TestParseAccessTokenRejectsTampering(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleMember})
	require.NoError(t, err)

	_, err = ParseAccessToken(cfg, token+"x")
	assert.Error(t, err)

	other := cfg
	other.Issuer = "someone-else"
	_, err = ParseAccessToken(other, token)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	_, err = ParseAccessToken(config.JWTConfig{Issuer: "lastbite"}, token)
	assert.ErrorIs(t, err, ErrMisconfigured)
}

func TestParseAccessTokenExpiry(t *testing.T) {
	cfg := testJWTConfig()
	expired, err := MintAccessToken(cfg, time.Now().Add(-time.Hour), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleMember})
	require.NoError(t, err)
	_, err = ParseAccessToken(cfg, expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	// Expired a few seconds ago is still inside the skew allowance.
	justExpired, err := MintAccessToken(cfg, time.Now().Add(-cfg.Expiration()-5*time.Second), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleMember})
	require.NoError(t, err)
	_, err = ParseAccessToken(cfg, justExpired)
	assert.NoError(t, err)
}

func TestParseAccessTokenChecksClaims(t *testing.T) {
	cfg := testJWTConfig()
	exp := jwt.NewNumericDate(time.Now().Add(time.Minute))

	unknownRole := sign(t, cfg, AccessTokenClaims{
		UserID:           uuid.New(),
		Role:             "owner",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: cfg.Issuer, ExpiresAt: exp},
	})
	_, err := ParseAccessToken(cfg, unknownRole)
	assert.ErrorIs(t, err, ErrBadClaims)

	wrongSubject := sign(t, cfg, AccessTokenClaims{
		UserID:           uuid.New(),
		Role:             enums.UserRoleMember,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: cfg.Issuer, ExpiresAt: exp, Subject: uuid.NewString()},
	})
	_, err = ParseAccessToken(cfg, wrongSubject)
	assert.ErrorIs(t, err, ErrBadClaims)

	noExpiry := sign(t, cfg, AccessTokenClaims{
		UserID:           uuid.New(),
		Role:             enums.UserRoleMember,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: cfg.Issuer},
	})
	_, err = ParseAccessToken(cfg, noExpiry)
	assert.ErrorIs(t, err, jwt.ErrTokenRequiredClaimMissing)
}

func TestMintAccessTokenValidatesInput(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now()

	_, err := MintAccessToken(cfg, now, AccessTokenPayload{UserID: uuid.New()})
	assert.ErrorIs(t, err, ErrBadClaims)
	_, err = MintAccessToken(cfg, now, AccessTokenPayload{Role: enums.UserRoleMember})
	assert.ErrorIs(t, err, ErrBadClaims)
	_, err = MintAccessToken(config.JWTConfig{Secret: "s", Issuer: "i"}, now, AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleMember})
	assert.ErrorIs(t, err, ErrMisconfigured)
}
