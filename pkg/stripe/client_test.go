package stripe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lastbite/lastbite-backend/pkg/config"
)

func TestNewClientValidatesKeys(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx, config.StripeConfig{Secret: testSecret}, nil)
	require.ErrorIs(t, err, errAPIKeyRequired)

	_, err = NewClient(ctx, config.StripeConfig{APIKey: "sk_test_123"}, nil)
	require.ErrorIs(t, err, errSecretRequired)

	_, err = NewClient(ctx, config.StripeConfig{APIKey: "sk_live_123", Secret: testSecret, Env: "test"}, nil)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "123")

	_, err = NewClient(ctx, config.StripeConfig{APIKey: "sk_test_123", Secret: testSecret, Env: "staging"}, nil)
	require.ErrorIs(t, err, errInvalidStripeEnv)

	client, err := NewClient(ctx, config.StripeConfig{APIKey: "sk_test_123", Secret: testSecret}, nil)
	require.NoError(t, err)
	assert.Equal(t, "test", client.Environment())
	assert.False(t, client.IsLive())

	live, err := NewClient(ctx, config.StripeConfig{APIKey: "rk_live_abc", Secret: testSecret, Env: " LIVE "}, nil)
	require.NoError(t, err)
	assert.True(t, live.IsLive())

	gw, err := NewGateway(client)
	require.NoError(t, err)
	assert.Equal(t, testSecret, gw.signingSecret)
}
