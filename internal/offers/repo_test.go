package offers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lastbite/lastbite-backend/internal/testdb"
)

func TestClaimIsExclusive(t *testing.T) {
	client := testdb.Open(t)
	conn := client.DB()
	seller := testdb.SeedUser(t, conn, "")
	offer := testdb.SeedOffer(t, conn, seller.ID, "4.50", time.Now().Add(24*time.Hour))
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	first, second := uuid.New(), uuid.New()
	won, err := repo.Claim(ctx, offer.ID, first, now)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.Claim(ctx, offer.ID, second, now)
	require.NoError(t, err)
	assert.False(t, won, "second claim must lose")

	stored, err := repo.FindByID(ctx, offer.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.BuyerID)
	assert.Equal(t, first, *stored.BuyerID)
}

func TestReleaseOnlyByHolder(t *testing.T) {
	client := testdb.Open(t)
	conn := client.DB()
	seller := testdb.SeedUser(t, conn, "")
	offer := testdb.SeedOffer(t, conn, seller.ID, "4.50", time.Now().Add(24*time.Hour))
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	buyer := uuid.New()
	_, err := repo.Claim(ctx, offer.ID, buyer, now)
	require.NoError(t, err)

	released, err := repo.Release(ctx, offer.ID, uuid.New(), now)
	require.NoError(t, err)
	assert.False(t, released)

	released, err = repo.Release(ctx, offer.ID, buyer, now)
	require.NoError(t, err)
	assert.True(t, released)

	stored, err := repo.FindByID(ctx, offer.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.BuyerID)
}

func TestMarkSoldFreezesOffer(t *testing.T) {
	client := testdb.Open(t)
	conn := client.DB()
	seller := testdb.SeedUser(t, conn, "")
	offer := testdb.SeedOffer(t, conn, seller.ID, "4.50", time.Now().Add(24*time.Hour))
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	buyer := uuid.New()
	_, err := repo.Claim(ctx, offer.ID, buyer, now)
	require.NoError(t, err)

	sold, err := repo.MarkSold(ctx, offer.ID, buyer, now)
	require.NoError(t, err)
	assert.True(t, sold)

	released, err := repo.Release(ctx, offer.ID, buyer, now)
	require.NoError(t, err)
	assert.False(t, released, "sold offers are immutable")

	sold, err = repo.MarkSold(ctx, offer.ID, buyer, now)
	require.NoError(t, err)
	assert.False(t, sold)
}

func TestFindByIDMissing(t *testing.T) {
	client := testdb.Open(t)
	offer, err := NewRepository(client.DB()).FindByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, offer)
}
