package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lastbite/lastbite-backend/internal/testdb"
	"github.com/lastbite/lastbite-backend/pkg/db/models"
	"github.com/lastbite/lastbite-backend/pkg/enums"
)

type stubRepository struct {
	err      error
	appended [][]models.LedgerEvent
}

func (s *stubRepository) WithTx(*gorm.DB) Repository { return s }

func (s *stubRepository) Append(_ context.Context, events []models.LedgerEvent) error {
	if s.err != nil {
		return s.err
	}
	s.appended = append(s.appended, events)
	return nil
}

func (s *stubRepository) ForTransaction(context.Context, uuid.UUID) ([]models.LedgerEvent, error) {
	return nil, nil
}

func (s *stubRepository) Exists(context.Context, uuid.UUID, enums.LedgerEventType) (bool, error) {
	return false, nil
}

func parties() Parties {
	return Parties{TransactionID: uuid.New(), BuyerID: uuid.New(), SellerID: uuid.New(), Currency: " EUR "}
}

func TestRecordBuildsRowsForEveryEntry(t *testing.T) {
	repo := &stubRepository{}
	svc, err := NewService(repo)
	require.NoError(t, err)

	p := parties()
	rows, err := svc.Record(context.Background(), p,
		Entry{Type: enums.LedgerEventTypePlatformFee, Amount: decimal.RequireFromString("2.00"), Metadata: json.RawMessage(`{"fee_percent":"10"}`)},
		Entry{Type: enums.LedgerEventTypeSellerPayout, Amount: decimal.RequireFromString("17.99"), ExternalRef: "tr_123"},
	)
	require.NoError(t, err)
	require.Len(t, repo.appended, 1, "entries are written in one batch")
	require.Len(t, rows, 2)

	for _, row := range rows {
		assert.Equal(t, p.TransactionID, row.TransactionID)
		assert.Equal(t, p.SellerID, row.SellerID)
		assert.Equal(t, "eur", row.Currency)
	}
	assert.Nil(t, rows[0].ExternalRef)
	require.NotNil(t, rows[1].ExternalRef)
	assert.Equal(t, "tr_123", *rows[1].ExternalRef)
}

func TestRecordRejectsWholeBatch(t *testing.T) {
	fee := Entry{Type: enums.LedgerEventTypePlatformFee, Amount: decimal.NewFromInt(1)}
	cases := map[string]struct {
		mutate func(*Parties)
		bad    Entry
	}{
		"missing transaction": {mutate: func(p *Parties) { p.TransactionID = uuid.Nil }, bad: fee},
		"missing seller":      {mutate: func(p *Parties) { p.SellerID = uuid.Nil }, bad: fee},
		"blank currency":      {mutate: func(p *Parties) { p.Currency = " " }, bad: fee},
		"unknown type":        {mutate: func(*Parties) {}, bad: Entry{Type: "bonus"}},
		"negative amount":     {mutate: func(*Parties) {}, bad: Entry{Type: enums.LedgerEventTypeRefund, Amount: decimal.NewFromInt(-1)}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			repo := &stubRepository{}
			svc, err := NewService(repo)
			require.NoError(t, err)

			p := parties()
			tc.mutate(&p)
			_, err = svc.Record(context.Background(), p, fee, tc.bad)
			require.Error(t, err)
			assert.Empty(t, repo.appended)
		})
	}
}

func TestRecordSurfacesRepositoryError(t *testing.T) {
	boom := errors.New("boom")
	svc, err := NewService(&stubRepository{err: boom})
	require.NoError(t, err)

	_, err = svc.Record(context.Background(), parties(), Entry{Type: enums.LedgerEventTypeRefund, Amount: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, boom)
}

func TestLedgerAgainstDatabase(t *testing.T) {
	client := testdb.Open(t)
	svc, err := NewService(NewRepository(client.DB()))
	require.NoError(t, err)
	ctx := context.Background()
	p := parties()

	_, err = svc.Record(ctx, p, Entry{Type: enums.LedgerEventTypePaymentReceived, Amount: decimal.RequireFromString("19.99")})
	require.NoError(t, err)
	_, err = svc.Record(ctx, p,
		Entry{Type: enums.LedgerEventTypePlatformFee, Amount: decimal.RequireFromString("2.00")},
		Entry{Type: enums.LedgerEventTypeSellerPayout, Amount: decimal.RequireFromString("17.99")},
	)
	require.NoError(t, err)

	has, err := svc.Has(ctx, p.TransactionID, enums.LedgerEventTypeSellerPayout)
	require.NoError(t, err)
	assert.True(t, has)
	has, err = svc.Has(ctx, p.TransactionID, enums.LedgerEventTypeRefund)
	require.NoError(t, err)
	assert.False(t, has)

	events, err := svc.List(ctx, p.TransactionID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, events[0].Amount.Equal(decimal.RequireFromString("19.99")))

	net, err := svc.Net(ctx, p.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "2.00", net.StringFixed(2), "the fee is what remains with the platform")

	_, err = svc.Has(ctx, uuid.Nil, enums.LedgerEventTypeRefund)
	assert.Error(t, err)
}
