package pickup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lastbite/lastbite-backend/internal/offers"
	"github.com/lastbite/lastbite-backend/internal/testdb"
	"github.com/lastbite/lastbite-backend/internal/transactions"
	"github.com/lastbite/lastbite-backend/pkg/db"
	"github.com/lastbite/lastbite-backend/pkg/db/models"
	"github.com/lastbite/lastbite-backend/pkg/enums"
	"github.com/lastbite/lastbite-backend/pkg/outbox"
)

type stubPayouts struct {
	calls []uuid.UUID
	ok    bool
	err   error
}

func (s *stubPayouts) PayoutSeller(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	s.calls = append(s.calls, transactionID)
	return s.ok, s.err
}

type harness struct {
	client  *db.Client
	svc     Service
	payouts *stubPayouts
	now     time.Time
	seller  models.User
	buyer   uuid.UUID
	txn     models.Transaction
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := testdb.Open(t)
	h := &harness{
		client:  client,
		payouts: &stubPayouts{ok: true},
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		seller:  testdb.SeedUser(t, client.DB(), "acct_1"),
		buyer:   uuid.New(),
	}
	offer := testdb.SeedOffer(t, client.DB(), h.seller.ID, "19.99", h.now.Add(72*time.Hour))
	h.txn = testdb.SeedHold(t, client.DB(), offer, h.buyer, enums.TransactionStatusReserved, h.now.Add(time.Hour))

	svc, err := NewService(ServiceParams{
		TxRunner:     client,
		Offers:       offers.NewRepository(client.DB()),
		Transactions: transactions.NewRepository(client.DB()),
		Outbox:       outbox.NewService(outbox.NewRepository(client.DB()), nil),
		Payouts:      h.payouts,
		CodeTTL:      5 * time.Minute,
		Now:          func() time.Time { return h.now },
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) markPaid(t *testing.T) {
	require.NoError(t, h.client.DB().Model(&models.Transaction{}).Where("id = ?", h.txn.ID).Updates(map[string]any{
		"payment_intent_id": "pi_test",
		"paid_at":           h.now,
		"payout_status":     enums.PayoutStatusScheduled,
	}).Error)
}

func (h *harness) load(t *testing.T) *models.Transaction {
	txn, err := transactions.NewRepository(h.client.DB()).FindByID(context.Background(), h.txn.ID)
	require.NoError(t, err)
	return txn
}

func TestIssueCodeStoresDigestOnly(t *testing.T) {
	h := newHarness(t)
	code, err := h.svc.IssueCode(context.Background(), h.txn.ID, h.buyer)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(code.Token), 43, "256 bits of entropy")
	assert.True(t, code.ExpiresAt.Equal(h.now.Add(5*time.Minute)))

	stored := h.load(t)
	require.NotNil(t, stored.QRCodeToken)
	assert.NotEqual(t, code.Token, *stored.QRCodeToken)
	assert.Equal(t, Digest(code.Token), *stored.QRCodeToken)
}

func TestIssueCodeReplacesPrevious(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, err := h.svc.IssueCode(ctx, h.txn.ID, h.buyer)
	require.NoError(t, err)
	second, err := h.svc.IssueCode(ctx, h.txn.ID, h.buyer)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	_, err = h.svc.VerifyCode(ctx, first.Token, h.seller.ID)
	assert.True(t, errors.Is(err, ErrCodeNotFound))
	_, err = h.svc.VerifyCode(ctx, second.Token, h.seller.ID)
	require.NoError(t, err)
}

func TestIssueCodePreconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.IssueCode(ctx, h.txn.ID, h.seller.ID)
	assert.True(t, errors.Is(err, ErrNotBuyer))

	h.now = h.now.Add(2 * time.Hour)
	_, err = h.svc.IssueCode(ctx, h.txn.ID, h.buyer)
	assert.True(t, errors.Is(err, transactions.ErrReservationExpired))

	_, err = h.svc.IssueCode(ctx, uuid.New(), h.buyer)
	assert.True(t, errors.Is(err, transactions.ErrTransactionNotFound))
}

func TestVerifyCodeChecksSellerAndExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code, err := h.svc.IssueCode(ctx, h.txn.ID, h.buyer)
	require.NoError(t, err)

	_, err = h.svc.VerifyCode(ctx, code.Token, h.buyer)
	assert.True(t, errors.Is(err, ErrNotSeller))

	txn, err := h.svc.VerifyCode(ctx, code.Token, h.seller.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusReserved, txn.Status, "verify does not complete")

	h.now = h.now.Add(6 * time.Minute)
	_, err = h.svc.VerifyCode(ctx, code.Token, h.seller.ID)
	assert.True(t, errors.Is(err, ErrCodeExpired))
	assert.False(t, h.load(t).HasPickupCode(), "expired code is cleared")

	_, err = h.svc.VerifyCode(ctx, code.Token, h.seller.ID)
	assert.True(t, errors.Is(err, ErrCodeNotFound))

	_, err = h.svc.VerifyCode(ctx, "  ", h.seller.ID)
	require.Error(t, err)
}

func TestCompleteByCodeRequiresPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code, err := h.svc.IssueCode(ctx, h.txn.ID, h.buyer)
	require.NoError(t, err)

	_, err = h.svc.CompleteByCode(ctx, code.Token, h.seller.ID)
	assert.True(t, errors.Is(err, transactions.ErrPaymentRequired))
	assert.True(t, h.load(t).HasPickupCode(), "code survives a rejected completion")
	assert.Empty(t, h.payouts.calls)
}

func TestCompleteByCodeIsSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.markPaid(t)
	code, err := h.svc.IssueCode(ctx, h.txn.ID, h.buyer)
	require.NoError(t, err)

	txn, err := h.svc.CompleteByCode(ctx, code.Token, h.seller.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusCompleted, txn.Status)
	require.NotNil(t, txn.CompletedAt)
	assert.False(t, txn.HasPickupCode())
	assert.Equal(t, []uuid.UUID{h.txn.ID}, h.payouts.calls)

	offer, err := offers.NewRepository(h.client.DB()).FindByID(ctx, h.txn.OfferID)
	require.NoError(t, err)
	require.NotNil(t, offer.SoldAt)

	_, err = h.svc.CompleteByCode(ctx, code.Token, h.seller.ID)
	assert.True(t, errors.Is(err, ErrCodeNotFound))
	assert.Len(t, h.payouts.calls, 1)

	var events int64
	require.NoError(t, h.client.DB().Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventPickupCompleted).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestCompleteByCodeSurvivesPayoutFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.markPaid(t)
	h.payouts.ok = false
	h.payouts.err = errors.New("stripe down")

	code, err := h.svc.IssueCode(ctx, h.txn.ID, h.buyer)
	require.NoError(t, err)
	txn, err := h.svc.CompleteByCode(ctx, code.Token, h.seller.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusCompleted, txn.Status)
}

func TestDigestIsStable(t *testing.T) {
	assert.Equal(t, Digest("abc"), Digest(" abc "))
	assert.Len(t, Digest("abc"), 64)
	assert.Empty(t, Digest(""))
}
