package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lastbite/lastbite-backend/internal/ledger"
	"github.com/lastbite/lastbite-backend/internal/offers"
	"github.com/lastbite/lastbite-backend/internal/testdb"
	"github.com/lastbite/lastbite-backend/internal/transactions"
	"github.com/lastbite/lastbite-backend/internal/users"
	"github.com/lastbite/lastbite-backend/pkg/db"
	"github.com/lastbite/lastbite-backend/pkg/db/models"
	"github.com/lastbite/lastbite-backend/pkg/enums"
	pkgerrors "github.com/lastbite/lastbite-backend/pkg/errors"
	"github.com/lastbite/lastbite-backend/pkg/outbox"
	lbstripe "github.com/lastbite/lastbite-backend/pkg/stripe"
)

type fakeGateway struct {
	mu          sync.Mutex
	events      map[string]*lbstripe.WebhookEvent
	checkouts   []lbstripe.CheckoutRequest
	transfers   []lbstripe.TransferRequest
	refunds     []lbstripe.RefundRequest
	checkoutErr error
	transferErr error
	refundErr   error
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req lbstripe.CheckoutRequest) (*lbstripe.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkouts = append(g.checkouts, req)
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	return &lbstripe.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.test/cs_test"}, nil
}

func (g *fakeGateway) CreateTransfer(ctx context.Context, req lbstripe.TransferRequest) (*lbstripe.Transfer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transfers = append(g.transfers, req)
	if g.transferErr != nil {
		return nil, g.transferErr
	}
	return &lbstripe.Transfer{ID: "tr_test"}, nil
}

func (g *fakeGateway) CreateRefund(ctx context.Context, req lbstripe.RefundRequest) (*lbstripe.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, req)
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &lbstripe.Refund{ID: "re_test", Status: "succeeded"}, nil
}

// VerifyWebhookSignature treats the signature as a lookup key for a prepared event.
func (g *fakeGateway) VerifyWebhookSignature(payload []byte, signature string) (*lbstripe.WebhookEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	event, ok := g.events[signature]
	if !ok {
		return nil, lbstripe.ErrSignature
	}
	return event, nil
}

type memoryGuard struct {
	mu      sync.Mutex
	seen    map[string]bool
	seenErr error
}

func (g *memoryGuard) Seen(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seenErr != nil {
		return false, g.seenErr
	}
	return g.seen[key], nil
}

func (g *memoryGuard) Mark(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen[key] = true
	return nil
}

// flakyLedger fails Record while failing is set.
type flakyLedger struct {
	ledger.Service
	failing *bool
}

func (l flakyLedger) WithTx(tx *gorm.DB) ledger.Service {
	return flakyLedger{Service: l.Service.WithTx(tx), failing: l.failing}
}

func (l flakyLedger) Record(ctx context.Context, parties ledger.Parties, entries ...ledger.Entry) ([]models.LedgerEvent, error) {
	if *l.failing {
		return nil, errors.New("ledger write failed")
	}
	return l.Service.Record(ctx, parties, entries...)
}

type harness struct {
	client  *db.Client
	svc     Service
	params  ServiceParams
	gateway *fakeGateway
	guard   *memoryGuard
	ledger  ledger.Service
	now     time.Time
	seller  models.User
	buyer   uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := testdb.Open(t)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()))
	require.NoError(t, err)

	h := &harness{
		client:  client,
		gateway: &fakeGateway{events: map[string]*lbstripe.WebhookEvent{}},
		guard:   &memoryGuard{seen: map[string]bool{}},
		ledger:  ledgerSvc,
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		seller:  testdb.SeedUser(t, client.DB(), "acct_seller"),
		buyer:   uuid.New(),
	}
	h.params = ServiceParams{
		TxRunner:     client,
		Transactions: transactions.NewRepository(client.DB()),
		Offers:       offers.NewRepository(client.DB()),
		Ledger:       ledgerSvc,
		Outbox:       outbox.NewService(outbox.NewRepository(client.DB()), nil),
		Gateway:      h.gateway,
		Accounts:     users.NewRepository(client.DB()),
		WebhookGuard: h.guard,
		FeePercent:   decimal.NewFromInt(10),
		SuccessURL:   "https://lastbite.test/paid",
		CancelURL:    "https://lastbite.test/cancelled",
		Now:          func() time.Time { return h.now },
	}
	h.rebuild(t, nil)
	return h
}

// rebuild swaps the service under test for one built from tweaked params.
func (h *harness) rebuild(t *testing.T, tweak func(*ServiceParams)) {
	t.Helper()
	params := h.params
	if tweak != nil {
		tweak(&params)
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	h.svc = svc
}

func (h *harness) hold(t *testing.T, sellerID uuid.UUID, status enums.TransactionStatus) models.Transaction {
	t.Helper()
	offer := testdb.SeedOffer(t, h.client.DB(), sellerID, "19.99", h.now.Add(72*time.Hour))
	return testdb.SeedHold(t, h.client.DB(), offer, h.buyer, status, h.now.Add(time.Hour))
}

// completedPaid returns a handed-over transaction awaiting its payout.
func (h *harness) completedPaid(t *testing.T, sellerID uuid.UUID) models.Transaction {
	t.Helper()
	offer := testdb.SeedOffer(t, h.client.DB(), sellerID, "19.99", h.now.Add(72*time.Hour))
	return testdb.SeedPaidHold(t, h.client.DB(), offer, h.buyer, enums.TransactionStatusCompleted, h.now.Add(time.Hour))
}

func (h *harness) paid(t *testing.T, status enums.TransactionStatus) models.Transaction {
	t.Helper()
	offer := testdb.SeedOffer(t, h.client.DB(), h.seller.ID, "19.99", h.now.Add(72*time.Hour))
	return testdb.SeedPaidHold(t, h.client.DB(), offer, h.buyer, status, h.now.Add(time.Hour))
}

func (h *harness) load(t *testing.T, id uuid.UUID) *models.Transaction {
	t.Helper()
	txn, err := transactions.NewRepository(h.client.DB()).FindByID(context.Background(), id)
	require.NoError(t, err)
	return txn
}

func (h *harness) ledgerTypes(t *testing.T, id uuid.UUID) []enums.LedgerEventType {
	t.Helper()
	rows, err := h.ledger.List(context.Background(), id)
	require.NoError(t, err)
	out := make([]enums.LedgerEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Type)
	}
	return out
}

func (h *harness) outboxCount(t *testing.T, aggregateID uuid.UUID, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.client.DB().Model(&models.OutboxEvent{}).
		Where("aggregate_id = ? AND event_type = ?", aggregateID, eventType).
		Count(&count).Error)
	return count
}

func (h *harness) prepareEvent(signature string, event *lbstripe.WebhookEvent) {
	h.gateway.mu.Lock()
	defer h.gateway.mu.Unlock()
	h.gateway.events[signature] = event
}

func checkoutEvent(id string, txn models.Transaction) *lbstripe.WebhookEvent {
	return &lbstripe.WebhookEvent{
		ID:                id,
		Type:              lbstripe.EventCheckoutCompleted,
		CheckoutSessionID: "cs_test",
		PaymentIntentID:   "pi_" + txn.ID.String(),
		PaymentStatus:     "paid",
		Metadata:          paymentMetadata(&txn),
	}
}

func TestSplitFee(t *testing.T) {
	fee, seller := SplitFee(decimal.RequireFromString("19.99"), decimal.NewFromInt(10))
	assert.Equal(t, "2.00", fee.StringFixed(2))
	assert.Equal(t, "17.99", seller.StringFixed(2))

	amounts := []string{"0.01", "0.05", "0.15", "1.00", "3.33", "9.95", "10.00", "19.99", "123.45", "999.99"}
	percents := []string{"0", "7.5", "10", "12.5", "33", "100"}
	for _, raw := range amounts {
		for _, pct := range percents {
			amount := decimal.RequireFromString(raw)
			fee, seller := SplitFee(amount, decimal.RequireFromString(pct))
			assert.True(t, fee.Add(seller).Equal(amount), "amount %s pct %s", raw, pct)
			assert.False(t, fee.IsNegative())
			assert.False(t, seller.IsNegative())
			assert.True(t, fee.Equal(fee.Round(2)), "fee is whole cents")
		}
	}

	fee, _ = SplitFee(decimal.RequireFromString("0.05"), decimal.NewFromInt(10))
	assert.Equal(t, "0.01", fee.StringFixed(2), "half a cent rounds away from zero")
}

func TestCreateCheckout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	txn := h.hold(t, h.seller.ID, enums.TransactionStatusReserved)

	result, err := h.svc.CreateCheckout(ctx, txn.ID, h.buyer)
	require.NoError(t, err)
	assert.Equal(t, "cs_test", result.SessionID)
	assert.Equal(t, "https://checkout.stripe.test/cs_test", result.URL)

	require.Len(t, h.gateway.checkouts, 1)
	req := h.gateway.checkouts[0]
	assert.True(t, req.Amount.Equal(decimal.RequireFromString("19.99")))
	assert.Equal(t, fmt.Sprintf("checkout:%s:%d", txn.ID, txn.UpdatedAt.UnixNano()), req.IdempotencyKey)
	assert.Equal(t, txn.ID.String(), req.Metadata["transaction_id"])
	assert.Equal(t, txn.OfferID.String(), req.Metadata["offer_id"])
	assert.Equal(t, h.buyer.String(), req.Metadata["buyer_id"])
	assert.Equal(t, h.seller.ID.String(), req.Metadata["seller_id"])
	assert.Equal(t, "Surplus bread basket", req.Description)

	stored := h.load(t, txn.ID)
	require.NotNil(t, stored.CheckoutSessionID)
	assert.Equal(t, "cs_test", *stored.CheckoutSessionID)
	assert.Equal(t, enums.TransactionStatusReserved, stored.Status)
}

func TestCreateCheckoutRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	txn := h.hold(t, h.seller.ID, enums.TransactionStatusReserved)

	_, err := h.svc.CreateCheckout(ctx, txn.ID, h.seller.ID)
	assert.True(t, errors.Is(err, ErrNotBuyer))

	_, err = h.svc.CreateCheckout(ctx, uuid.New(), h.buyer)
	assert.True(t, errors.Is(err, transactions.ErrTransactionNotFound))

	h.now = h.now.Add(2 * time.Hour)
	_, err = h.svc.CreateCheckout(ctx, txn.ID, h.buyer)
	assert.True(t, errors.Is(err, transactions.ErrReservationExpired))
	assert.Empty(t, h.gateway.checkouts)
}

func TestCreateCheckoutProviderFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	txn := h.hold(t, h.seller.ID, enums.TransactionStatusReserved)
	h.gateway.checkoutErr = errors.New("card network down")

	_, err := h.svc.CreateCheckout(context.Background(), txn.ID, h.buyer)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeDependency, typed.Code())

	stored := h.load(t, txn.ID)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "card network down")
	assert.Equal(t, enums.TransactionStatusReserved, stored.Status, "hold stays open for another attempt")

	h.gateway.checkoutErr = nil
	_, err = h.svc.CreateCheckout(context.Background(), txn.ID, h.buyer)
	require.NoError(t, err)
	require.Len(t, h.gateway.checkouts, 2)
	assert.NotEqual(t, h.gateway.checkouts[0].IdempotencyKey, h.gateway.checkouts[1].IdempotencyKey,
		"a retry after a recorded failure must not replay the failed request")
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	txn := h.hold(t, h.seller.ID, enums.TransactionStatusReserved)
	h.prepareEvent("good", checkoutEvent("evt_1", txn))

	err := h.svc.HandlePaymentWebhook(context.Background(), []byte(`{}`), "forged")
	assert.True(t, errors.Is(err, ErrInvalidSignature))

	stored := h.load(t, txn.ID)
	assert.False(t, stored.IsPaid())
	assert.Empty(t, h.guard.seen)
}

func TestWebhookRecordsPaymentOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	txn := h.hold(t, h.seller.ID, enums.TransactionStatusPending)
	h.prepareEvent("sig_1", checkoutEvent("evt_1", txn))
	redelivery := checkoutEvent("evt_2", txn)
	redelivery.Type = lbstripe.EventCheckoutAsyncPaymentSucceeds
	h.prepareEvent("sig_2", redelivery)

	require.NoError(t, h.svc.HandlePaymentWebhook(ctx, nil, "sig_1"))
	require.NoError(t, h.svc.HandlePaymentWebhook(ctx, nil, "sig_1"))
	require.NoError(t, h.svc.HandlePaymentWebhook(ctx, nil, "sig_2"))

	stored := h.load(t, txn.ID)
	assert.Equal(t, enums.TransactionStatusReserved, stored.Status)
	assert.True(t, stored.IsPaid())
	assert.Equal(t, enums.PayoutStatusScheduled, stored.PayoutStatus)
	require.NotNil(t, stored.PaidAt)
	assert.Equal(t, []enums.LedgerEventType{enums.LedgerEventTypePaymentReceived}, h.ledgerTypes(t, txn.ID))
	assert.Equal(t, int64(1), h.outboxCount(t, txn.ID, enums.EventPaymentReceived))
}

func TestWebhookIgnoresUnpaidAndUnknown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	txn := h.hold(t, h.seller.ID, enums.TransactionStatusReserved)

	unpaid := checkoutEvent("evt_unpaid", txn)
	unpaid.PaymentStatus = "unpaid"
	h.prepareEvent("sig_unpaid", unpaid)
	require.NoError(t, h.svc.HandlePaymentWebhook(ctx, nil, "sig_unpaid"))

	h.prepareEvent("sig_other", &lbstripe.WebhookEvent{ID: "evt_other", Type: "customer.created"})
	require.NoError(t, h.svc.HandlePaymentWebhook(ctx, nil, "sig_other"))

	stranger := checkoutEvent("evt_stranger", txn)
	stranger.Metadata = map[string]string{"transaction_id": uuid.NewString()}
	h.prepareEvent("sig_stranger", stranger)
	require.NoError(t, h.svc.HandlePaymentWebhook(ctx, nil, "sig_stranger"))

	tampered := checkoutEvent("evt_tampered", txn)
	tampered.Metadata["seller_id"] = uuid.NewString()
	h.prepareEvent("sig_tampered", tampered)
	require.NoError(t, h.svc.HandlePaymentWebhook(ctx, nil, "sig_tampered"))

	assert.False(t, h.load(t, txn.ID).IsPaid())
}

func TestWebhookFailureLeavesEventUnmarked(t *testing.T) {
	h := newHarness(t)
	txn := h.hold(t, h.seller.ID, enums.TransactionStatusReserved)
	broken := checkoutEvent("evt_broken", txn)
	broken.PaymentIntentID = ""
	h.prepareEvent("sig_broken", broken)

	err := h.svc.HandlePaymentWebhook(context.Background(), nil, "sig_broken")
	require.Error(t, err)
	assert.False(t, h.guard.seen["evt_broken"], "a failed event must stay retryable")
}

func TestWebhookMarksEventOnlyAfterCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	txn := h.hold(t, h.seller.ID, enums.TransactionStatusReserved)
	h.prepareEvent("sig_1", checkoutEvent("evt_1", txn))

	require.NoError(t, h.svc.HandlePaymentWebhook(ctx, nil, "sig_1"))
	assert.True(t, h.guard.seen["evt_1"])
	assert.True(t, h.load(t, txn.ID).IsPaid())

	// The mark is lost (crash before Mark, or a Redis flush): the redelivery
	// is still absorbed by the unpaid precondition.
	delete(h.guard.seen, "evt_1")
	require.NoError(t, h.svc.HandlePaymentWebhook(ctx, nil, "sig_1"))
	assert.Equal(t, []enums.LedgerEventType{enums.LedgerEventTypePaymentReceived}, h.ledgerTypes(t, txn.ID))
	assert.Equal(t, int64(1), h.outboxCount(t, txn.ID, enums.EventPaymentReceived))
}

func TestWebhookProcessesWhenGuardUnavailable(t *testing.T) {
	h := newHarness(t)
	txn := h.hold(t, h.seller.ID, enums.TransactionStatusReserved)
	h.prepareEvent("sig_1", checkoutEvent("evt_1", txn))
	h.guard.seenErr = errors.New("redis down")

	require.NoError(t, h.svc.HandlePaymentWebhook(context.Background(), nil, "sig_1"))
	assert.True(t, h.load(t, txn.ID).IsPaid())
}

func TestWebhookAfterExpiryIsOrphaned(t *testing.T) {
	h := newHarness(t)
	txn := h.hold(t, h.seller.ID, enums.TransactionStatusFailed)
	h.prepareEvent("sig_late", checkoutEvent("evt_late", txn))

	require.NoError(t, h.svc.HandlePaymentWebhook(context.Background(), nil, "sig_late"))

	stored := h.load(t, txn.ID)
	assert.Equal(t, enums.TransactionStatusFailed, stored.Status)
	assert.True(t, stored.IsPaid())
	assert.Equal(t, enums.PayoutStatusNone, stored.PayoutStatus)
	assert.Equal(t, int64(1), h.outboxCount(t, txn.ID, enums.EventPaymentOrphaned))
	assert.Equal(t, int64(0), h.outboxCount(t, txn.ID, enums.EventPaymentReceived))
}

func TestPayoutSellerTransfersSellerShare(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	txn := h.completedPaid(t, h.seller.ID)

	ok, err := h.svc.PayoutSeller(ctx, txn.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, h.gateway.transfers, 1)
	req := h.gateway.transfers[0]
	assert.Equal(t, "acct_seller", req.Destination)
	assert.True(t, req.Amount.Equal(decimal.RequireFromString("17.99")))
	assert.Equal(t, "payout:"+txn.ID.String()+":1", req.IdempotencyKey)

	stored := h.load(t, txn.ID)
	assert.Equal(t, enums.TransactionStatusCompleted, stored.Status)
	assert.Equal(t, enums.PayoutStatusTransferred, stored.PayoutStatus)
	require.NotNil(t, stored.TransferID)
	assert.Equal(t, "tr_test", *stored.TransferID)
	require.NotNil(t, stored.TransferredAt)
	require.NotNil(t, stored.PlatformFee)
	assert.Equal(t, "2.00", stored.PlatformFee.StringFixed(2))
	assert.ElementsMatch(t, []enums.LedgerEventType{enums.LedgerEventTypePlatformFee, enums.LedgerEventTypeSellerPayout}, h.ledgerTypes(t, txn.ID))

	ok, err = h.svc.PayoutSeller(ctx, txn.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, h.gateway.transfers, 1, "transferred payouts are not repeated")
}

func TestPayoutFailureIsRetryable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	txn := h.completedPaid(t, h.seller.ID)
	h.gateway.transferErr = errors.New("insufficient platform balance")

	ok, err := h.svc.PayoutSeller(ctx, txn.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, h.gateway.transfers, 1, "no automatic retry within the call")

	stored := h.load(t, txn.ID)
	assert.Equal(t, enums.TransactionStatusCompleted, stored.Status)
	assert.Equal(t, enums.PayoutStatusFailed, stored.PayoutStatus)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "insufficient platform balance")
	assert.Equal(t, int64(1), h.outboxCount(t, txn.ID, enums.EventPayoutFailed))
	assert.Empty(t, h.ledgerTypes(t, txn.ID))

	h.gateway.transferErr = nil
	ok, err = h.svc.RetryPayout(ctx, txn.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, h.gateway.transfers, 2)
	assert.Equal(t, "payout:"+txn.ID.String()+":2", h.gateway.transfers[1].IdempotencyKey)

	stored = h.load(t, txn.ID)
	assert.Equal(t, enums.PayoutStatusTransferred, stored.PayoutStatus)
	assert.Nil(t, stored.ErrorMessage)
	assert.Equal(t, 2, stored.PayoutAttempts)
}

func TestPayoutWithoutConnectedAccountFails(t *testing.T) {
	h := newHarness(t)
	seller := testdb.SeedUser(t, h.client.DB(), "")
	txn := h.completedPaid(t, seller.ID)

	ok, err := h.svc.PayoutSeller(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, h.gateway.transfers)
	assert.Equal(t, enums.PayoutStatusFailed, h.load(t, txn.ID).PayoutStatus)
}

func (h *harness) setPayout(t *testing.T, id uuid.UUID, status enums.PayoutStatus, attempts int, updatedAt time.Time) {
	t.Helper()
	require.NoError(t, h.client.DB().Model(&models.Transaction{}).Where("id = ?", id).Updates(map[string]any{
		"payout_status":   status,
		"payout_attempts": attempts,
		"updated_at":      updatedAt,
	}).Error)
}

func TestPayoutLedgerFailureKeepsTransfer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	failing := true
	h.rebuild(t, func(p *ServiceParams) { p.Ledger = flakyLedger{Service: h.ledger, failing: &failing} })
	txn := h.completedPaid(t, h.seller.ID)

	ok, err := h.svc.PayoutSeller(ctx, txn.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, h.gateway.transfers, 1)

	stored := h.load(t, txn.ID)
	assert.Equal(t, enums.PayoutStatusFailed, stored.PayoutStatus, "the claim must not stay in processing")
	require.NotNil(t, stored.TransferID)
	assert.Equal(t, "tr_test", *stored.TransferID)
	assert.Empty(t, h.ledgerTypes(t, txn.ID))

	failing = false
	ok, err = h.svc.RetryPayout(ctx, txn.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, h.gateway.transfers, 1, "the recorded transfer is reused, not repeated")

	stored = h.load(t, txn.ID)
	assert.Equal(t, enums.PayoutStatusTransferred, stored.PayoutStatus)
	assert.ElementsMatch(t, []enums.LedgerEventType{enums.LedgerEventTypePlatformFee, enums.LedgerEventTypeSellerPayout}, h.ledgerTypes(t, txn.ID))
	assert.Equal(t, int64(1), h.outboxCount(t, txn.ID, enums.EventPayoutTransferred))
}

func TestPayoutResumesAbandonedClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	txn := h.completedPaid(t, h.seller.ID)
	h.setPayout(t, txn.ID, enums.PayoutStatusProcessing, 1, h.now.Add(-time.Hour))

	ok, err := h.svc.RetryPayout(ctx, txn.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, h.gateway.transfers, 1)
	assert.Equal(t, "payout:"+txn.ID.String()+":1", h.gateway.transfers[0].IdempotencyKey, "a resumed claim reuses its attempt key")

	stored := h.load(t, txn.ID)
	assert.Equal(t, enums.PayoutStatusTransferred, stored.PayoutStatus)
	assert.Equal(t, 1, stored.PayoutAttempts)
}

func TestPayoutLeavesLiveClaimAlone(t *testing.T) {
	h := newHarness(t)
	txn := h.completedPaid(t, h.seller.ID)
	h.setPayout(t, txn.ID, enums.PayoutStatusProcessing, 1, h.now.Add(-time.Minute))

	ok, err := h.svc.PayoutSeller(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, h.gateway.transfers)
	assert.Equal(t, enums.PayoutStatusProcessing, h.load(t, txn.ID).PayoutStatus)
}

func TestPayoutPreconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reserved := h.hold(t, h.seller.ID, enums.TransactionStatusReserved)
	_, err := h.svc.PayoutSeller(ctx, reserved.ID)
	assert.True(t, errors.Is(err, transactions.ErrInvalidTransition))

	paidReserved := h.paid(t, enums.TransactionStatusReserved)
	_, err = h.svc.PayoutSeller(ctx, paidReserved.ID)
	assert.True(t, errors.Is(err, transactions.ErrInvalidTransition), "payout waits for the handover")

	scheduled := h.completedPaid(t, h.seller.ID)
	_, err = h.svc.RetryPayout(ctx, scheduled.ID)
	assert.True(t, errors.Is(err, transactions.ErrInvalidTransition), "retry only follows a failure")
	assert.Empty(t, h.gateway.transfers)
}

func TestRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	txn := h.completedPaid(t, h.seller.ID)

	ok, err := h.svc.Refund(ctx, txn.ID, "item was spoiled")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, h.gateway.refunds, 1)
	assert.Equal(t, "pi_"+txn.ID.String(), h.gateway.refunds[0].PaymentIntentID)
	assert.True(t, strings.HasPrefix(h.gateway.refunds[0].IdempotencyKey, "refund:"+txn.ID.String()+":"))

	stored := h.load(t, txn.ID)
	assert.Equal(t, enums.TransactionStatusRefunded, stored.Status)
	require.NotNil(t, stored.RefundedAt)
	require.NotNil(t, stored.RefundID)
	assert.Equal(t, "re_test", *stored.RefundID)
	assert.Equal(t, []enums.LedgerEventType{enums.LedgerEventTypeRefund}, h.ledgerTypes(t, txn.ID))
	assert.Equal(t, int64(1), h.outboxCount(t, txn.ID, enums.EventTransactionRefunded))

	ok, err = h.svc.Refund(ctx, txn.ID, "again")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, h.gateway.refunds, 1)
}

func TestRefundRejectionsAndFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reserved := h.hold(t, h.seller.ID, enums.TransactionStatusReserved)
	_, err := h.svc.Refund(ctx, reserved.ID, "changed mind")
	assert.True(t, errors.Is(err, transactions.ErrInvalidTransition))

	txn := h.completedPaid(t, h.seller.ID)
	h.gateway.refundErr = errors.New("charge disputed")
	ok, err := h.svc.Refund(ctx, txn.ID, "spoiled")
	require.NoError(t, err)
	assert.False(t, ok)

	stored := h.load(t, txn.ID)
	assert.Equal(t, enums.TransactionStatusCompleted, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "charge disputed")
	assert.Empty(t, h.ledgerTypes(t, txn.ID))

	h.gateway.refundErr = nil
	ok, err = h.svc.Refund(ctx, txn.ID, "spoiled")
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, h.gateway.refunds, 2)
	assert.NotEqual(t, h.gateway.refunds[0].IdempotencyKey, h.gateway.refunds[1].IdempotencyKey)
	assert.Equal(t, enums.TransactionStatusRefunded, h.load(t, txn.ID).Status)
}

func TestNewServiceValidatesParams(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)

	h := newHarness(t)
	_, err = NewService(ServiceParams{
		TxRunner:     h.client,
		Transactions: transactions.NewRepository(h.client.DB()),
		Offers:       offers.NewRepository(h.client.DB()),
		Ledger:       h.ledger,
		Outbox:       outbox.NewService(outbox.NewRepository(h.client.DB()), nil),
		Gateway:      h.gateway,
		Accounts:     users.NewRepository(h.client.DB()),
		FeePercent:   decimal.NewFromInt(101),
	})
	require.Error(t, err)
}
