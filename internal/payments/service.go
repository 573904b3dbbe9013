package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lastbite/lastbite-backend/internal/ledger"
	"github.com/lastbite/lastbite-backend/internal/offers"
	"github.com/lastbite/lastbite-backend/internal/transactions"
	"github.com/lastbite/lastbite-backend/pkg/db/models"
	"github.com/lastbite/lastbite-backend/pkg/enums"
	pkgerrors "github.com/lastbite/lastbite-backend/pkg/errors"
	"github.com/lastbite/lastbite-backend/pkg/logger"
	"github.com/lastbite/lastbite-backend/pkg/metrics"
	"github.com/lastbite/lastbite-backend/pkg/outbox"
	lbstripe "github.com/lastbite/lastbite-backend/pkg/stripe"
)

var (
	ErrInvalidSignature = pkgerrors.New(pkgerrors.CodeValidation, "webhook signature invalid")
	ErrNotBuyer         = pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can pay for this reservation")
	ErrAlreadyPaid      = pkgerrors.New(pkgerrors.CodeConflict, "reservation is already paid")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Gateway is the subset of the payment provider the orchestrator needs.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req lbstripe.CheckoutRequest) (*lbstripe.CheckoutSession, error)
	CreateTransfer(ctx context.Context, req lbstripe.TransferRequest) (*lbstripe.Transfer, error)
	CreateRefund(ctx context.Context, req lbstripe.RefundRequest) (*lbstripe.Refund, error)
	VerifyWebhookSignature(payload []byte, signature string) (*lbstripe.WebhookEvent, error)
}

// PayoutAccounts resolves the connected account a seller is paid to.
type PayoutAccounts interface {
	FindPayoutAccount(ctx context.Context, userID uuid.UUID) (string, error)
}

// WebhookGuard remembers provider event ids that were fully processed.
type WebhookGuard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// Service orchestrates checkout, payment confirmation, seller payouts and refunds.
type Service interface {
	CreateCheckout(ctx context.Context, transactionID, requesterID uuid.UUID) (*CheckoutResult, error)
	HandlePaymentWebhook(ctx context.Context, payload []byte, signature string) error
	PayoutSeller(ctx context.Context, transactionID uuid.UUID) (bool, error)
	RetryPayout(ctx context.Context, transactionID uuid.UUID) (bool, error)
	Refund(ctx context.Context, transactionID uuid.UUID, reason string) (bool, error)
}

// CheckoutResult is what the buyer needs to complete the payment.
type CheckoutResult struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	SessionID     string    `json:"session_id"`
	URL           string    `json:"url"`
}

type ServiceParams struct {
	TxRunner     txRunner
	Transactions transactions.Repository
	Offers       offers.Repository
	Ledger       ledger.Service
	Outbox       outbox.Emitter
	Gateway      Gateway
	Accounts     PayoutAccounts
	WebhookGuard WebhookGuard
	Metrics      *metrics.MarketplaceMetrics
	Logger       *logger.Logger
	FeePercent   decimal.Decimal
	SuccessURL   string
	CancelURL    string

	// PayoutLease bounds how long a claimed payout may stay in processing
	// before another caller may resume it.
	PayoutLease time.Duration
	Now         func() time.Time
}

type service struct {
	tx           txRunner
	transactions transactions.Repository
	offers       offers.Repository
	ledger       ledger.Service
	outbox       outbox.Emitter
	gateway      Gateway
	accounts     PayoutAccounts
	guard        WebhookGuard
	metrics      *metrics.MarketplaceMetrics
	logg         *logger.Logger
	feePercent   decimal.Decimal
	successURL   string
	cancelURL    string
	payoutLease  time.Duration
	now          func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Transactions == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	if params.Offers == nil {
		return nil, fmt.Errorf("offers repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("payout accounts required")
	}
	if params.FeePercent.IsNegative() || params.FeePercent.GreaterThan(hundred) {
		return nil, fmt.Errorf("fee percent must be between 0 and 100")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	lease := params.PayoutLease
	if lease <= 0 {
		lease = defaultPayoutLease
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		tx:           params.TxRunner,
		transactions: params.Transactions,
		offers:       params.Offers,
		ledger:       params.Ledger,
		outbox:       params.Outbox,
		gateway:      params.Gateway,
		accounts:     params.Accounts,
		guard:        params.WebhookGuard,
		metrics:      params.Metrics,
		logg:         logg,
		feePercent:   params.FeePercent,
		successURL:   params.SuccessURL,
		cancelURL:    params.CancelURL,
		payoutLease:  lease,
		now:          now,
	}, nil
}

func (s *service) CreateCheckout(ctx context.Context, transactionID, requesterID uuid.UUID) (*CheckoutResult, error) {
	txn, err := s.load(ctx, s.transactions, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.BuyerID != requesterID {
		return nil, ErrNotBuyer
	}
	if !txn.Status.IsOpen() {
		return nil, transactions.ErrInvalidTransition
	}
	now := s.now().UTC()
	if txn.IsReservationExpired(now) {
		return nil, transactions.ErrReservationExpired
	}
	if txn.IsPaid() {
		return nil, ErrAlreadyPaid
	}

	description := "LastBite reservation"
	if offer, err := s.offers.FindByID(ctx, txn.OfferID); err == nil && offer != nil {
		description = offer.Title
	}

	logCtx := s.logg.WithTransactionID(ctx, txn.ID.String())
	session, err := s.gateway.CreateCheckoutSession(ctx, lbstripe.CheckoutRequest{
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		Description:    description,
		ReferenceID:    txn.ID.String(),
		Metadata:       paymentMetadata(txn),
		SuccessURL:     s.successURL,
		CancelURL:      s.cancelURL,
		IdempotencyKey: attemptKey("checkout", txn),
	})
	if err != nil {
		s.logg.Error(s.logg.WithField(logCtx, "operation", "create_checkout"), "payment provider failed", err)
		s.recordError(ctx, txn.ID, enums.OpenTransactionStatuses, "checkout failed: "+err.Error())
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}

	won, err := s.transactions.CompareAndSet(ctx, txn.ID, transactions.Guard{
		Statuses: enums.OpenTransactionStatuses,
		Unpaid:   true,
	}, map[string]any{
		"checkout_session_id": session.ID,
		"error_message":       nil,
		"updated_at":          now,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store checkout session")
	}
	if !won {
		return nil, transactions.ErrInvalidTransition
	}

	s.logg.Info(s.logg.WithField(logCtx, "checkout_session_id", session.ID), "checkout session created")
	return &CheckoutResult{TransactionID: txn.ID, SessionID: session.ID, URL: session.URL}, nil
}

// recordError stores a provider failure on the row without changing its state.
// attemptKey scopes a provider idempotency key to the row version, so
// concurrent duplicates share a key while a retry after a recorded failure
// gets a fresh one.
func attemptKey(operation string, txn *models.Transaction) string {
	return fmt.Sprintf("%s:%s:%d", operation, txn.ID, txn.UpdatedAt.UnixNano())
}

func (s *service) recordError(ctx context.Context, id uuid.UUID, statuses []enums.TransactionStatus, message string) {
	if _, err := s.transactions.CompareAndSet(ctx, id, transactions.Guard{Statuses: statuses}, map[string]any{
		"error_message": truncate(message),
		"updated_at":    s.now().UTC(),
	}); err != nil {
		s.logg.Error(s.logg.WithTransactionID(ctx, id.String()), "record provider error", err)
	}
}

func (s *service) load(ctx context.Context, repo transactions.Repository, id uuid.UUID) (*models.Transaction, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	txn, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, transactions.ErrTransactionNotFound) {
			return nil, transactions.ErrTransactionNotFound
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return txn, nil
}

func paymentMetadata(txn *models.Transaction) map[string]string {
	return map[string]string{
		"transaction_id": txn.ID.String(),
		"offer_id":       txn.OfferID.String(),
		"buyer_id":       txn.BuyerID.String(),
		"seller_id":      txn.SellerID.String(),
	}
}

func truncate(message string) string {
	message = strings.TrimSpace(message)
	if len(message) > 1024 {
		return message[:1024]
	}
	return message
}
