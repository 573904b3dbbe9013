package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lastbite/lastbite-backend/pkg/db/models"
	"github.com/lastbite/lastbite-backend/pkg/enums"
)

// Service appends money movements for a transaction. Callers pass the tx-bound
// service so ledger rows commit with the state change they describe.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Record(ctx context.Context, parties Parties, entries ...Entry) ([]models.LedgerEvent, error)
	Has(ctx context.Context, transactionID uuid.UUID, eventType enums.LedgerEventType) (bool, error)
	List(ctx context.Context, transactionID uuid.UUID) ([]models.LedgerEvent, error)
	Net(ctx context.Context, transactionID uuid.UUID) (decimal.Decimal, error)
}

// Parties identifies the transaction every entry in a Record call belongs to.
type Parties struct {
	TransactionID uuid.UUID
	BuyerID       uuid.UUID
	SellerID      uuid.UUID
	Currency      string
}

// PartiesOf copies the ledger-relevant identifiers off a transaction.
func PartiesOf(txn *models.Transaction) Parties {
	return Parties{
		TransactionID: txn.ID,
		BuyerID:       txn.BuyerID,
		SellerID:      txn.SellerID,
		Currency:      txn.Currency,
	}
}

// Entry is one money movement.
type Entry struct {
	Type        enums.LedgerEventType
	Amount      decimal.Decimal
	ExternalRef string
	Metadata    json.RawMessage
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	return &service{repo: s.repo.WithTx(tx)}
}

func (p Parties) validate() error {
	switch {
	case p.TransactionID == uuid.Nil:
		return fmt.Errorf("ledger: transaction id is required")
	case p.BuyerID == uuid.Nil || p.SellerID == uuid.Nil:
		return fmt.Errorf("ledger: buyer and seller are required")
	case strings.TrimSpace(p.Currency) == "":
		return fmt.Errorf("ledger: currency is required")
	}
	return nil
}

// Record validates every entry before writing any, so a batch lands whole or not at all.
func (s *service) Record(ctx context.Context, parties Parties, entries ...Entry) ([]models.LedgerEvent, error) {
	if err := parties.validate(); err != nil {
		return nil, err
	}
	currency := strings.ToLower(strings.TrimSpace(parties.Currency))

	rows := make([]models.LedgerEvent, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type.IsValid() {
			return nil, fmt.Errorf("ledger: unknown event type %q", entry.Type)
		}
		if entry.Amount.IsNegative() {
			return nil, fmt.Errorf("ledger: %s amount is negative", entry.Type)
		}
		row := models.LedgerEvent{
			TransactionID: parties.TransactionID,
			BuyerID:       parties.BuyerID,
			SellerID:      parties.SellerID,
			Type:          entry.Type,
			Amount:        entry.Amount,
			Currency:      currency,
			Metadata:      entry.Metadata,
		}
		if entry.ExternalRef != "" {
			ref := entry.ExternalRef
			row.ExternalRef = &ref
		}
		rows = append(rows, row)
	}
	if err := s.repo.Append(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *service) Has(ctx context.Context, transactionID uuid.UUID, eventType enums.LedgerEventType) (bool, error) {
	if transactionID == uuid.Nil || !eventType.IsValid() {
		return false, fmt.Errorf("ledger: transaction id and a known event type are required")
	}
	return s.repo.Exists(ctx, transactionID, eventType)
}

func (s *service) List(ctx context.Context, transactionID uuid.UUID) ([]models.LedgerEvent, error) {
	if transactionID == uuid.Nil {
		return nil, fmt.Errorf("ledger: transaction id is required")
	}
	return s.repo.ForTransaction(ctx, transactionID)
}

// Net is what the platform still holds for a transaction: money received minus
// payouts and refunds. The platform fee stays inside the balance.
func (s *service) Net(ctx context.Context, transactionID uuid.UUID) (decimal.Decimal, error) {
	events, err := s.List(ctx, transactionID)
	if err != nil {
		return decimal.Zero, err
	}
	net := decimal.Zero
	for _, event := range events {
		switch {
		case event.Type == enums.LedgerEventTypePaymentReceived:
			net = net.Add(event.Amount)
		case event.Type.IsOutflow():
			net = net.Sub(event.Amount)
		}
	}
	return net, nil
}
