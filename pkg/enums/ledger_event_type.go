package enums

import "fmt"

// LedgerEventType is the kind of money movement in ledger_events.type.
type LedgerEventType string

const (
	LedgerEventTypePaymentReceived LedgerEventType = "payment_received"
	LedgerEventTypePlatformFee     LedgerEventType = "platform_fee"
	LedgerEventTypeSellerPayout    LedgerEventType = "seller_payout"
	LedgerEventTypeRefund          LedgerEventType = "refund"
)

// ledgerEventTypes maps each type to whether it moves money out of the platform balance.
var ledgerEventTypes = map[LedgerEventType]bool{
	LedgerEventTypePaymentReceived: false,
	LedgerEventTypePlatformFee:     false,
	LedgerEventTypeSellerPayout:    true,
	LedgerEventTypeRefund:          true,
}

func (t LedgerEventType) String() string { return string(t) }

func (t LedgerEventType) IsValid() bool {
	_, ok := ledgerEventTypes[t]
	return ok
}

// IsOutflow reports whether the event pays money out (to a seller or back to a buyer).
func (t LedgerEventType) IsOutflow() bool {
	return ledgerEventTypes[t]
}

func ParseLedgerEventType(value string) (LedgerEventType, error) {
	t := LedgerEventType(value)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown ledger event type %q", value)
	}
	return t, nil
}
