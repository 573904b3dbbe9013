package enums

import "fmt"

// PayoutStatus tracks the seller transfer independently of the hold status.
type PayoutStatus string

const (
	PayoutStatusNone        PayoutStatus = "none"
	PayoutStatusScheduled   PayoutStatus = "scheduled"
	PayoutStatusProcessing  PayoutStatus = "processing"
	PayoutStatusTransferred PayoutStatus = "transferred"
	PayoutStatusFailed      PayoutStatus = "failed"
)

var validPayoutStatuses = []PayoutStatus{
	PayoutStatusNone,
	PayoutStatusScheduled,
	PayoutStatusProcessing,
	PayoutStatusTransferred,
	PayoutStatusFailed,
}

// ClaimablePayoutStatuses may be moved to processing by a payout attempt.
var ClaimablePayoutStatuses = []PayoutStatus{
	PayoutStatusScheduled,
	PayoutStatusFailed,
}

// String implements fmt.Stringer.
func (p PayoutStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PayoutStatus.
func (p PayoutStatus) IsValid() bool {
	for _, candidate := range validPayoutStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePayoutStatus converts raw input into a PayoutStatus.
func ParsePayoutStatus(value string) (PayoutStatus, error) {
	for _, candidate := range validPayoutStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout status %q", value)
}
