package enums

import "testing"

func TestTransactionStatusTransitions(t *testing.T) {
	legal := map[TransactionStatus][]TransactionStatus{
		TransactionStatusPending:   {TransactionStatusReserved, TransactionStatusFailed},
		TransactionStatusReserved:  {TransactionStatusCompleted, TransactionStatusFailed},
		TransactionStatusCompleted: {TransactionStatusRefunded},
	}

	for _, from := range validTransactionStatuses {
		for _, to := range validTransactionStatuses {
			want := false
			for _, allowed := range legal[from] {
				if allowed == to {
					want = true
				}
			}
			if got := from.CanTransitionTo(to); got != want {
				t.Fatalf("%s -> %s: expected %v got %v", from, to, want, got)
			}
		}
	}
}

func TestTerminalStatusesHaveNoExitExceptRefund(t *testing.T) {
	for _, terminal := range []TransactionStatus{TransactionStatusFailed, TransactionStatusRefunded} {
		for _, to := range validTransactionStatuses {
			if terminal.CanTransitionTo(to) {
				t.Fatalf("%s must be terminal, allowed %s", terminal, to)
			}
		}
	}
}

func TestTransactionStatusIsOpen(t *testing.T) {
	if !TransactionStatusPending.IsOpen() || !TransactionStatusReserved.IsOpen() {
		t.Fatal("pending and reserved must hold the offer")
	}
	if TransactionStatusCompleted.IsOpen() || TransactionStatusFailed.IsOpen() || TransactionStatusRefunded.IsOpen() {
		t.Fatal("completed, failed and refunded must not hold the offer")
	}
}

func TestParseTransactionStatus(t *testing.T) {
	got, err := ParseTransactionStatus("reserved")
	if err != nil || got != TransactionStatusReserved {
		t.Fatalf("unexpected parse result %q %v", got, err)
	}
	if _, err := ParseTransactionStatus("sold"); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if TransactionStatus("sold").IsValid() {
		t.Fatal("unknown status must be invalid")
	}
}

func TestParsePayoutStatus(t *testing.T) {
	if _, err := ParsePayoutStatus("processing"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParsePayoutStatus("paid"); err == nil {
		t.Fatal("expected error for unknown payout status")
	}
}
