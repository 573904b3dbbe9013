package models

import (
	"testing"
	"time"
)

func TestOutboxEventDeliveryState(t *testing.T) {
	var row OutboxEvent
	if row.IsPublished() {
		t.Fatal("fresh row should be unpublished")
	}
	if row.FinalAttempt(0) {
		t.Fatal("unlimited attempts never end")
	}
	row.AttemptCount = 4
	if !row.FinalAttempt(5) || row.FinalAttempt(6) {
		t.Fatalf("unexpected final attempt result for %d attempts", row.AttemptCount)
	}
	at := time.Now()
	row.PublishedAt = &at
	if !row.IsPublished() {
		t.Fatal("expected published")
	}
}
