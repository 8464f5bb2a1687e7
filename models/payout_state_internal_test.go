package models

import "testing"

func TestPayoutStateMachine(t *testing.T) {
	all := []PayoutStatus{PayoutStatusPending, PayoutStatusProcessing, PayoutStatusCompleted, PayoutStatusRejected}

	allowed := map[PayoutStatus]map[PayoutStatus]bool{
		PayoutStatusPending:    {PayoutStatusProcessing: true, PayoutStatusRejected: true},
		PayoutStatusProcessing: {PayoutStatusCompleted: true, PayoutStatusRejected: true},
		PayoutStatusCompleted:  {},
		PayoutStatusRejected:   {},
	}

	for _, from := range all {
		for _, to := range all {
			got := from.CanTransitionTo(to)
			if got != allowed[from][to] {
				t.Fatalf("CanTransitionTo(%s -> %s) = %v; want %v", from, to, got, allowed[from][to])
			}
		}
	}
}

func TestPayoutTerminalStates(t *testing.T) {
	if PayoutStatusPending.IsTerminal() || PayoutStatusProcessing.IsTerminal() {
		t.Fatal("pending/processing must not be terminal")
	}
	if !PayoutStatusCompleted.IsTerminal() || !PayoutStatusRejected.IsTerminal() {
		t.Fatal("completed/rejected must be terminal")
	}
	// no self-transition even for valid statuses
	for _, s := range []PayoutStatus{PayoutStatusPending, PayoutStatusProcessing} {
		if s.CanTransitionTo(s) {
			t.Fatalf("self transition allowed for %s", s)
		}
	}
}

func TestTransactionTypeDirection(t *testing.T) {
	if TransactionTypeCredit.IsOutgoing() {
		t.Fatal("credit must add funds")
	}
	if !TransactionTypeDebit.IsOutgoing() || !TransactionTypePayout.IsOutgoing() {
		t.Fatal("debit and payout must remove funds")
	}
	if TransactionType("refund").IsValid() {
		t.Fatal("unknown transaction type must be invalid")
	}
}
