package domain_test

import (
	"testing"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

func TestOpportunityIDStable(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := domain.OpportunityID("0xABC", "0xVaultA", "0xVaultB", at)
	b := domain.OpportunityID("0xabc", "0xvaulta", "0xvaultb", at)
	if a != b {
		t.Fatalf("id depends on address case: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("id length = %d, want 32", len(a))
	}

	c := domain.OpportunityID("0xabc", "0xvaulta", "0xvaultb", at.Add(time.Nanosecond))
	if a == c {
		t.Fatal("different creation times produced the same id")
	}
}

func TestOpportunitySlotIgnoresTime(t *testing.T) {
	o1 := domain.Opportunity{Account: "0xA", FromVault: "0xV1", ToVault: "0xV2", CreatedAt: time.Unix(1, 0)}
	o2 := domain.Opportunity{Account: "0xa", FromVault: "0xv1", ToVault: "0xv2", CreatedAt: time.Unix(99, 0)}
	if o1.Slot() != o2.Slot() {
		t.Fatalf("slots differ: %q vs %q", o1.Slot(), o2.Slot())
	}
}

func TestResultPartial(t *testing.T) {
	r := domain.Result{
		Steps: []domain.StepResult{
			{Step: domain.StepWithdraw, TxRef: "0x1"},
			{Step: domain.StepApprove, Error: "boom"},
		},
		FailedStep: domain.StepApprove,
	}
	if !r.Partial() {
		t.Fatal("expected partial failure")
	}
	if r.Ref(domain.StepWithdraw) != "0x1" {
		t.Fatalf("withdraw ref = %q", r.Ref(domain.StepWithdraw))
	}
	if (domain.Result{Success: true}).Partial() {
		t.Fatal("successful result reported partial")
	}
}
