package invoice

import "testing"

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusDraft, StatusNumbered, true},
		{StatusNumbered, StatusSigned, true},
		{StatusNumbered, StatusCompleted, true},
		{StatusSigned, StatusSent, true},
		{StatusDraft, StatusSigned, false},
		{StatusDraft, StatusSent, false},
		{StatusNumbered, StatusSent, false},
		{StatusSent, StatusSent, false},
		{StatusSent, StatusSigned, false},
		{StatusCompleted, StatusSigned, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.allowed, got)
		}
	}
}

func TestStatus_Flags(t *testing.T) {
	if StatusDraft.Numbered() {
		t.Error("draft must not count as numbered")
	}
	for _, s := range []Status{StatusNumbered, StatusSigned, StatusSent, StatusCompleted} {
		if !s.Numbered() {
			t.Errorf("%s must count as numbered", s)
		}
	}
	if !StatusSent.Terminal() || !StatusCompleted.Terminal() || StatusSigned.Terminal() {
		t.Error("unexpected terminal flags")
	}
	if Status("void").Valid() {
		t.Error("unknown status must be invalid")
	}
}

func TestInvoice_DeductionReason(t *testing.T) {
	inv := &Invoice{ID: 42}
	if got := inv.DeductionReason(3); got != "invoice:42:line:3" {
		t.Errorf("unexpected reason %q", got)
	}
}
