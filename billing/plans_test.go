package billing

import (
	"testing"

	"github.com/nidohq/nido/store"
)

func TestLimitsFor_CancelledIsCappedNotUnlimited(t *testing.T) {
	got := LimitsFor(store.PlanCancelled)
	if got.MaxChildren == 0 || got.MaxStaff == 0 {
		t.Fatalf("cancelled limits = %+v; zero means unlimited and must not apply here", got)
	}
	trial := LimitsFor(store.PlanTrial)
	if got.MaxChildren > trial.MaxChildren || got.MaxStaff > trial.MaxStaff {
		t.Errorf("cancelled limits %+v exceed trial limits %+v", got, trial)
	}
}

func TestLimitsFor_EnterpriseIsUnlimited(t *testing.T) {
	got := LimitsFor(store.PlanEnterprise)
	if got.MaxChildren != 0 || got.MaxStaff != 0 {
		t.Errorf("enterprise limits = %+v, want unlimited", got)
	}
}
